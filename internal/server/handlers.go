// Package server exposes HTTP handlers: the WebSocket upgrade endpoint and
// the static info endpoint.
package server

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const infoMessage = "Presence Relay API"

func newUpgrader(origins *originPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
}

// WebSocketHandler upgrades GET requests to WebSocket and hands the new
// client to hub, which starts its read and write pumps.
func WebSocketHandler(hub *Hub, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if err := hub.Register(client); err != nil {
			client.log.WithError(err).Warn("rejecting client")
			_ = conn.Close()
		}
	}
}

// InfoHandler serves the static liveness payload.
func InfoHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, infoResponse{Message: infoMessage})
}
