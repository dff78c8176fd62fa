// Package server wires HTTP handlers into a chi router for the relay.
package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the info endpoint, the WebSocket endpoint and,
// when socketIO is not nil, the Socket.IO endpoint at Config.SocketIO.Path.
func SetupRoutes(hub *Hub, socketIO http.Handler) *chi.Mux {
	origins := newOriginPolicy(hub.cfg.AllowedOrigins)
	socketPrefix := strings.TrimSuffix(hub.cfg.SocketIO.Path, "/") + "/"

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// The Socket.IO server answers CORS for its own endpoint.
	r.Use(middleware.Maybe(cors.Handler(cors.Options{
		AllowedOrigins:   origins.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}), func(r *http.Request) bool {
		return socketIO == nil || !strings.HasPrefix(r.URL.Path, socketPrefix)
	}))

	r.Get("/", InfoHandler)
	r.Get("/ws", WebSocketHandler(hub, newUpgrader(origins)))

	if socketIO != nil {
		r.Handle(socketPrefix, socketIO)
	}

	return r
}
