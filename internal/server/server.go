// Package server constructs and starts the relay's HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// CreateServer creates and configures an HTTP server listening on cfg.Addr().
// Write timeouts are left to the WebSocket layer, which sets per-frame
// deadlines on hijacked connections.
func CreateServer(cfg *Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub starts hub's event loop in a separate goroutine. This should be
// called before starting the HTTP server.
func StartHub(hub *Hub) {
	go hub.Run()
	logrus.Debug("hub started and ready to manage WebSocket connections")
}

// StartServer starts the HTTP server and blocks until it exits. A graceful
// shutdown is not reported as an error.
func StartServer(server *http.Server) error {
	logrus.WithField("addr", server.Addr).Info("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	logrus.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown error")
		return err
	}

	logrus.Info("HTTP server shutdown completed")
	return nil
}
