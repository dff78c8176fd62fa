// Package server defines shared payload types and utility helpers that are
// reused across client, hub, and handler logic.
package server

import (
	"errors"
	"strings"
)

// ErrHubClosed is returned when a client is offered to a hub that has shut down.
var ErrHubClosed = errors.New("hub closed")

// infoResponse is the static payload served at the root path.
type infoResponse struct {
	Message string `json:"message"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
