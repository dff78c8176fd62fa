// Package server implements the HTTP and WebSocket transport of the presence relay.
//
// The implementation is organized into specialized files for configuration,
// client supervision, clients, routing, and HTTP handlers. Roster state and
// fan-out live in the broadcast package; this package only moves frames
// between sockets and the broadcast engine.
package server
