// Package server coordinates WebSocket client lifecycles: it starts the pump
// goroutines, hands connects and disconnects to the broadcast engine, and
// closes every connection on shutdown.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-relay/internal/broadcast"
)

// Hub supervises the WebSocket clients of this process. Roster state lives in
// the broadcast engine; the hub only tracks which clients have running pumps.
type Hub struct {
	engine     *broadcast.Engine
	cfg        Config
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub that reports client lifecycles to engine.
func NewHub(engine *broadcast.Engine, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		engine:     engine,
		cfg:        cfg,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Engine returns the broadcast engine the hub reports to.
func (h *Hub) Engine() *broadcast.Engine {
	return h.engine
}

// Register hands a freshly upgraded client to the hub, which starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Unregister releases a client. After shutdown the release happens inline.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.release(client)
	}
}

// ClientCount returns the number of clients with running pumps.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.clients)
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				logrus.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()

			h.engine.OnConnect(client)
			client.log.WithField("clients", clientCount).Info("client connected")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.release(client)
		}
	}
}

// release removes a client and tells the engine it left. Releasing the same
// client twice is a no-op.
func (h *Hub) release(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}

	h.engine.OnDisconnect(client)
	client.closeSend()
	client.log.WithField("clients", clientCount).Info("client disconnected")
}

// shutdownClients closes every active connection; each read pump then
// unregisters its client.
func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if err := client.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.WithError(err).Warn("error closing client connection")
		}
	}

	logrus.WithField("clients", len(clients)).Info("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logrus.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		logrus.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
