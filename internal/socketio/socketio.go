// Package socketio serves the event-style wire shape of the legacy chat
// client over Socket.IO. Sockets join the same registry as WebSocket
// clients, so both transports share one roster.
//
// Client events: "join" {username} with an acknowledgement callback, and
// "message" {message, timestamp}. Server events: "user_joined" and
// "user_left" {username, online_users}, "message" {username, message,
// timestamp}, plus "online_users" and "evicted".
package socketio

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	sio "github.com/zishang520/socket.io/v2/socket"

	"github.com/Tyrowin/presence-relay/internal/broadcast"
	"github.com/Tyrowin/presence-relay/internal/domain"
	"github.com/Tyrowin/presence-relay/internal/protocol"
)

// Adapter owns the Socket.IO server and forwards socket lifecycles to the engine.
type Adapter struct {
	srv    *sio.Server
	engine *broadcast.Engine
}

// Options configures the Socket.IO endpoint.
type Options struct {
	Path           string
	MaxMessageSize int64
	// AllowedOrigins takes the same values as the WebSocket allow list;
	// "*" admits any origin.
	AllowedOrigins []string
}

// New creates a Socket.IO server mounted at opts.Path. The endpoint answers
// CORS itself, so it must be routed outside the HTTP CORS middleware.
func New(engine *broadcast.Engine, opts Options) *Adapter {
	serverOpts := sio.DefaultServerOptions()
	serverOpts.SetPath(opts.Path)
	serverOpts.SetMaxHttpBufferSize(opts.MaxMessageSize)
	serverOpts.SetAllowEIO3(true)
	serverOpts.SetCors(&types.Cors{
		Origin:      corsOrigin(opts.AllowedOrigins),
		Credentials: true,
	})

	a := &Adapter{
		srv:    sio.NewServer(nil, serverOpts),
		engine: engine,
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	a.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*sio.Socket)
		if !ok {
			return
		}
		a.attach(socket)
	})

	return a
}

// corsOrigin converts an allow list into the engine's origin option: true
// reflects any request origin, a list admits exact matches only.
func corsOrigin(origins []string) any {
	allowed := make([]any, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			return true
		default:
			allowed = append(allowed, origin)
		}
	}
	return allowed
}

// Handler returns the HTTP handler serving the Socket.IO endpoint.
func (a *Adapter) Handler() http.Handler {
	return a.srv.ServeHandler(nil)
}

// Close disconnects every socket.
func (a *Adapter) Close() {
	a.srv.Close(nil)
}

func (a *Adapter) attach(socket *sio.Socket) {
	conn := newConnection(string(socket.Id()), socket.Emit, func() { socket.Disconnect(true) })
	a.engine.OnConnect(conn)
	conn.log.Info("socket.io client connected")

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("join", func(datas ...any) {
		ack, args := extractAck(datas)
		conn.handleJoin(a.engine, firstObject(args), ack)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("message", func(datas ...any) {
		_, args := extractAck(datas)
		conn.handleMessage(a.engine, firstObject(args))
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("disconnect", func(...any) {
		a.engine.OnDisconnect(conn)
		conn.log.Info("socket.io client disconnected")
	})
}

// connection adapts one socket to domain.Connection.
type connection struct {
	id         string
	emit       func(event string, args ...any) error
	disconnect func()
	log        *logrus.Entry

	mu  sync.Mutex
	ack ackInvoker
}

func newConnection(id string, emit func(string, ...any) error, disconnect func()) *connection {
	return &connection{
		id:         id,
		emit:       emit,
		disconnect: disconnect,
		log:        logrus.WithFields(logrus.Fields{"conn_id": id, "transport": "socket.io"}),
	}
}

func (c *connection) ID() string { return c.id }

func (c *connection) Close() error {
	c.disconnect()
	return nil
}

// handleJoin keeps the acknowledgement callback for the duration of the join
// so the engine's JoinAck answers it instead of emitting an event.
func (c *connection) handleJoin(engine *broadcast.Engine, payload map[string]any, ack ackInvoker) {
	c.mu.Lock()
	c.ack = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.ack = nil
		c.mu.Unlock()
	}()

	_ = engine.OnJoin(c, stringField(payload, "username"))
}

func (c *connection) handleMessage(engine *broadcast.Engine, payload map[string]any) {
	var timestamp json.RawMessage
	if ts, ok := payload["timestamp"]; ok && ts != nil {
		if raw, err := json.Marshal(ts); err == nil {
			timestamp = raw
		}
	}

	if err := engine.OnChat(c, stringField(payload, "message"), timestamp); err != nil {
		c.log.WithError(err).Debug("message dropped")
	}
}

// Send maps one batch of events onto the legacy event names. A Join or Leave
// is emitted together with the roster snapshot of the same batch.
func (c *connection) Send(events ...domain.Event) error {
	var (
		joined, left string
		online       []string
		hasRoster    bool
		emits        []func() error
	)

	for _, evt := range events {
		switch e := evt.(type) {
		case domain.Join:
			joined = e.Identity
		case domain.Leave:
			left = e.Identity
		case domain.RosterSnapshot:
			online, hasRoster = e.Online, true
		case domain.Chat:
			payload := map[string]any{
				"username":  e.Sender,
				"message":   e.Content,
				"timestamp": e.Timestamp,
			}
			emits = append(emits, func() error { return c.emit("message", payload) })
		case domain.JoinAck:
			emits = append(emits, func() error { return c.answer(e) })
		case domain.Evicted:
			payload := map[string]any{"username": e.Identity}
			emits = append(emits, func() error { return c.emit(string(protocol.TypeEvicted), payload) })
		default:
			return fmt.Errorf("%w: %w %T", domain.ErrDeliveryFailure, protocol.ErrUnknownType, evt)
		}
	}

	if online == nil {
		online = []string{}
	}
	if left != "" {
		if err := c.emit("user_left", map[string]any{"username": left, "online_users": online}); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
		}
	}
	if joined != "" {
		if err := c.emit("user_joined", map[string]any{"username": joined, "online_users": online}); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
		}
	}
	if hasRoster && joined == "" && left == "" {
		if err := c.emit(string(protocol.TypeOnlineUsers), map[string]any{"online_users": online}); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
		}
	}

	for _, emit := range emits {
		if err := emit(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
		}
	}
	return nil
}

// answer invokes the pending acknowledgement callback, or emits the ack as
// an event for clients that did not pass one.
func (c *connection) answer(ack domain.JoinAck) error {
	payload := map[string]any{"status": protocol.StatusSuccess, "online_users": ack.Online}
	if !ack.OK {
		payload = map[string]any{"status": protocol.StatusError, "message": ack.Message}
	}

	c.mu.Lock()
	invoke := c.ack
	c.ack = nil
	c.mu.Unlock()

	if invoke != nil {
		invoke(payload)
		return nil
	}
	return c.emit(string(protocol.TypeJoinAck), payload)
}
