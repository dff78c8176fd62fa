// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-relay/internal/domain"
	"github.com/Tyrowin/presence-relay/internal/protocol"
)

// Client is one WebSocket session. It implements domain.Connection: the
// broadcast engine queues frames through Send and the write pump drains them.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	cfg         Config
	rateLimiter *rateLimiter
	log         *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client for conn. The client's send channel is
// buffered according to Config.SendBufferSize.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		hub:         hub,
		addr:        addr,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		log:         logrus.WithFields(logrus.Fields{"conn_id": id, "remote_addr": addr}),
	}
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Client) ID() string {
	return c.id
}

// Send encodes events and queues them as one contiguous run of frames. It
// never blocks: a closed client or a send buffer without room for the whole
// batch is a delivery failure.
func (c *Client) Send(events ...domain.Event) error {
	frames := make([][]byte, 0, len(events))
	for _, evt := range events {
		frame, err := protocol.Encode(evt)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
		}
		frames = append(frames, frame)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: connection closed", domain.ErrDeliveryFailure)
	}
	if cap(c.send)-len(c.send) < len(frames) {
		return fmt.Errorf("%w: send buffer full", domain.ErrDeliveryFailure)
	}

	for _, frame := range frames {
		c.send <- frame
	}
	return nil
}

// Close tears down the underlying connection. The read pump notices and
// routes the client through the regular unregister path.
func (c *Client) Close() error {
	if c.conn == nil {
		c.closeSend()
		return nil
	}
	return c.conn.Close()
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// closeSend stops the write pump. Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setupReadConnection configures read deadlines and the pong handler when
// keepalive is enabled.
func (c *Client) setupReadConnection() {
	if c.cfg.PingInterval <= 0 {
		return
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.WithError(err).Warn("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.log.WithError(err).Warn("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs a read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.WithField("limit", c.cfg.MaxMessageSize).Warn("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.WithError(err).Debug("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.WithError(err).Debug("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.WithError(err).Warn("unexpected WebSocket close")
	default:
		c.log.WithError(err).Info("WebSocket read error")
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.WithFields(logrus.Fields{
			"burst":    c.cfg.RateLimit.Burst,
			"interval": c.cfg.RateLimit.RefillInterval,
		}).Warn("rate limit exceeded; discarding frame")
		return false
	}
	return true
}

// processMessage decodes one inbound frame and hands it to the engine. Chat
// frames are subject to the rate limit; join frames are not, so a joining
// client always gets its acknowledgement. It returns false when the frame
// can not be decoded, which ends the session.
func (c *Client) processMessage(raw []byte) bool {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		c.log.WithError(err).Warn("closing connection after undecodable frame")
		return false
	}

	engine := c.hub.engine
	switch cmd.Type {
	case protocol.TypeJoin:
		_ = engine.OnJoin(c, cmd.Username)
	case protocol.TypeMessage:
		if !c.checkRateLimit() {
			return true
		}
		if err := engine.OnChat(c, cmd.Message, cmd.Timestamp); err != nil {
			c.log.WithError(err).Debug("message dropped")
		}
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.processMessage(raw) {
			return
		}
	}
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.closeConnection()

	for c.processWriteEvent(tick) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(tick <-chan time.Time) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-tick:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Warn("error closing connection in writePump")
	}
}

// handleMessage processes outgoing frames and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.WithError(err).Debug("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("error writing close message")
	}
	return false
}

// writeTextMessage writes a frame and coalesces any frames already queued,
// one per line.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.WithError(err).Debug("error creating writer")
		return false
	}

	if !c.writeMessageContent(w, message) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

// writeMessageContent writes the main frame content
func (c *Client) writeMessageContent(w io.WriteCloser, message []byte) bool {
	if _, err := w.Write(message); err != nil {
		c.log.WithError(err).Debug("error writing frame")
		return false
	}
	return true
}

// writeQueuedMessages writes any additional queued frames
func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			c.closeWriter(w)
			return c.writeCloseMessage()
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.WithError(err).Debug("error writing newline")
			return false
		}
		if !c.writeMessageContent(w, message) {
			return false
		}
	}
	return true
}

// closeWriter closes the message writer
func (c *Client) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		c.log.WithError(err).Debug("error closing writer")
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.WithError(err).Debug("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Debug("error writing ping")
		return false
	}
	return true
}
