// Package broadcast turns transport lifecycle events into registry updates
// and fans the resulting domain events out to every live connection.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/presence-relay/internal/domain"
	"github.com/Tyrowin/presence-relay/internal/registry"
)

const usernameRequired = "Username is required"

// Engine is the single broadcast point of the process. Registry mutation and
// the enqueueing of the resulting events happen under one lock, so every
// connection sees roster changes in the same order.
type Engine struct {
	mu       sync.Mutex
	registry *registry.Registry[domain.Connection]
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewEngine returns an Engine with an empty registry. A nil logger falls back
// to the logrus standard logger.
func NewEngine(log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		registry: registry.New[domain.Connection](),
		log:      log,
		now:      time.Now,
	}
}

// OnConnect attaches a transport session. The roster does not change until
// the connection joins.
func (e *Engine) OnConnect(conn domain.Connection) {
	e.mu.Lock()
	e.registry.Attach(conn)
	e.mu.Unlock()

	e.log.WithField("conn_id", conn.ID()).Debug("connection attached")
}

// OnJoin claims identity for conn and announces it to every connection,
// conn included. An empty identity is answered to conn alone and returns
// registry.ErrInvalidIdentity.
func (e *Engine) OnJoin(conn domain.Connection, identity string) error {
	e.mu.Lock()

	res, err := e.registry.Register(conn, identity)
	if err != nil {
		failed := e.fanout([]domain.Connection{conn}, domain.JoinAck{Message: usernameRequired})
		e.mu.Unlock()

		e.log.WithField("conn_id", conn.ID()).Info("join rejected: empty username")
		e.drop(failed)
		return err
	}

	batch := make([]domain.Event, 0, 3)
	if res.Replaced != "" {
		batch = append(batch, domain.Leave{Identity: res.Replaced})
	}
	batch = append(batch,
		domain.Join{Identity: res.Identity},
		domain.RosterSnapshot{Online: res.Roster},
	)

	failed := e.fanout(res.Members, batch...)
	failed = append(failed, e.fanout([]domain.Connection{conn}, domain.JoinAck{OK: true, Online: res.Roster})...)
	if res.HasEvicted {
		failed = append(failed, e.fanout([]domain.Connection{res.Evicted}, domain.Evicted{Identity: res.Identity})...)
	}
	e.mu.Unlock()

	entry := e.log.WithFields(logrus.Fields{
		"conn_id":    conn.ID(),
		"username":   res.Identity,
		"online":     len(res.Roster),
		"recipients": len(res.Members),
	})
	if res.HasEvicted {
		entry = entry.WithField("evicted_conn_id", res.Evicted.ID())
	}
	entry.Info("user joined")

	e.drop(lo.Uniq(failed))
	return nil
}

// OnChat relays content from the identity conn has joined as to every
// connection, sender included. Messages from connections that never joined
// are dropped with registry.ErrNotRegistered.
func (e *Engine) OnChat(conn domain.Connection, content string, timestamp json.RawMessage) error {
	e.mu.Lock()

	sender, ok := e.registry.Lookup(conn)
	if !ok {
		e.mu.Unlock()
		e.log.WithField("conn_id", conn.ID()).Debug("dropping message from connection that has not joined")
		return registry.ErrNotRegistered
	}
	if len(timestamp) == 0 {
		timestamp = e.stamp()
	}

	members := e.registry.Members()
	failed := e.fanout(members, domain.Chat{Sender: sender, Content: content, Timestamp: timestamp})
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"username":   sender,
		"recipients": len(members),
	}).Debug("message relayed")

	e.drop(failed)
	return nil
}

// OnDisconnect releases conn. When it had joined, the remaining connections
// learn that its identity left.
func (e *Engine) OnDisconnect(conn domain.Connection) {
	e.mu.Lock()

	res, err := e.registry.Unregister(conn)
	if err != nil {
		e.mu.Unlock()
		e.log.WithField("conn_id", conn.ID()).Debug("connection closed without an identity")
		return
	}

	failed := e.fanout(res.Members,
		domain.Leave{Identity: res.Identity},
		domain.RosterSnapshot{Online: res.Roster},
	)
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"conn_id":  conn.ID(),
		"username": res.Identity,
		"online":   len(res.Roster),
	}).Info("user left")

	e.drop(failed)
}

// Roster returns the online identities, sorted.
func (e *Engine) Roster() []string {
	return e.registry.Snapshot()
}

// Online returns the number of attached connections, joined or not.
func (e *Engine) Online() int {
	return e.registry.Len()
}

// fanout must be called with mu held. It returns the recipients whose
// Send failed.
func (e *Engine) fanout(recipients []domain.Connection, events ...domain.Event) []domain.Connection {
	var failed []domain.Connection
	for _, conn := range recipients {
		if err := conn.Send(events...); err != nil {
			e.log.WithError(err).WithField("conn_id", conn.ID()).Warn("delivery failed")
			failed = append(failed, conn)
		}
	}
	return failed
}

// drop closes connections that could not be delivered to and routes them
// through the regular disconnect path. It must be called without mu held.
func (e *Engine) drop(conns []domain.Connection) {
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			e.log.WithError(err).WithField("conn_id", conn.ID()).Debug("close after delivery failure")
		}
		e.OnDisconnect(conn)
	}
}

func (e *Engine) stamp() json.RawMessage {
	ts, _ := json.Marshal(e.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	return ts
}
