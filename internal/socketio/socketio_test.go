package socketio

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presence-relay/internal/broadcast"
	"github.com/Tyrowin/presence-relay/internal/domain"
)

type emitted struct {
	event   string
	payload map[string]any
}

// fakeSocket records emits the way a Socket.IO socket would receive them.
type fakeSocket struct {
	mu           sync.Mutex
	emits        []emitted
	err          error
	disconnected bool
}

func (f *fakeSocket) emit(event string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	payload, _ := args[0].(map[string]any)
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeSocket) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeSocket) events() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func newFake(id string) (*fakeSocket, *connection) {
	f := &fakeSocket{}
	return f, newConnection(id, f.emit, f.disconnect)
}

func newTestEngine() *broadcast.Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return broadcast.NewEngine(log)
}

func TestSendJoinBatch(t *testing.T) {
	f, conn := newFake("s1")

	err := conn.Send(domain.Join{Identity: "alice"}, domain.RosterSnapshot{Online: []string{"alice", "bob"}})
	require.NoError(t, err)

	assert.Equal(t, []emitted{{
		event:   "user_joined",
		payload: map[string]any{"username": "alice", "online_users": []string{"alice", "bob"}},
	}}, f.events())
}

func TestSendLeaveBatch(t *testing.T) {
	f, conn := newFake("s1")

	require.NoError(t, conn.Send(domain.Leave{Identity: "bob"}, domain.RosterSnapshot{}))

	assert.Equal(t, []emitted{{
		event:   "user_left",
		payload: map[string]any{"username": "bob", "online_users": []string{}},
	}}, f.events())
}

func TestSendChat(t *testing.T) {
	f, conn := newFake("s1")

	require.NoError(t, conn.Send(domain.Chat{Sender: "alice", Content: "hi", Timestamp: json.RawMessage(`1`)}))

	events := f.events()
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].event)
	assert.Equal(t, "alice", events[0].payload["username"])
	assert.Equal(t, "hi", events[0].payload["message"])
	assert.Equal(t, json.RawMessage(`1`), events[0].payload["timestamp"])
}

func TestSendWrapsEmitErrors(t *testing.T) {
	f, conn := newFake("s1")
	f.err = errors.New("transport closed")

	err := conn.Send(domain.Evicted{Identity: "alice"})
	assert.ErrorIs(t, err, domain.ErrDeliveryFailure)
}

func TestJoinAckWithoutCallbackIsEmitted(t *testing.T) {
	f, conn := newFake("s1")

	require.NoError(t, conn.Send(domain.JoinAck{Message: "Username is required"}))
	assert.Equal(t, []emitted{{
		event:   "join_ack",
		payload: map[string]any{"status": "error", "message": "Username is required"},
	}}, f.events())
}

// TestJoinAnswersAcknowledgement drives a join through the engine and checks
// that the client callback gets the legacy success payload.
func TestJoinAnswersAcknowledgement(t *testing.T) {
	engine := newTestEngine()
	f, conn := newFake("s1")
	engine.OnConnect(conn)

	var got []any
	callback := func(args []any, err error) {
		assert.NoError(t, err)
		got = args
	}
	ack, args := extractAck([]any{map[string]any{"username": "alice"}, callback})
	require.NotNil(t, ack)

	conn.handleJoin(engine, firstObject(args), ack)

	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"status": "success", "online_users": []string{"alice"}}, got[0])
	assert.Equal(t, []emitted{{
		event:   "user_joined",
		payload: map[string]any{"username": "alice", "online_users": []string{"alice"}},
	}}, f.events())
}

func TestJoinWithoutUsernameAnswersError(t *testing.T) {
	engine := newTestEngine()
	f, conn := newFake("s1")
	engine.OnConnect(conn)

	var got map[string]any
	ack, _ := extractAck([]any{map[string]any{}, func(args ...any) { got, _ = args[0].(map[string]any) }})
	conn.handleJoin(engine, map[string]any{}, ack)

	assert.Equal(t, map[string]any{"status": "error", "message": "Username is required"}, got)
	assert.Empty(t, f.events())
	assert.Empty(t, engine.Roster())
}

func TestMessageBeforeJoinIsDropped(t *testing.T) {
	engine := newTestEngine()
	f, conn := newFake("s1")
	engine.OnConnect(conn)

	conn.handleMessage(engine, map[string]any{"message": "hi", "timestamp": "2024-01-01T00:00:00.000Z"})
	assert.Empty(t, f.events())
}

func TestMessageRelaysTimestampVerbatim(t *testing.T) {
	engine := newTestEngine()
	f, conn := newFake("s1")
	conn.handleJoin(engine, map[string]any{"username": "alice"}, nil)

	conn.handleMessage(engine, map[string]any{"message": "hi", "timestamp": "2024-01-01T00:00:00.000Z"})

	events := f.events()
	last := events[len(events)-1]
	assert.Equal(t, "message", last.event)
	assert.Equal(t, json.RawMessage(`"2024-01-01T00:00:00.000Z"`), last.payload["timestamp"])
}

func TestCorsOrigin(t *testing.T) {
	assert.Equal(t, []any{"http://localhost:5173", "http://a.example"},
		corsOrigin([]string{" http://localhost:5173/", "", "http://a.example"}))
	assert.Equal(t, true, corsOrigin([]string{"http://a.example", "*"}))
}

func TestExtractAck(t *testing.T) {
	ack, args := extractAck([]any{"room"})
	assert.Nil(t, ack)
	assert.Equal(t, []any{"room"}, args)

	ack, args = extractAck(nil)
	assert.Nil(t, ack)
	assert.Empty(t, args)
}

// TestFailedSocketIsDisconnected checks that a socket whose emits fail is
// closed and dropped from the roster while the other member still hears it.
func TestFailedSocketIsDisconnected(t *testing.T) {
	engine := newTestEngine()
	good, goodConn := newFake("good")
	bad, badConn := newFake("bad")

	goodConn.handleJoin(engine, map[string]any{"username": "alice"}, nil)
	badConn.handleJoin(engine, map[string]any{"username": "bob"}, nil)

	bad.mu.Lock()
	bad.err = errors.New("gone")
	bad.mu.Unlock()

	goodConn.handleMessage(engine, map[string]any{"message": "hi", "timestamp": 1})

	assert.True(t, bad.disconnected)
	assert.Equal(t, []string{"alice"}, engine.Roster())

	events := good.events()
	last := events[len(events)-1]
	assert.Equal(t, "user_left", last.event)
	assert.Equal(t, "bob", last.payload["username"])
}
