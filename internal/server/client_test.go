package server

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presence-relay/internal/broadcast"
	"github.com/Tyrowin/presence-relay/internal/domain"
)

func newTestHub(t *testing.T, mutate func(*Config)) *Hub {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewHub(broadcast.NewEngine(log), *cfg)
}

func drainFrames(c *Client) []map[string]any {
	var frames []map[string]any
	for {
		select {
		case raw := <-c.GetSendChan():
			var frame map[string]any
			if err := json.Unmarshal(raw, &frame); err == nil {
				frames = append(frames, frame)
			}
		default:
			return frames
		}
	}
}

// TestClientSendQueuesBatchInOrder verifies that one Send call queues one
// frame per event, in order.
func TestClientSendQueuesBatchInOrder(t *testing.T) {
	client := NewClient(nil, newTestHub(t, nil), "test")

	err := client.Send(domain.Join{Identity: "alice"}, domain.RosterSnapshot{Online: []string{"alice"}})
	require.NoError(t, err)

	frames := drainFrames(client)
	require.Len(t, frames, 2)
	assert.Equal(t, "user_joined", frames[0]["type"])
	assert.Equal(t, "online_users", frames[1]["type"])
}

// TestClientSendIsAllOrNothing verifies that a batch larger than the free
// buffer space is refused as a whole.
func TestClientSendIsAllOrNothing(t *testing.T) {
	client := NewClient(nil, newTestHub(t, func(c *Config) { c.SendBufferSize = 2 }), "test")

	err := client.Send(
		domain.Leave{Identity: "bob"},
		domain.Join{Identity: "alice"},
		domain.RosterSnapshot{Online: []string{"alice"}},
	)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailure)
	assert.Empty(t, drainFrames(client))

	require.NoError(t, client.Send(domain.Evicted{Identity: "alice"}))
	require.NoError(t, client.Send(domain.Evicted{Identity: "alice"}))
	assert.ErrorIs(t, client.Send(domain.Evicted{Identity: "alice"}), domain.ErrDeliveryFailure)
}

// TestClientSendAfterClose verifies that a closed client reports a delivery
// failure instead of panicking on the closed channel.
func TestClientSendAfterClose(t *testing.T) {
	client := NewClient(nil, newTestHub(t, nil), "test")

	require.NoError(t, client.Close())
	client.closeSend()

	assert.ErrorIs(t, client.Send(domain.Evicted{Identity: "alice"}), domain.ErrDeliveryFailure)
}

// TestClientIDsAreUnique verifies that every client gets its own identifier.
func TestClientIDsAreUnique(t *testing.T) {
	hub := newTestHub(t, nil)
	a := NewClient(nil, hub, "a")
	b := NewClient(nil, hub, "b")

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

// TestProcessMessage verifies that decoded frames reach the engine and that
// an undecodable frame ends the session.
func TestProcessMessage(t *testing.T) {
	hub := newTestHub(t, nil)
	client := NewClient(nil, hub, "test")
	hub.engine.OnConnect(client)

	assert.True(t, client.processMessage([]byte(`{"type":"join","username":"alice"}`)))
	assert.Equal(t, []string{"alice"}, hub.engine.Roster())

	frames := drainFrames(client)
	require.Len(t, frames, 3)
	assert.Equal(t, "user_joined", frames[0]["type"])
	assert.Equal(t, "online_users", frames[1]["type"])
	assert.Equal(t, "join_ack", frames[2]["type"])
	assert.Equal(t, "success", frames[2]["status"])

	assert.True(t, client.processMessage([]byte(`{"type":"message","message":"hi","timestamp":"t1"}`)))
	frames = drainFrames(client)
	require.Len(t, frames, 1)
	assert.Equal(t, "alice", frames[0]["username"])
	assert.Equal(t, "t1", frames[0]["timestamp"])

	assert.True(t, client.processMessage([]byte(`{"type":"message","message":"","timestamp":"t2"}`)))
	frames = drainFrames(client)
	require.Len(t, frames, 1)
	assert.Equal(t, "", frames[0]["message"])

	assert.False(t, client.processMessage([]byte(`not json`)))
	assert.False(t, client.processMessage([]byte(`{"type":"shout"}`)))
}

// TestCheckRateLimit verifies that frames beyond the burst are discarded.
func TestCheckRateLimit(t *testing.T) {
	client := NewClient(nil, newTestHub(t, func(c *Config) { c.RateLimit.Burst = 1 }), "test")

	assert.True(t, client.checkRateLimit())
	assert.False(t, client.checkRateLimit())
}

// TestRateLimitAppliesToChatOnly verifies that a client that exhausted its
// budget can still join and gets its acknowledgement, while further chat
// frames are discarded.
func TestRateLimitAppliesToChatOnly(t *testing.T) {
	hub := newTestHub(t, func(c *Config) { c.RateLimit.Burst = 1 })
	client := NewClient(nil, hub, "test")
	hub.engine.OnConnect(client)

	require.True(t, client.checkRateLimit())

	assert.True(t, client.processMessage([]byte(`{"type":"join","username":"alice"}`)))
	assert.Equal(t, []string{"alice"}, hub.engine.Roster())

	frames := drainFrames(client)
	require.Len(t, frames, 3)
	assert.Equal(t, "join_ack", frames[2]["type"])
	assert.Equal(t, "success", frames[2]["status"])

	assert.True(t, client.processMessage([]byte(`{"type":"message","message":"hi","timestamp":1}`)))
	assert.Empty(t, drainFrames(client))
}
