package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRateLimiterBurstAndRefill verifies that a bucket allows its burst,
// refuses the next frame, and refills at burst per interval.
func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	rl := newRateLimiter(RateLimitConfig{Burst: 2, RefillInterval: time.Second})
	rl.now = func() time.Time { return now }
	rl.lastCheck = now

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(10 * time.Second)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow(), "refill is capped at the burst size")
}

// TestRateLimiterFallsBackOnInvalidConfig verifies that non-positive settings
// still yield a working limiter.
func TestRateLimiterFallsBackOnInvalidConfig(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})

	assert.Equal(t, 1.0, rl.capacity)
	assert.Equal(t, 1.0, rl.rate)
	assert.True(t, rl.allow())
}
