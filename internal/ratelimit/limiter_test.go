package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	l := NewLimiter(3)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d should be allowed within burst", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestLimiter_TracksKeysIndependently(t *testing.T) {
	l := NewLimiter(1)
	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestLimiter_ZeroOrNegativeDisablesLimiting(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("anyone"))
	}
}

func TestLimiter_EvictRemovesIdleBuckets(t *testing.T) {
	l := NewLimiter(1)
	l.idleAfter = time.Millisecond
	l.Allow("stale-client")
	time.Sleep(5 * time.Millisecond)

	l.Evict()

	l.mu.Lock()
	_, exists := l.buckets["stale-client"]
	l.mu.Unlock()
	assert.False(t, exists)
}

func TestClientKey_StripsPort(t *testing.T) {
	r := &http.Request{RemoteAddr: "203.0.113.5:54321"}
	assert.Equal(t, "203.0.113.5", ClientKey(r))
}

func TestClientKey_FallsBackToRawRemoteAddrWithoutPort(t *testing.T) {
	r := &http.Request{RemoteAddr: "not-a-host-port"}
	assert.Equal(t, "not-a-host-port", ClientKey(r))
}
