package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaced(t *testing.T) {
	assert.Equal(t, "window:bot:b1", namespaced("", "window", "bot:b1"))
	assert.Equal(t, "prediclaw:lock:market:m1", namespaced("prediclaw", "lock", "market:m1"))
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("events"))
	assert.True(t, hasPattern("events.*"))
	assert.True(t, hasPattern("bot.?"))
}

func TestDecodeWindowResult(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := decodeWindowResult("k", []int64{1, 3, now.UnixMicro()})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Count)
	assert.True(t, now.Equal(res.Oldest))

	res, err = decodeWindowResult("k", []int64{0, 5, now.UnixMicro()})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	_, err = decodeWindowResult("k", []int64{1})
	assert.Error(t, err)
}

// liveClient connects to PREDICLAW_TEST_REDIS_ADDR or skips.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PREDICLAW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PREDICLAW_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "prediclaw-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWindowCounterLive(t *testing.T) {
	c := liveClient(t)
	wc := NewWindowCounter(c)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		res, err := wc.Hit(ctx, "bot:b1", 2, time.Minute, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := wc.Hit(ctx, "bot:b1", 2, time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Count)

	res, err = wc.Hit(ctx, "bot:b1", 2, time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockManagerLive(t *testing.T) {
	c := liveClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(context.Background(), "market:m1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = lm.Acquire(ctx, "market:m1", time.Minute)
	assert.Error(t, err)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(context.Background(), "market:m1", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestSignalBusLive(t *testing.T) {
	c := liveClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx, "events")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "events", []byte(`{"seq":1}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"seq":1}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
