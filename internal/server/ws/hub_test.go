package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/store/memory"
)

// notifyingBus signals once the hub has subscribed.
type notifyingBus struct {
	*memory.SignalBus
	subscribed chan struct{}
}

func (b *notifyingBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch, err := b.SignalBus.Subscribe(ctx, channel)
	close(b.subscribed)
	return ch, err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubStreamsEvents(t *testing.T) {
	bus := &notifyingBus{SignalBus: memory.NewSignalBus(), subscribed: make(chan struct{})}
	hub := NewHub(bus, testLogger(), Config{Mode: "full"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	<-bus.subscribed

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, "hello", hello.Type)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(domain.Event{ID: "e-1", Type: domain.EventMarketCreated, MarketID: "m-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "events", payload))

	env := readEnvelope(t, conn)
	assert.Equal(t, "event", env.Type)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "e-1", data["id"])
	assert.Equal(t, "market_created", data["event_type"])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestClientFilters(t *testing.T) {
	c := &client{
		types:   make(map[domain.EventType]bool),
		markets: make(map[string]bool),
	}
	created := domain.Event{Type: domain.EventMarketCreated, MarketID: "m-1"}
	priced := domain.Event{Type: domain.EventPriceChanged, MarketID: "m-2"}

	assert.True(t, c.wants(created))
	assert.True(t, c.wants(priced))

	c.applyFilter(filterMsg{Action: "subscribe", MarketIDs: []string{"m-2"}})
	assert.False(t, c.wants(created))
	assert.True(t, c.wants(priced))

	c.applyFilter(filterMsg{Action: "subscribe", EventTypes: []domain.EventType{domain.EventMarketResolved}})
	assert.False(t, c.wants(priced))

	c.applyFilter(filterMsg{Action: "unsubscribe", EventTypes: []domain.EventType{domain.EventMarketResolved}, MarketIDs: []string{"m-2"}})
	assert.True(t, c.wants(created))
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(memory.NewSignalBus(), testLogger(), Config{AllowedOrigins: []string{"https://ok.example"}})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(r))

	r.Header.Set("Origin", "https://ok.example")
	assert.True(t, hub.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(r))
}
