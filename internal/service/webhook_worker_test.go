package service_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/crypto"
	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/service"
)

type capturedRequest struct {
	body      []byte
	signature string
	ctype     string
}

// receiver is a webhook endpoint answering with status and recording every
// request.
type receiver struct {
	status atomic.Int32
	hits   atomic.Int32

	mu       sync.Mutex
	requests []capturedRequest
}

func newReceiver(t *testing.T, status int) (*receiver, *httptest.Server) {
	t.Helper()
	r := &receiver{}
	r.status.Store(int32(status))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.hits.Add(1)
		r.mu.Lock()
		r.requests = append(r.requests, capturedRequest{
			body:      body,
			signature: req.Header.Get(crypto.SignatureHeader),
			ctype:     req.Header.Get("Content-Type"),
		})
		r.mu.Unlock()
		w.WriteHeader(int(r.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *receiver) last() capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func newWorker(h *harness, maxAttempts int) *service.WebhookWorker {
	return service.NewWebhookWorker(h.store, nil, service.WebhookWorkerConfig{
		BaseBackoff:   time.Second,
		MaxAttempts:   maxAttempts,
		Timeout:       5 * time.Second,
		RatePerSecond: 1000,
	}, h.metrics, discardLogger())
}

func TestWebhookWorkerDeliversSignedEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcv, srv := newReceiver(t, http.StatusOK)
	a := h.bot(t, "alpha", 50)
	hook, err := h.webhooks.RegisterWebhook(ctx, a.ID, srv.URL+"/hook", []domain.EventType{domain.EventMarketCreated})
	require.NoError(t, err)

	m := h.market(t, a, domain.ResolverSingle)
	h.trade(t, a, m, "YES", 5) // price_changed is not subscribed

	worker := newWorker(h, 3)
	report, err := worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.DeliveryReport{Attempted: 1, Delivered: 1}, report)

	req := rcv.last()
	assert.Equal(t, "application/json", req.ctype)
	assert.True(t, crypto.VerifyPayload(a.APIKey, req.body, req.signature))

	var body struct {
		ID        string       `json:"id"`
		WebhookID string       `json:"webhook_id"`
		EventType string       `json:"event_type"`
		Event     domain.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, hook.ID, body.WebhookID)
	assert.Equal(t, "market_created", body.EventType)
	assert.Equal(t, m.ID, body.Event.MarketID)

	outbox, err := h.webhooks.ListOutbox(ctx, a.ID, hook.ID)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, body.ID, outbox[0].ID)
	assert.Equal(t, domain.OutboxDelivered, outbox[0].Status)
	assert.Equal(t, 1, outbox[0].Attempts)
	require.NotNil(t, outbox[0].DeliveredAt)

	report, err = worker.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted, "delivered entries are not retried")
}

func TestWebhookWorkerBacksOffAndFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcv, srv := newReceiver(t, http.StatusInternalServerError)
	a := h.bot(t, "alpha", 50)
	hook, err := h.webhooks.RegisterWebhook(ctx, a.ID, srv.URL, []domain.EventType{domain.EventMarketCreated})
	require.NoError(t, err)
	h.market(t, a, domain.ResolverSingle)

	worker := newWorker(h, 3)
	tick := func() service.DeliveryReport {
		t.Helper()
		report, err := worker.Tick(ctx)
		require.NoError(t, err)
		return report
	}

	assert.Equal(t, service.DeliveryReport{Attempted: 1, Retrying: 1}, tick())
	assert.Zero(t, tick().Attempted, "not due before the first backoff")

	h.clock.Advance(time.Second)
	assert.Equal(t, service.DeliveryReport{Attempted: 1, Retrying: 1}, tick())

	h.clock.Advance(time.Second)
	assert.Zero(t, tick().Attempted, "second backoff doubles")
	h.clock.Advance(time.Second)
	assert.Equal(t, service.DeliveryReport{Attempted: 1, Failed: 1}, tick())

	h.clock.Advance(time.Hour)
	assert.Zero(t, tick().Attempted, "failed entries are never retried")
	assert.Equal(t, int32(3), rcv.hits.Load())

	outbox, err := h.webhooks.ListOutbox(ctx, a.ID, hook.ID)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.OutboxFailed, outbox[0].Status)
	assert.Equal(t, 3, outbox[0].Attempts)
	assert.Equal(t, http.StatusInternalServerError, outbox[0].LastStatusCode)
	assert.NotEmpty(t, outbox[0].LastError)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhookFailures()))
}

func TestWebhookWorkerRecoversAfterRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcv, srv := newReceiver(t, http.StatusServiceUnavailable)
	a := h.bot(t, "alpha", 50)
	hook, err := h.webhooks.RegisterWebhook(ctx, a.ID, srv.URL, nil)
	require.NoError(t, err)
	h.market(t, a, domain.ResolverSingle)

	worker := newWorker(h, 5)
	report, err := worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retrying)

	rcv.status.Store(http.StatusNoContent)
	h.clock.Advance(time.Second)
	report, err = worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	outbox, err := h.webhooks.ListOutbox(ctx, a.ID, hook.ID)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.OutboxDelivered, outbox[0].Status)
	assert.Equal(t, 2, outbox[0].Attempts)
	assert.Empty(t, outbox[0].LastError)
}

func TestWebhookWorkerSkipsDeletedWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rcv, srv := newReceiver(t, http.StatusOK)
	a := h.bot(t, "alpha", 50)
	hook, err := h.webhooks.RegisterWebhook(ctx, a.ID, srv.URL, nil)
	require.NoError(t, err)
	h.market(t, a, domain.ResolverSingle)

	require.NoError(t, h.webhooks.DeleteWebhook(ctx, a.ID, hook.ID))

	report, err := newWorker(h, 3).Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Zero(t, rcv.hits.Load())
}

func TestWebhookWorkerRunDeliversImmediately(t *testing.T) {
	h := newHarness(t)
	rcv, srv := newReceiver(t, http.StatusOK)
	a := h.bot(t, "alpha", 50)
	_, err := h.webhooks.RegisterWebhook(context.Background(), a.ID, srv.URL, []domain.EventType{domain.EventMarketCreated})
	require.NoError(t, err)
	h.market(t, a, domain.ResolverSingle)

	worker := service.NewWebhookWorker(h.store, nil, service.WebhookWorkerConfig{
		PollInterval:  time.Hour,
		Timeout:       5 * time.Second,
		RatePerSecond: 1000,
	}, h.metrics, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	assert.Eventually(t, func() bool { return rcv.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
