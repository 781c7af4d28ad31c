package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.TradeApplied(1)
		m.MarketSettled("single")
		m.RemainderBurned(1)
		m.AlertRaised("rate_limit")
		m.WebhookAttempt("failed")
		m.WebhookFailed()
		m.MarketClosed()
		m.MarketAutoResolved()
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := metrics.New()
	m.MarketSettled("majority")
	m.MarketSettled("majority")
	m.RemainderBurned(2.5)
	m.RemainderBurned(0)
	m.WebhookFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Settlements().WithLabelValues("majority")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.BurnedRemainder()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookFailures()))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "prediclaw_settlements_total")
}
