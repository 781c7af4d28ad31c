// Package metrics exposes the engine's Prometheus counters. Every method is
// safe to call on a nil *Metrics so components can run without metrics in
// tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prediclaw"

// Metrics holds the engine counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	trades             prometheus.Counter
	tradeVolume        prometheus.Counter
	settlements        *prometheus.CounterVec
	burnedRemainder    prometheus.Counter
	alerts             *prometheus.CounterVec
	webhookDeliveries  *prometheus.CounterVec
	webhookFailures    prometheus.Counter
	marketsClosed      prometheus.Counter
	marketsAutoResolve prometheus.Counter
	eventsArchived     prometheus.Counter
}

// New registers every counter on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total",
			Help: "Trades applied to market pools.",
		}),
		tradeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trade_volume_bdc_total",
			Help: "BDC staked through trades.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_total",
			Help: "Markets settled, by resolver policy.",
		}, []string{"policy"}),
		burnedRemainder: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "burned_remainder_bdc_total",
			Help: "Settlement remainder not credited to anyone.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Alerts raised, by kind.",
		}, []string{"kind"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts, by result.",
		}, []string{"result"}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_failures_total",
			Help: "Outbox entries that reached the failed state.",
		}),
		marketsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "markets_closed_total",
			Help: "Markets closed by the lifecycle scheduler.",
		}),
		marketsAutoResolve: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "markets_auto_resolved_total",
			Help: "Markets resolved by the lifecycle scheduler.",
		}),
		eventsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_archived_total",
			Help: "Events copied to object storage.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.trades, m.tradeVolume, m.settlements, m.burnedRemainder, m.alerts,
		m.webhookDeliveries, m.webhookFailures, m.marketsClosed, m.marketsAutoResolve, m.eventsArchived,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TradeApplied(amount float64) {
	if m == nil {
		return
	}
	m.trades.Inc()
	m.tradeVolume.Add(amount)
}

func (m *Metrics) MarketSettled(policy string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(policy).Inc()
}

func (m *Metrics) RemainderBurned(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.burnedRemainder.Add(amount)
}

func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

// WebhookAttempt counts one delivery attempt; result is "delivered",
// "retrying" or "failed".
func (m *Metrics) WebhookAttempt(result string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookFailed() {
	if m == nil {
		return
	}
	m.webhookFailures.Inc()
}

func (m *Metrics) MarketClosed() {
	if m == nil {
		return
	}
	m.marketsClosed.Inc()
}

func (m *Metrics) MarketAutoResolved() {
	if m == nil {
		return
	}
	m.marketsAutoResolve.Inc()
}

func (m *Metrics) EventsArchived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsArchived.Add(float64(n))
}

// WebhookFailures returns the failed-delivery counter.
func (m *Metrics) WebhookFailures() prometheus.Counter { return m.webhookFailures }

// BurnedRemainder returns the burned remainder counter.
func (m *Metrics) BurnedRemainder() prometheus.Counter { return m.burnedRemainder }

// Settlements returns the settlement counter vector.
func (m *Metrics) Settlements() *prometheus.CounterVec { return m.settlements }

// Alerts returns the alert counter vector.
func (m *Metrics) Alerts() *prometheus.CounterVec { return m.alerts }

// MarketsClosed returns the closed-market counter.
func (m *Metrics) MarketsClosed() prometheus.Counter { return m.marketsClosed }

// ArchivedEvents returns the archived-events counter.
func (m *Metrics) ArchivedEvents() prometheus.Counter { return m.eventsArchived }
