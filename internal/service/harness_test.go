package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/keylock"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
	"github.com/alanyoungcy/prediclaw/internal/service"
	"github.com/alanyoungcy/prediclaw/internal/store/memory"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// defaultPolicy admits everything so tests opt into the gate under test.
var defaultPolicy = domain.BotPolicy{
	MaxRequestsPerMinute: 1000,
	MaxTradeBDC:          1000,
}

type harness struct {
	clock   *fakeClock
	store   *memory.Store
	bus     *memory.SignalBus
	metrics *metrics.Metrics

	events     *service.EventPublisher
	alerts     *service.AlertService
	ledger     *service.LedgerService
	limiter    *service.Limiter
	settlement *service.SettlementService
	resolution *service.ResolutionService
	trading    *service.TradingService
	bots       *service.BotService
	markets    *service.MarketService
	webhooks   *service.WebhookService
	lifecycle  *service.LifecycleScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(s *memory.Store) domain.Store { return s })
}

// newHarnessWith wires the services over wrap(store). h.store stays the
// unwrapped memory store for direct reads.
func newHarnessWith(t *testing.T, wrap func(*memory.Store) domain.Store) *harness {
	t.Helper()
	log := discardLogger()
	h := &harness{
		clock:   &fakeClock{now: epoch},
		bus:     memory.NewSignalBus(),
		metrics: metrics.New(),
	}
	h.store = memory.New(h.clock)
	store := wrap(h.store)
	locks := keylock.New()

	h.events = service.NewEventPublisher(store, h.bus, log)
	h.alerts = service.NewAlertService(store, h.events, nil, h.metrics, log)
	h.ledger = service.NewLedgerService(store, locks, log)
	h.limiter = service.NewLimiter(memory.NewWindowCounter(), h.clock, h.alerts, log)
	h.settlement = service.NewSettlementService(store, h.ledger, h.events, log)
	h.resolution = service.NewResolutionService(store, locks, h.ledger, h.limiter, h.alerts, h.events, h.settlement, nil, h.metrics, log)
	h.trading = service.NewTradingService(store, locks, h.ledger, h.limiter, h.alerts, h.events, h.metrics, log)
	h.bots = service.NewBotService(store, locks, h.ledger, h.limiter, h.events, defaultPolicy, log)
	h.markets = service.NewMarketService(store, locks, h.ledger, h.limiter, h.alerts, h.events, log)
	h.webhooks = service.NewWebhookService(store, log)
	h.lifecycle = service.NewLifecycleScheduler(store, locks, h.events, h.resolution, h.metrics, time.Second, true, log)
	return h
}

// bot registers an active bot seeded with balance under the "seed" reason.
func (h *harness) bot(t *testing.T, name string, balance float64, tune ...func(*domain.BotPolicy)) domain.Bot {
	t.Helper()
	ctx := context.Background()

	b, err := h.bots.RegisterBot(ctx, name)
	require.NoError(t, err)
	_, err = h.bots.UpdateStatus(ctx, b.ID, domain.BotStatusActive)
	require.NoError(t, err)
	if balance > 0 {
		_, err = h.bots.Deposit(ctx, b.ID, balance, "seed")
		require.NoError(t, err)
	}
	if len(tune) > 0 {
		p, err := h.bots.GetPolicy(ctx, b.ID)
		require.NoError(t, err)
		for _, f := range tune {
			f(&p)
		}
		_, err = h.bots.UpdatePolicy(ctx, p)
		require.NoError(t, err)
	}

	b, err = h.bots.GetBot(ctx, b.ID)
	require.NoError(t, err)
	return b
}

// market opens a market closing in one hour.
func (h *harness) market(t *testing.T, creator domain.Bot, policy domain.ResolverPolicy, outcomes ...string) domain.Market {
	t.Helper()
	if len(outcomes) == 0 {
		outcomes = []string{"YES", "NO"}
	}
	m, err := h.markets.CreateMarket(context.Background(), service.CreateMarketRequest{
		BotID:          creator.ID,
		Title:          "Will the test pass?",
		Outcomes:       outcomes,
		ClosesAt:       h.clock.Now().Add(time.Hour),
		ResolverPolicy: policy,
	})
	require.NoError(t, err)
	return m
}

func (h *harness) trade(t *testing.T, b domain.Bot, m domain.Market, outcome string, amount float64) service.TradeResult {
	t.Helper()
	res, err := h.trading.ApplyTrade(context.Background(), service.TradeRequest{
		MarketID: m.ID, BotID: b.ID, OutcomeID: outcome, AmountBDC: amount,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) setReputation(t *testing.T, b domain.Bot, score float64) domain.Bot {
	t.Helper()
	b, err := h.bots.SetReputation(context.Background(), b.ID, score)
	require.NoError(t, err)
	return b
}

func (h *harness) balance(t *testing.T, id string) float64 {
	t.Helper()
	b, err := h.store.GetBot(context.Background(), id)
	require.NoError(t, err)
	return b.WalletBalance
}

func (h *harness) alertKinds(t *testing.T, botID string) []domain.AlertKind {
	t.Helper()
	alerts, err := h.store.ListAlerts(context.Background(), botID)
	require.NoError(t, err)
	kinds := make([]domain.AlertKind, 0, len(alerts))
	for _, a := range alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func (h *harness) eventTypes(t *testing.T, f domain.EventFilter) []domain.EventType {
	t.Helper()
	events, err := h.store.ListEvents(context.Background(), f)
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func ledgerReasons(t *testing.T, h *harness, botID string) []domain.LedgerReason {
	t.Helper()
	entries, err := h.ledger.BotLedger(context.Background(), botID)
	require.NoError(t, err)
	reasons := make([]domain.LedgerReason, 0, len(entries))
	for _, e := range entries {
		reasons = append(reasons, e.Reason)
	}
	return reasons
}
