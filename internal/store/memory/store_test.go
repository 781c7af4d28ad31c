package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seedBot(t *testing.T, s *memory.Store, id string, balance float64) {
	t.Helper()
	require.NoError(t, s.CreateBot(context.Background(), domain.Bot{
		ID: id, Name: id, APIKey: "key-" + id, Status: domain.BotStatusActive, CreatedAt: t0,
	}, domain.BotPolicy{MaxRequestsPerMinute: 60}))
	if balance > 0 {
		_, err := s.ApplyBotDelta(context.Background(), domain.LedgerEntry{
			ID: "seed-" + id, BotID: id, DeltaBDC: balance, Reason: "seed", Timestamp: t0,
		})
		require.NoError(t, err)
	}
}

func TestApplyBotDeltaRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 10)

	_, err := s.ApplyBotDelta(ctx, domain.LedgerEntry{ID: "x", BotID: "a", DeltaBDC: -11, Reason: domain.ReasonTrade})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bot, err := s.GetBot(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10.0, bot.WalletBalance)

	entries, err := s.ListLedger(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 50)
	require.NoError(t, s.CreateMarket(ctx, domain.Market{
		ID: "m", CreatorBotID: "a", Outcomes: []string{"YES", "NO"},
		OutcomePools: map[string]float64{"YES": 0, "NO": 0}, Status: domain.MarketStatusOpen,
	}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.ApplyBotDelta(ctx, domain.LedgerEntry{ID: "t1", BotID: "a", DeltaBDC: -20, Reason: domain.ReasonTrade}); err != nil {
			return err
		}
		m, err := s.GetMarket(ctx, "m")
		if err != nil {
			return err
		}
		m.OutcomePools["YES"] += 20
		if err := s.SaveMarket(ctx, m); err != nil {
			return err
		}
		if err := s.AppendTrade(ctx, domain.Trade{ID: "t1", MarketID: "m", BotID: "a", OutcomeID: "YES", AmountBDC: 20}); err != nil {
			return err
		}
		if _, err := s.AppendEvent(ctx, domain.Event{ID: "e1", Type: domain.EventPriceChanged, MarketID: "m"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	bot, err := s.GetBot(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 50.0, bot.WalletBalance)

	entries, err := s.ListLedger(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	m, err := s.GetMarket(ctx, "m")
	require.NoError(t, err)
	assert.Zero(t, m.TotalPool())

	trades, err := s.ListTrades(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, trades)

	_, err = s.GetEvent(ctx, "e1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithinTxRollbackKeepsConcurrentDeltas(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 50)

	err := s.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := s.ApplyBotDelta(txCtx, domain.LedgerEntry{ID: "in-tx", BotID: "a", DeltaBDC: -5}); err != nil {
			return err
		}
		// A write outside the transaction lands in between.
		if _, err := s.ApplyBotDelta(ctx, domain.LedgerEntry{ID: "outside", BotID: "a", DeltaBDC: 7}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	bot, err := s.GetBot(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 57.0, bot.WalletBalance)

	entries, err := s.ListLedger(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "outside", entries[1].ID)
}

func TestNestedWithinTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 50)

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.WithinTx(ctx, func(ctx context.Context) error {
			_, err := s.ApplyBotDelta(ctx, domain.LedgerEntry{ID: "inner", BotID: "a", DeltaBDC: -10})
			return err
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	require.Error(t, err)

	bot, err := s.GetBot(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 50.0, bot.WalletBalance)
}

func TestAppendEventFansOutToMatchingWebhooks(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 0)

	require.NoError(t, s.CreateWebhook(ctx, domain.Webhook{ID: "all", BotID: "a", URL: "http://x/all"}))
	require.NoError(t, s.CreateWebhook(ctx, domain.Webhook{
		ID: "resolved", BotID: "a", URL: "http://x/resolved",
		EventTypes: []domain.EventType{domain.EventMarketResolved},
	}))

	queued, err := s.AppendEvent(ctx, domain.Event{ID: "e1", Type: domain.EventPriceChanged, CreatedAt: t0})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "all", queued[0].WebhookID)
	assert.Equal(t, domain.OutboxPending, queued[0].Status)

	queued, err = s.AppendEvent(ctx, domain.Event{ID: "e2", Type: domain.EventMarketResolved, CreatedAt: t0})
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	due, err := s.ListDueOutbox(ctx, t0, 10)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	due, err = s.ListDueOutbox(ctx, t0, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestListDueOutboxSkipsTerminalAndFutureEntries(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 0)
	require.NoError(t, s.CreateWebhook(ctx, domain.Webhook{ID: "w", BotID: "a", URL: "http://x"}))

	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := s.AppendEvent(ctx, domain.Event{ID: id, Type: domain.EventMarketCreated, CreatedAt: t0})
		require.NoError(t, err)
	}
	entries, err := s.ListOutbox(ctx, "w")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries[0].Status = domain.OutboxFailed
	require.NoError(t, s.SaveOutboxEntry(ctx, entries[0]))
	entries[1].Status = domain.OutboxRetrying
	entries[1].NextAttemptAt = t0.Add(time.Minute)
	require.NoError(t, s.SaveOutboxEntry(ctx, entries[1]))

	due, err := s.ListDueOutbox(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, entries[2].ID, due[0].ID)

	due, err = s.ListDueOutbox(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestDeleteWebhookFailsPendingEntries(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 0)
	require.NoError(t, s.CreateWebhook(ctx, domain.Webhook{ID: "w", BotID: "a", URL: "http://x"}))
	_, err := s.AppendEvent(ctx, domain.Event{ID: "e1", Type: domain.EventMarketCreated, CreatedAt: t0})
	require.NoError(t, err)

	require.NoError(t, s.DeleteWebhook(ctx, "w"))

	entries, err := s.ListOutbox(ctx, "w")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OutboxFailed, entries[0].Status)

	due, err := s.ListDueOutbox(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSaveResolutionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})

	require.NoError(t, s.SaveResolution(ctx, domain.Resolution{MarketID: "m", ResolvedOutcomeID: "YES"}))
	err := s.SaveResolution(ctx, domain.Resolution{MarketID: "m", ResolvedOutcomeID: "NO"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	r, err := s.GetResolution(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "YES", r.ResolvedOutcomeID)
}

func TestListMarketsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	for i, st := range []domain.MarketStatus{domain.MarketStatusOpen, domain.MarketStatusClosed, domain.MarketStatusOpen} {
		require.NoError(t, s.CreateMarket(ctx, domain.Market{
			ID: string(rune('a' + i)), CreatorBotID: "c", Status: st,
			Outcomes: []string{"YES", "NO"}, ClosesAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	open, err := s.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].ID)
	assert.Equal(t, "c", open[1].ID)

	paged, err := s.ListMarkets(ctx, domain.MarketFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "b", paged[0].ID)

	before := t0.Add(30 * time.Minute)
	early, err := s.ListMarkets(ctx, domain.MarketFilter{ClosesBefore: &before})
	require.NoError(t, err)
	assert.Len(t, early, 1)

	n, err := s.CountActiveMarkets(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGetMarketReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	require.NoError(t, s.CreateMarket(ctx, domain.Market{
		ID: "m", Outcomes: []string{"YES", "NO"}, OutcomePools: map[string]float64{"YES": 1},
	}))

	m, err := s.GetMarket(ctx, "m")
	require.NoError(t, err)
	m.OutcomePools["YES"] = 99

	again, err := s.GetMarket(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.OutcomePools["YES"])
}

func TestGetBotByAPIKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New(fixedClock{t0})
	seedBot(t, s, "a", 0)

	bot, err := s.GetBotByAPIKey(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "a", bot.ID)

	_, err = s.GetBotByAPIKey(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
