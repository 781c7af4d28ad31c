package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/service"
	"github.com/alanyoungcy/prediclaw/internal/store/memory"
)

// slowCountStore stretches CountActiveMarkets to a store round trip.
type slowCountStore struct {
	*memory.Store
}

func (s slowCountStore) CountActiveMarkets(ctx context.Context, creatorBotID string) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Store.CountActiveMarkets(ctx, creatorBotID)
}

// gatedTreasuryStore parks the remainder credit until release is closed and
// then fails it, rolling the settlement back.
type gatedTreasuryStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (s gatedTreasuryStore) ApplyTreasuryDelta(ctx context.Context, entry domain.TreasuryLedgerEntry) (domain.TreasuryState, error) {
	if entry.Reason != domain.ReasonResolutionRemainder {
		return s.Store.ApplyTreasuryDelta(ctx, entry)
	}
	close(s.entered)
	<-s.release
	return domain.TreasuryState{}, errors.New("treasury unavailable")
}

func TestCreateMarketActiveLimitUnderConcurrency(t *testing.T) {
	h := newHarnessWith(t, func(s *memory.Store) domain.Store { return slowCountStore{s} })
	a := h.bot(t, "alpha", 50, func(p *domain.BotPolicy) { p.MaxActiveMarkets = 1 })

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.markets.CreateMarket(context.Background(), service.CreateMarketRequest{
				BotID:    a.ID,
				Title:    fmt.Sprintf("market %d", i),
				Outcomes: []string{"YES", "NO"},
				ClosesAt: h.clock.Now().Add(time.Hour),
			})
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrForbidden)
	}
	assert.Equal(t, 1, created)

	active, err := h.store.CountActiveMarkets(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestConcurrentTradesReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := h.bot(t, "creator", 10)
	m := h.market(t, creator, domain.ResolverSingle)

	const tradesPerBot = 8
	bots := make([]domain.Bot, 4)
	for i := range bots {
		bots[i] = h.bot(t, fmt.Sprintf("trader-%d", i), 100)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(bots)*tradesPerBot)
	for _, b := range bots {
		for j := range tradesPerBot {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome := "YES"
				if j%2 == 1 {
					outcome = "NO"
				}
				_, err := h.trading.ApplyTrade(ctx, service.TradeRequest{
					MarketID: m.ID, BotID: b.ID, OutcomeID: outcome, AmountBDC: float64(j%3 + 1),
				})
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	trades, err := h.store.ListTrades(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, trades, len(bots)*tradesPerBot)

	sums := map[string]float64{}
	spent := map[string]float64{}
	for _, tr := range trades {
		sums[tr.OutcomeID] += tr.AmountBDC
		spent[tr.BotID] += tr.AmountBDC
	}
	stored, err := h.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, sums["YES"], stored.OutcomePools["YES"], 1e-9)
	assert.InDelta(t, sums["NO"], stored.OutcomePools["NO"], 1e-9)

	for _, b := range bots {
		balance := h.balance(t, b.ID)
		assert.InDelta(t, 100-spent[b.ID], balance, 1e-9)

		entries, err := h.ledger.BotLedger(ctx, b.ID)
		require.NoError(t, err)
		total := 0.0
		for _, e := range entries {
			total += e.DeltaBDC
		}
		assert.InDelta(t, balance, total, 1e-9, "ledger of %s reconciles with its wallet", b.ID)
	}
}

func TestConcurrentResolveAndAutoResolveSettleOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 100)
	b := h.bot(t, "beta", 100)

	const rounds = 10
	markets := make([]domain.Market, rounds)
	for i := range markets {
		markets[i] = h.market(t, a, domain.ResolverSingle)
		h.trade(t, a, markets[i], "YES", 2)
		h.trade(t, b, markets[i], "NO", 3)
	}
	h.clock.Advance(2 * time.Hour)

	for _, m := range markets {
		start := make(chan struct{})
		var manualErr, autoErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, manualErr = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
				MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
			})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, autoErr = h.resolution.AutoResolve(ctx, m.ID)
		}()
		close(start)
		wg.Wait()

		if manualErr == nil {
			assert.ErrorIs(t, autoErr, domain.ErrConflict)
		} else {
			assert.ErrorIs(t, manualErr, domain.ErrConflict)
			assert.NoError(t, autoErr)
		}

		_, err := h.store.GetResolution(ctx, m.ID)
		require.NoError(t, err)

		resolved := 0
		for _, typ := range h.eventTypes(t, domain.EventFilter{MarketID: m.ID}) {
			if typ == domain.EventMarketResolved {
				resolved++
			}
		}
		assert.Equal(t, 1, resolved, "market %s", m.ID)

		payouts := 0
		for _, id := range []string{a.ID, b.ID} {
			entries, err := h.ledger.BotLedger(ctx, id)
			require.NoError(t, err)
			for _, e := range entries {
				if e.MarketID == m.ID && e.Reason == domain.ReasonPayout {
					payouts++
				}
			}
		}
		assert.Equal(t, 1, payouts, "market %s pays its single winning trade once", m.ID)
	}

	assert.InDelta(t, 200.0, h.balance(t, a.ID)+h.balance(t, b.ID), 1e-9)
}

func TestSettlementHoldsPayeeLocksUntilCommit(t *testing.T) {
	gate := gatedTreasuryStore{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWith(t, func(s *memory.Store) domain.Store {
		gate.Store = s
		return gate
	})
	ctx := context.Background()
	a := h.bot(t, "alpha", 50)
	liquidity := h.bot(t, "liquidity", 5)
	require.NoError(t, h.ledger.ConfigureTreasury(ctx, domain.TreasuryConfig{
		LiquidityBotAllocationPct: 0.5,
		LiquidityBotWeights:       map[string]float64{liquidity.ID: 1},
		SendUnpaidToTreasury:      true,
	}))

	m := h.market(t, a, domain.ResolverSingle)
	h.trade(t, a, m, "NO", 20)
	h.clock.Advance(2 * time.Hour)
	other := h.market(t, a, domain.ResolverSingle)

	resolved := make(chan error, 1)
	go func() {
		_, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
			MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
		})
		resolved <- err
	}()
	<-gate.entered

	// The liquidity credit of 10 is written but not committed; a trade
	// spending it has to wait for the settlement to finish.
	traded := make(chan error, 1)
	go func() {
		_, err := h.trading.ApplyTrade(ctx, service.TradeRequest{
			MarketID: other.ID, BotID: liquidity.ID, OutcomeID: "YES", AmountBDC: 12,
		})
		traded <- err
	}()
	assert.Never(t, func() bool { return len(traded) > 0 }, 100*time.Millisecond, 5*time.Millisecond)

	close(gate.release)
	require.Error(t, <-resolved)
	assert.ErrorIs(t, <-traded, domain.ErrInsufficientFunds)

	assert.Equal(t, 5.0, h.balance(t, liquidity.ID))
	stored, err := h.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsResolved())
}
