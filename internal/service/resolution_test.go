package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/service"
)

func TestEndToEndSingleResolverScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50)
	m := h.market(t, a, domain.ResolverSingle)
	h.trade(t, a, m, "YES", 20)
	h.clock.Advance(2 * time.Hour)

	report, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID:          m.ID,
		BotID:             a.ID,
		ResolverBotIDs:    []string{a.ID},
		ResolvedOutcomeID: "YES",
	})
	require.NoError(t, err)

	assert.Equal(t, "YES", report.WinningOutcome)
	assert.Equal(t, 20.0, report.WinningPool)
	assert.Equal(t, 20.0, report.TotalPool)
	require.Len(t, report.Payouts, 1)
	assert.Equal(t, a.ID, report.Payouts[0].BotID)
	assert.Equal(t, 20.0, report.Payouts[0].DeltaBDC)
	assert.Zero(t, report.TreasuryCredit)
	assert.Zero(t, report.BurnedRemainder)

	assert.Equal(t, []domain.LedgerReason{"seed", domain.ReasonTrade, domain.ReasonPayout}, ledgerReasons(t, h, a.ID))
	assert.Equal(t, 50.0, h.balance(t, a.ID))

	stored, err := h.markets.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, stored.Status)
	require.NotNil(t, stored.ResolvedAt)

	res, err := h.resolution.Resolution(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "YES", res.ResolvedOutcomeID)
	assert.Equal(t, []string{a.ID}, res.ResolverBotIDs)

	assert.Contains(t, h.eventTypes(t, domain.EventFilter{MarketID: m.ID}), domain.EventMarketResolved)
}

func TestResolveMarketAtMostOnce(t *testing.T) {
	h := newHarness(t)
	a := h.bot(t, "alpha", 50)
	m := h.market(t, a, domain.ResolverSingle)
	h.trade(t, a, m, "YES", 10)
	h.clock.Advance(2 * time.Hour)

	req := service.ResolveRequest{MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES"}
	_, err := h.resolution.ResolveMarket(context.Background(), req)
	require.NoError(t, err)

	req.ResolvedOutcomeID = "NO"
	_, err = h.resolution.ResolveMarket(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "market already resolved")

	_, err = h.resolution.AutoResolve(context.Background(), m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 50.0, h.balance(t, a.ID))
}

func TestResolveMarketBeforeCloseIsConflict(t *testing.T) {
	h := newHarness(t)
	a := h.bot(t, "alpha", 50)
	m := h.market(t, a, domain.ResolverSingle)

	_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "market not closed")
}

// majorityFixture opens a majority market with n resolvers and closes it.
func majorityFixture(t *testing.T, h *harness, policy domain.ResolverPolicy, n int) (domain.Market, []domain.Bot) {
	t.Helper()
	creator := h.bot(t, "creator", 100)
	m := h.market(t, creator, policy, "A", "B", "C")
	h.trade(t, creator, m, "A", 10)
	h.trade(t, creator, m, "B", 5)

	resolvers := make([]domain.Bot, n)
	for i := range resolvers {
		resolvers[i] = h.bot(t, "resolver", 10)
	}
	h.clock.Advance(2 * time.Hour)
	return m, resolvers
}

func votesFor(resolvers []domain.Bot, outcomes ...string) ([]string, []service.Vote) {
	ids := make([]string, len(resolvers))
	votes := make([]service.Vote, len(resolvers))
	for i, r := range resolvers {
		ids[i] = r.ID
		votes[i] = service.Vote{ResolverBotID: r.ID, OutcomeID: outcomes[i]}
	}
	return ids, votes
}

func vote(botID, outcome string) service.Vote {
	return service.Vote{ResolverBotID: botID, OutcomeID: outcome}
}

func TestResolveMajority(t *testing.T) {
	h := newHarness(t)
	m, resolvers := majorityFixture(t, h, domain.ResolverMajority, 5)
	ids, votes := votesFor(resolvers, "A", "A", "B", "A", "B")

	report, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID: m.ID, BotID: resolvers[0].ID, ResolverBotIDs: ids, Votes: votes,
	})
	require.NoError(t, err)
	assert.Equal(t, "A", report.WinningOutcome)
	assert.Len(t, report.Resolution.Votes, 5)
	assert.InDelta(t, 15.0, report.PayoutTotal(), 1e-9)
}

func TestResolveMajorityWithoutStrictMajority(t *testing.T) {
	h := newHarness(t)
	m, resolvers := majorityFixture(t, h, domain.ResolverMajority, 5)
	ids, votes := votesFor(resolvers, "A", "A", "B", "B", "C")

	_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID: m.ID, BotID: resolvers[0].ID, ResolverBotIDs: ids, Votes: votes,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "no majority")

	stored, err := h.store.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsResolved())
}

func TestResolveMajorityVoteShape(t *testing.T) {
	tests := []struct {
		name  string
		votes func(ids []string) []service.Vote
	}{
		{"missing vote", func(ids []string) []service.Vote {
			return []service.Vote{{ResolverBotID: ids[0], OutcomeID: "A"}, {ResolverBotID: ids[1], OutcomeID: "A"}}
		}},
		{"duplicate vote", func(ids []string) []service.Vote {
			return []service.Vote{vote(ids[0], "A"), vote(ids[0], "A"), vote(ids[1], "A")}
		}},
		{"foreign voter", func(ids []string) []service.Vote {
			return []service.Vote{vote(ids[0], "A"), vote(ids[1], "A"), vote("stranger", "A")}
		}},
		{"unknown outcome", func(ids []string) []service.Vote {
			return []service.Vote{vote(ids[0], "A"), vote(ids[1], "A"), vote(ids[2], "Z")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			m, resolvers := majorityFixture(t, h, domain.ResolverMajority, 3)
			ids, _ := votesFor(resolvers, "A", "A", "A")

			_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
				MarketID: m.ID, BotID: ids[0], ResolverBotIDs: ids, Votes: tt.votes(ids),
			})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestResolveMajorityExplicitOutcomeMustMatch(t *testing.T) {
	h := newHarness(t)
	m, resolvers := majorityFixture(t, h, domain.ResolverMajority, 3)
	ids, votes := votesFor(resolvers, "A", "A", "B")

	_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID: m.ID, BotID: ids[0], ResolverBotIDs: ids, Votes: votes, ResolvedOutcomeID: "B",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolveConsensusWeightsByReputation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := h.bot(t, "creator", 100)
	m := h.market(t, creator, domain.ResolverConsensus)
	h.trade(t, creator, m, "YES", 10)
	h.trade(t, creator, m, "NO", 10)

	heavy := h.setReputation(t, h.bot(t, "heavy", 0), 2.0)
	light := h.setReputation(t, h.bot(t, "light", 0), 1.0)
	h.clock.Advance(2 * time.Hour)

	report, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID:       m.ID,
		BotID:          light.ID,
		ResolverBotIDs: []string{heavy.ID, light.ID},
		Votes: []service.Vote{
			{ResolverBotID: heavy.ID, OutcomeID: "NO"},
			{ResolverBotID: light.ID, OutcomeID: "YES"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "NO", report.WinningOutcome)

	var weights []float64
	for _, v := range report.Resolution.Votes {
		weights = append(weights, v.Weight)
	}
	assert.ElementsMatch(t, []float64{2.0, 1.0}, weights)
}

func TestResolveConsensusWithoutReputation(t *testing.T) {
	h := newHarness(t)
	creator := h.bot(t, "creator", 100)
	m := h.market(t, creator, domain.ResolverConsensus)
	r1 := h.bot(t, "r1", 0)
	r2 := h.bot(t, "r2", 0)
	h.clock.Advance(2 * time.Hour)

	_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID:       m.ID,
		BotID:          r1.ID,
		ResolverBotIDs: []string{r1.ID, r2.ID},
		Votes:          []service.Vote{vote(r1.ID, "YES"), vote(r2.ID, "YES")},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolveConsensusTie(t *testing.T) {
	h := newHarness(t)
	creator := h.bot(t, "creator", 100)
	m := h.market(t, creator, domain.ResolverConsensus)
	r1 := h.setReputation(t, h.bot(t, "r1", 0), 1.5)
	r2 := h.setReputation(t, h.bot(t, "r2", 0), 1.5)
	h.clock.Advance(2 * time.Hour)

	_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID:       m.ID,
		BotID:          r1.ID,
		ResolverBotIDs: []string{r1.ID, r2.ID},
		Votes:          []service.Vote{vote(r1.ID, "YES"), vote(r2.ID, "NO")},
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "no consensus")
}

func TestResolveMarketResolverChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50)
	other := h.bot(t, "other", 50)
	m := h.market(t, a, domain.ResolverSingle)
	h.clock.Advance(2 * time.Hour)

	_, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: nil, ResolvedOutcomeID: "YES",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "empty resolver list")

	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID, a.ID}, ResolvedOutcomeID: "YES",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "duplicate resolver")

	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{"ghost"}, ResolvedOutcomeID: "YES",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "unknown resolver")

	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: other.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden, "acting bot not a resolver")
	assert.Contains(t, h.alertKinds(t, other.ID), domain.AlertAuthorization)

	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "MAYBE",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "unknown outcome")

	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: "missing", BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveMarketStakeRequirement(t *testing.T) {
	h := newHarness(t)
	a := h.bot(t, "alpha", 15, func(p *domain.BotPolicy) {
		p.MinBalanceToResolve = 5
		p.ResolutionStakeBDC = 20
	})
	m := h.market(t, a, domain.ResolverSingle)
	h.clock.Advance(2 * time.Hour)

	_, err := h.resolution.ResolveMarket(context.Background(), service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, []domain.AlertKind{domain.AlertStakeRequirement}, h.alertKinds(t, a.ID))
}

func TestResolveMarketChargesStakeToTreasury(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50, func(p *domain.BotPolicy) { p.ResolutionStakeBDC = 5 })
	m := h.market(t, a, domain.ResolverSingle)
	h.trade(t, a, m, "YES", 20)
	h.clock.Advance(2 * time.Hour)

	_, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	require.NoError(t, err)

	assert.Equal(t, 45.0, h.balance(t, a.ID))
	treasury, err := h.ledger.Treasury(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, treasury.BalanceBDC)

	entries, err := h.ledger.TreasuryLedger(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ReasonResolutionStake, entries[0].Reason)
	assert.Equal(t, a.ID, entries[0].BotID)
}

func TestResolveMarketQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50, func(p *domain.BotPolicy) { p.MaxResolutionsPerDay = 1 })
	m1 := h.market(t, a, domain.ResolverSingle)
	m2 := h.market(t, a, domain.ResolverSingle)
	h.clock.Advance(2 * time.Hour)

	_, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m1.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	require.NoError(t, err)

	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m2.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 429, domain.StatusCode(err))
	assert.Contains(t, h.alertKinds(t, a.ID), domain.AlertQuotaExceeded)
}

func TestResolveMarketFailedSettlementRollsBackStake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50, func(p *domain.BotPolicy) { p.ResolutionStakeBDC = 5 })
	m := h.market(t, a, domain.ResolverSingle)
	h.clock.Advance(2 * time.Hour)

	// A resolution stored out of band makes settlement fail after the stake
	// has been charged.
	require.NoError(t, h.store.SaveResolution(ctx, domain.Resolution{MarketID: m.ID, ResolvedOutcomeID: "NO"}))

	_, err := h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES",
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, 50.0, h.balance(t, a.ID))
	treasury, err := h.ledger.Treasury(ctx)
	require.NoError(t, err)
	assert.Zero(t, treasury.BalanceBDC)

	stored, err := h.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, stored.Status)
}

func TestResolveMarketBeforeCloseKeepsQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50, func(p *domain.BotPolicy) { p.MaxResolutionsPerDay = 1 })
	m := h.market(t, a, domain.ResolverSingle)
	req := service.ResolveRequest{MarketID: m.ID, BotID: a.ID, ResolverBotIDs: []string{a.ID}, ResolvedOutcomeID: "YES"}

	_, err := h.resolution.ResolveMarket(ctx, req)
	require.ErrorIs(t, err, domain.ErrConflict)

	h.clock.Advance(2 * time.Hour)
	_, err = h.resolution.ResolveMarket(ctx, req)
	require.NoError(t, err)
	assert.NotContains(t, h.alertKinds(t, a.ID), domain.AlertQuotaExceeded)
}

func TestResolveMajorityWithoutMajorityKeepsQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, resolvers := majorityFixture(t, h, domain.ResolverMajority, 3)
	p, err := h.bots.GetPolicy(ctx, resolvers[0].ID)
	require.NoError(t, err)
	p.MaxResolutionsPerDay = 1
	_, err = h.bots.UpdatePolicy(ctx, p)
	require.NoError(t, err)

	ids, votes := votesFor(resolvers, "A", "B", "C")
	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: resolvers[0].ID, ResolverBotIDs: ids, Votes: votes,
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	ids, votes = votesFor(resolvers, "A", "A", "B")
	_, err = h.resolution.ResolveMarket(ctx, service.ResolveRequest{
		MarketID: m.ID, BotID: resolvers[0].ID, ResolverBotIDs: ids, Votes: votes,
	})
	require.NoError(t, err)
}
