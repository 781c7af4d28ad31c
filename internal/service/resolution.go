package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

// ResolveRequest asks the engine to resolve a market on behalf of BotID.
type ResolveRequest struct {
	MarketID          string                `json:"market_id"`
	BotID             string                `json:"bot_id"`
	ResolverBotIDs    []string              `json:"resolver_bot_ids"`
	ResolvedOutcomeID string                `json:"resolved_outcome_id"`
	Votes             []Vote                `json:"votes"`
	Evidence          []domain.EvidenceItem `json:"evidence"`
}

// ResolutionService validates resolvers, decides the outcome under the
// market's policy and settles the market.
type ResolutionService struct {
	store      domain.Store
	locks      domain.LockManager
	ledger     *LedgerService
	limiter    *Limiter
	alerts     *AlertService
	events     *EventPublisher
	settlement *SettlementService
	archiver   domain.Archiver
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewResolutionService creates a ResolutionService. archiver and m may be nil.
func NewResolutionService(
	store domain.Store,
	locks domain.LockManager,
	ledger *LedgerService,
	limiter *Limiter,
	alerts *AlertService,
	events *EventPublisher,
	settlement *SettlementService,
	archiver domain.Archiver,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		store:      store,
		locks:      locks,
		ledger:     ledger,
		limiter:    limiter,
		alerts:     alerts,
		events:     events,
		settlement: settlement,
		archiver:   archiver,
		metrics:    m,
		logger:     logger.With(slog.String("component", "resolution_service")),
	}
}

// ResolveMarket runs the manual resolution path under the market lock.
func (s *ResolutionService) ResolveMarket(ctx context.Context, req ResolveRequest) (domain.SettlementReport, error) {
	var report domain.SettlementReport
	err := withLock(ctx, s.locks, marketLockKey(req.MarketID), func() error {
		var err error
		report, err = s.resolveLocked(ctx, req)
		return err
	})
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("resolution_service: resolve %s: %w", req.MarketID, err)
	}
	s.finish(ctx, report)
	return report, nil
}

func (s *ResolutionService) resolveLocked(ctx context.Context, req ResolveRequest) (domain.SettlementReport, error) {
	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	if m.IsResolved() {
		return domain.SettlementReport{}, conflictf("market already resolved")
	}

	resolvers, err := s.loadResolvers(ctx, req.ResolverBotIDs)
	if err != nil {
		return domain.SettlementReport{}, err
	}

	idx := slices.IndexFunc(resolvers, func(b domain.Bot) bool { return b.ID == req.BotID })
	if idx < 0 {
		msg := fmt.Sprintf("bot %s is not a resolver of market %s", req.BotID, m.ID)
		s.alerts.Raise(ctx, req.BotID, domain.AlertAuthorization, msg, map[string]any{"market_id": m.ID})
		return domain.SettlementReport{}, forbiddenf("%s", msg)
	}
	actor := resolvers[idx]
	if !m.IsExpired(s.store.Now()) {
		return domain.SettlementReport{}, conflictf("market not closed")
	}

	decide, ok := policyDeciders[m.ResolverPolicy]
	if !ok {
		return domain.SettlementReport{}, validationf("unknown resolver policy %q", m.ResolverPolicy)
	}
	d, err := decide(decisionInput{
		market:    m,
		resolvers: resolvers,
		votes:     req.Votes,
		outcome:   req.ResolvedOutcomeID,
	})
	if err != nil {
		return domain.SettlementReport{}, err
	}

	// Rate and quota are only consumed by a call that can settle.
	policy, err := s.store.GetPolicy(ctx, actor.ID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	if err := s.admitResolver(ctx, actor, policy, m.ID); err != nil {
		return domain.SettlementReport{}, err
	}
	if err := s.limiter.CheckQuota(ctx, actor.ID, ActionResolveMarket, policy.MaxResolutionsPerDay); err != nil {
		return domain.SettlementReport{}, err
	}

	resolution := domain.Resolution{
		ResolvedOutcomeID: d.outcome,
		ResolverBotIDs:    slices.Clone(req.ResolverBotIDs),
		Evidence:          req.Evidence,
		Votes:             d.votes,
	}
	return s.settleLocked(ctx, m, resolution, actor.ID, policy.ResolutionStakeBDC)
}

// settleLocked locks the staking bot and every payee in sorted order, then
// charges the stake and settles in one transaction. The bot locks are held
// until the transaction commits.
func (s *ResolutionService) settleLocked(ctx context.Context, m domain.Market, resolution domain.Resolution, stakerID string, stake float64) (domain.SettlementReport, error) {
	payees, treasury, err := s.settlement.Payees(ctx, m.ID, resolution.ResolvedOutcomeID)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	botIDs := payees
	if stake > 0 {
		botIDs = append(botIDs, stakerID)
	}

	var report domain.SettlementReport
	err = withBotLocks(ctx, s.locks, botIDs, func(ctx context.Context) error {
		return s.events.Atomic(ctx, func(ctx context.Context) error {
			if err := s.ledger.ChargeStake(ctx, stakerID, stake, domain.ReasonResolutionStake, m.ID); err != nil {
				return err
			}
			var err error
			report, err = s.settlement.Settle(ctx, m, SettlementInput{Resolution: resolution, Treasury: &treasury})
			return err
		})
	})
	return report, err
}

// loadResolvers checks the resolver list shape and loads every resolver.
func (s *ResolutionService) loadResolvers(ctx context.Context, ids []string) ([]domain.Bot, error) {
	if len(ids) == 0 {
		return nil, validationf("resolver_bot_ids must not be empty")
	}
	seen := make(map[string]bool, len(ids))
	resolvers := make([]domain.Bot, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, validationf("duplicate resolver %s", id)
		}
		seen[id] = true

		b, err := s.store.GetBot(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, validationf("unknown resolver %s", id)
		}
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, b)
	}
	return resolvers, nil
}

// admitResolver applies the status, stake, reputation and rate gates.
func (s *ResolutionService) admitResolver(ctx context.Context, actor domain.Bot, policy domain.BotPolicy, marketID string) error {
	if !actor.IsActive() {
		msg := fmt.Sprintf("bot %s is %s", actor.ID, actor.Status)
		s.alerts.Raise(ctx, actor.ID, domain.AlertAuthorization, msg, map[string]any{"market_id": marketID})
		return forbiddenf("%s", msg)
	}
	required := policy.RequiredBalanceToResolve()
	if actor.WalletBalance < required || actor.ReputationScore < policy.MinReputationToResolve {
		msg := fmt.Sprintf("bot %s does not meet the resolution stake requirement", actor.ID)
		s.alerts.Raise(ctx, actor.ID, domain.AlertStakeRequirement, msg, map[string]any{
			"market_id":           marketID,
			"balance":             actor.WalletBalance,
			"required_balance":    required,
			"reputation":          actor.ReputationScore,
			"required_reputation": policy.MinReputationToResolve,
		})
		return forbiddenf("%s", msg)
	}
	return s.limiter.CheckRate(ctx, actor.ID, policy)
}

// AutoResolve settles an expired single-policy market in favour of its
// largest pool. The market creator is recorded as the resolver and no stake,
// quota or rate gates apply.
func (s *ResolutionService) AutoResolve(ctx context.Context, marketID string) (domain.SettlementReport, error) {
	var report domain.SettlementReport
	err := withLock(ctx, s.locks, marketLockKey(marketID), func() error {
		m, err := s.store.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.IsResolved() {
			return conflictf("market already resolved")
		}
		now := s.store.Now()
		if !m.IsExpired(now) {
			return conflictf("market not closed")
		}
		if m.ResolverPolicy != domain.ResolverSingle {
			return validationf("auto-resolve supports single policy markets only, got %s", m.ResolverPolicy)
		}

		resolution := domain.Resolution{
			ResolvedOutcomeID: LargestPool(m),
			ResolverBotIDs:    []string{m.CreatorBotID},
			Evidence: []domain.EvidenceItem{{
				Source:      "system",
				Description: "auto_resolve",
				Timestamp:   now,
			}},
			Automatic: true,
		}
		report, err = s.settleLocked(ctx, m, resolution, m.CreatorBotID, 0)
		return err
	})
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("resolution_service: auto-resolve %s: %w", marketID, err)
	}
	s.finish(ctx, report)
	return report, nil
}

// LargestPool returns the outcome with the largest pool, breaking ties by the
// lexicographically smallest outcome id.
func LargestPool(m domain.Market) string {
	outcomes := slices.Clone(m.Outcomes)
	slices.Sort(outcomes)
	best := ""
	for _, o := range outcomes {
		if best == "" || m.OutcomePools[o] > m.OutcomePools[best] {
			best = o
		}
	}
	return best
}

// Resolution returns the stored resolution of a market.
func (s *ResolutionService) Resolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	r, err := s.store.GetResolution(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: get %s: %w", marketID, err)
	}
	return r, nil
}

// finish runs the post-commit side effects of a settlement.
func (s *ResolutionService) finish(ctx context.Context, report domain.SettlementReport) {
	s.metrics.MarketSettled(string(report.Resolution.Policy))
	s.metrics.RemainderBurned(report.BurnedRemainder)

	s.logger.InfoContext(ctx, "resolution_service: market resolved",
		slog.String("market_id", report.MarketID),
		slog.String("outcome", report.WinningOutcome),
		slog.Bool("automatic", report.Resolution.Automatic),
		slog.Int("payouts", len(report.Payouts)),
		slog.Float64("treasury_credit", report.TreasuryCredit),
		slog.Float64("burned_remainder", report.BurnedRemainder),
	)

	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveSettlement(ctx, report); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: archive settlement failed",
			slog.String("market_id", report.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
