package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// payoutPlaces is the precision payouts and liquidity shares are truncated
// to. Truncation keeps every remainder non-negative.
const payoutPlaces = 8

// SettlementInput carries the decided resolution into Settle.
type SettlementInput struct {
	Resolution domain.Resolution
	// Treasury is the remainder routing Payees was computed from. Settle
	// loads the stored config when nil.
	Treasury *domain.TreasuryConfig
}

// SettlementService pays out a resolved market and routes the remainder.
type SettlementService struct {
	store  domain.Store
	ledger *LedgerService
	events *EventPublisher
	logger *slog.Logger
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(store domain.Store, ledger *LedgerService, events *EventPublisher, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		store:  store,
		ledger: ledger,
		events: events,
		logger: logger.With(slog.String("component", "settlement_service")),
	}
}

// Payees returns every bot Settle may credit when winner wins marketID,
// sorted, along with the treasury config the set was derived from. The
// caller locks the payees before opening the settlement transaction.
func (s *SettlementService) Payees(ctx context.Context, marketID, winner string) ([]string, domain.TreasuryConfig, error) {
	trades, err := s.store.ListTrades(ctx, marketID)
	if err != nil {
		return nil, domain.TreasuryConfig{}, fmt.Errorf("settlement_service: list trades %s: %w", marketID, err)
	}
	treasury, err := s.store.GetTreasury(ctx)
	if err != nil {
		return nil, domain.TreasuryConfig{}, fmt.Errorf("settlement_service: load treasury: %w", err)
	}

	seen := make(map[string]bool)
	for _, t := range trades {
		if t.OutcomeID == winner {
			seen[t.BotID] = true
		}
	}
	if treasury.Config.LiquidityEnabled() {
		for id, w := range treasury.Config.LiquidityBotWeights {
			if w > 0 {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, treasury.Config, nil
}

// Settle marks m resolved and distributes its pool. It must run inside the
// resolution transaction with the market lock and the Payees locks held; a
// failure anywhere rolls the whole settlement back.
func (s *SettlementService) Settle(ctx context.Context, m domain.Market, in SettlementInput) (domain.SettlementReport, error) {
	now := s.store.Now()
	winner := in.Resolution.ResolvedOutcomeID

	m.Status = domain.MarketStatusResolved
	m.ResolvedAt = &now
	if err := s.store.SaveMarket(ctx, m); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement_service: save market %s: %w", m.ID, err)
	}
	res := in.Resolution
	res.MarketID = m.ID
	res.Policy = m.ResolverPolicy
	res.Timestamp = now
	if err := s.store.SaveResolution(ctx, res); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.SettlementReport{}, conflictf("market already resolved")
		}
		return domain.SettlementReport{}, fmt.Errorf("settlement_service: save resolution %s: %w", m.ID, err)
	}

	// total and winning are summed from the trades in decimal.
	trades, err := s.store.ListTrades(ctx, m.ID)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement_service: list trades %s: %w", m.ID, err)
	}
	total, winning := decimal.Zero, decimal.Zero
	for _, t := range trades {
		amount := decimal.NewFromFloat(t.AmountBDC)
		total = total.Add(amount)
		if t.OutcomeID == winner {
			winning = winning.Add(amount)
		}
	}

	if _, err := s.events.Record(ctx, domain.EventMarketResolved, m.ID, "", map[string]any{
		"resolved_outcome_id": winner,
		"policy":              string(m.ResolverPolicy),
		"resolver_bot_ids":    res.ResolverBotIDs,
		"automatic":           res.Automatic,
		"total_pool":          total.InexactFloat64(),
		"winning_pool":        winning.InexactFloat64(),
	}); err != nil {
		return domain.SettlementReport{}, err
	}

	report := domain.SettlementReport{
		MarketID:       m.ID,
		WinningOutcome: winner,
		TotalPool:      total.InexactFloat64(),
		WinningPool:    winning.InexactFloat64(),
		Resolution:     res,
		SettledAt:      now,
	}

	paid, err := s.payWinners(ctx, m.ID, trades, winner, total, winning, &report)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	remainder := total.Sub(paid)

	leftover := remainder
	if remainder.IsPositive() {
		var cfg domain.TreasuryConfig
		if in.Treasury != nil {
			cfg = *in.Treasury
		} else {
			treasury, err := s.store.GetTreasury(ctx)
			if err != nil {
				return domain.SettlementReport{}, fmt.Errorf("settlement_service: load treasury: %w", err)
			}
			cfg = treasury.Config
		}
		distributed, err := s.distributeLiquidity(ctx, m.ID, remainder, cfg, &report)
		if err != nil {
			return domain.SettlementReport{}, err
		}
		leftover = remainder.Sub(distributed)

		if leftover.IsPositive() {
			if err := s.routeLeftover(ctx, m.ID, leftover, cfg, &report); err != nil {
				return domain.SettlementReport{}, err
			}
		}
	}

	s.logger.InfoContext(ctx, "settlement_service: market settled",
		slog.String("market_id", m.ID),
		slog.String("winning_outcome", winner),
		slog.String("total_pool", total.String()),
		slog.String("paid", paid.String()),
		slog.String("leftover", leftover.String()),
	)
	return report, nil
}

// payWinners credits every winning trade amount / winning * total. A zero
// winning pool pays nothing and leaves the whole pool as remainder.
func (s *SettlementService) payWinners(ctx context.Context, marketID string, trades []domain.Trade, winner string, total, winning decimal.Decimal, report *domain.SettlementReport) (decimal.Decimal, error) {
	paid := decimal.Zero
	if !winning.IsPositive() {
		return paid, nil
	}

	for _, t := range trades {
		if t.OutcomeID != winner {
			continue
		}
		payout := decimal.NewFromFloat(t.AmountBDC).Mul(total).Div(winning).Truncate(payoutPlaces)
		if !payout.IsPositive() {
			continue
		}
		entry, err := s.ledger.Credit(ctx, t.BotID, payout.InexactFloat64(), domain.ReasonPayout, marketID)
		if err != nil {
			return paid, fmt.Errorf("settlement_service: pay trade %s: %w", t.ID, err)
		}
		report.Payouts = append(report.Payouts, entry)
		paid = paid.Add(payout)
	}
	return paid, nil
}

// distributeLiquidity credits remainder * pct to liquidity bots by weight.
// Weights naming unknown bots are skipped; their share stays in the
// leftover.
func (s *SettlementService) distributeLiquidity(ctx context.Context, marketID string, remainder decimal.Decimal, cfg domain.TreasuryConfig, report *domain.SettlementReport) (decimal.Decimal, error) {
	distributed := decimal.Zero
	if !cfg.LiquidityEnabled() {
		return distributed, nil
	}

	pct := decimal.NewFromFloat(min(cfg.LiquidityBotAllocationPct, 1))
	allocation := remainder.Mul(pct)

	botIDs := make([]string, 0, len(cfg.LiquidityBotWeights))
	totalWeight := decimal.Zero
	for id, w := range cfg.LiquidityBotWeights {
		if w <= 0 {
			continue
		}
		botIDs = append(botIDs, id)
		totalWeight = totalWeight.Add(decimal.NewFromFloat(w))
	}
	sort.Strings(botIDs)

	for _, id := range botIDs {
		share := allocation.Mul(decimal.NewFromFloat(cfg.LiquidityBotWeights[id])).Div(totalWeight).Truncate(payoutPlaces)
		if !share.IsPositive() {
			continue
		}
		if _, err := s.store.GetBot(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.WarnContext(ctx, "settlement_service: skipping unknown liquidity bot",
					slog.String("market_id", marketID),
					slog.String("bot_id", id),
				)
				continue
			}
			return distributed, fmt.Errorf("settlement_service: load liquidity bot %s: %w", id, err)
		}
		entry, err := s.ledger.Credit(ctx, id, share.InexactFloat64(), domain.ReasonLiquidityDistribution, marketID)
		if err != nil {
			return distributed, fmt.Errorf("settlement_service: liquidity share for %s: %w", id, err)
		}
		report.LiquidityDistributions = append(report.LiquidityDistributions, entry)
		distributed = distributed.Add(share)
	}
	return distributed, nil
}

// routeLeftover sends the leftover to the treasury or records it as burned.
func (s *SettlementService) routeLeftover(ctx context.Context, marketID string, leftover decimal.Decimal, cfg domain.TreasuryConfig, report *domain.SettlementReport) error {
	amount := leftover.InexactFloat64()
	if cfg.SendUnpaidToTreasury {
		if _, err := s.ledger.CreditTreasury(ctx, amount, domain.ReasonResolutionRemainder, marketID, ""); err != nil {
			return fmt.Errorf("settlement_service: credit remainder %s: %w", marketID, err)
		}
		report.TreasuryCredit = amount
		return nil
	}

	if _, err := s.events.Record(ctx, domain.EventRemainderBurned, marketID, "", map[string]any{
		"amount_bdc": amount,
	}); err != nil {
		return err
	}
	report.BurnedRemainder = amount
	s.logger.WarnContext(ctx, "settlement_service: remainder burned",
		slog.String("market_id", marketID),
		slog.String("amount", leftover.String()),
	)
	return nil
}
