package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

// TradeRequest stakes AmountBDC of BotID's wallet on one outcome.
type TradeRequest struct {
	MarketID  string  `json:"market_id"`
	BotID     string  `json:"bot_id"`
	OutcomeID string  `json:"outcome_id"`
	AmountBDC float64 `json:"amount_bdc"`
}

// TradeResult is the applied trade with the market state right after it.
type TradeResult struct {
	Trade   domain.Trade       `json:"trade"`
	Prices  map[string]float64 `json:"prices"`
	Pools   map[string]float64 `json:"outcome_pools"`
	Balance float64            `json:"wallet_balance_bdc"`
}

// TradingService applies trades to parimutuel pools. The price of an outcome
// is its share of the total pool after the trade, so a trade can only raise
// the price of the outcome it buys; there is no slippage protection.
type TradingService struct {
	store   domain.Store
	locks   domain.LockManager
	ledger  *LedgerService
	limiter *Limiter
	alerts  *AlertService
	events  *EventPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTradingService creates a TradingService.
func NewTradingService(
	store domain.Store,
	locks domain.LockManager,
	ledger *LedgerService,
	limiter *Limiter,
	alerts *AlertService,
	events *EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *TradingService {
	return &TradingService{
		store:   store,
		locks:   locks,
		ledger:  ledger,
		limiter: limiter,
		alerts:  alerts,
		events:  events,
		metrics: m,
		logger:  logger.With(slog.String("component", "trading_service")),
	}
}

// ApplyTrade admits the bot, then debits its wallet, grows the outcome pool,
// records the trade and emits price_changed in one transaction under the
// market and bot locks.
func (s *TradingService) ApplyTrade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	bot, err := s.store.GetBot(ctx, req.BotID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("trading_service: trade: %w", err)
	}
	policy, err := s.store.GetPolicy(ctx, bot.ID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("trading_service: trade: %w", err)
	}
	if !bot.IsActive() {
		msg := fmt.Sprintf("bot %s is %s", bot.ID, bot.Status)
		s.alerts.Raise(ctx, bot.ID, domain.AlertAuthorization, msg, map[string]any{"market_id": req.MarketID})
		return TradeResult{}, fmt.Errorf("trading_service: trade: %w", forbiddenf("%s", msg))
	}
	if err := s.limiter.CheckRate(ctx, bot.ID, policy); err != nil {
		return TradeResult{}, fmt.Errorf("trading_service: trade: %w", err)
	}

	var result TradeResult
	err = withLock(ctx, s.locks, marketLockKey(req.MarketID), func() error {
		return withLock(ctx, s.locks, botLockKey(req.BotID), func() error {
			var err error
			result, err = s.applyLocked(ctx, req, policy)
			return err
		})
	})
	if err != nil {
		return TradeResult{}, fmt.Errorf("trading_service: trade on %s: %w", req.MarketID, err)
	}

	s.metrics.TradeApplied(req.AmountBDC)
	s.logger.InfoContext(ctx, "trading_service: trade applied",
		slog.String("trade_id", result.Trade.ID),
		slog.String("market_id", req.MarketID),
		slog.String("bot_id", req.BotID),
		slog.String("outcome", req.OutcomeID),
		slog.Float64("amount", req.AmountBDC),
		slog.Float64("price", result.Trade.Price),
	)

	if policy.AlertBalanceThresholdBDC > 0 && result.Balance < policy.AlertBalanceThresholdBDC {
		s.alerts.Raise(ctx, bot.ID, domain.AlertLowBalance,
			fmt.Sprintf("bot %s balance %.2f is below %.2f", bot.ID, result.Balance, policy.AlertBalanceThresholdBDC),
			map[string]any{"balance": result.Balance, "threshold": policy.AlertBalanceThresholdBDC},
		)
	}
	return result, nil
}

func (s *TradingService) applyLocked(ctx context.Context, req TradeRequest, policy domain.BotPolicy) (TradeResult, error) {
	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return TradeResult{}, err
	}
	bot, err := s.store.GetBot(ctx, req.BotID)
	if err != nil {
		return TradeResult{}, err
	}

	now := s.store.Now()
	if !m.AcceptsTrades(now) {
		return TradeResult{}, conflictf("market %s is not open", m.ID)
	}
	if !m.HasOutcome(req.OutcomeID) {
		return TradeResult{}, validationf("unknown outcome %q", req.OutcomeID)
	}
	if req.AmountBDC <= 0 {
		return TradeResult{}, validationf("amount_bdc must be positive, got %v", req.AmountBDC)
	}
	if policy.MaxTradeBDC > 0 && req.AmountBDC > policy.MaxTradeBDC {
		msg := fmt.Sprintf("trade of %.2f exceeds the policy limit of %.2f", req.AmountBDC, policy.MaxTradeBDC)
		s.alerts.Raise(ctx, bot.ID, domain.AlertAuthorization, msg, map[string]any{
			"market_id": m.ID,
			"amount":    req.AmountBDC,
			"limit":     policy.MaxTradeBDC,
		})
		return TradeResult{}, forbiddenf("%s", msg)
	}
	if bot.WalletBalance < req.AmountBDC {
		return TradeResult{}, fmt.Errorf("%w: balance %.8f is below %.8f", domain.ErrInsufficientFunds, bot.WalletBalance, req.AmountBDC)
	}

	var result TradeResult
	err = s.events.Atomic(ctx, func(ctx context.Context) error {
		_, updated, err := s.ledger.apply(ctx, bot.ID, -req.AmountBDC, domain.ReasonTrade, m.ID)
		if err != nil {
			return err
		}

		if m.OutcomePools == nil {
			m.OutcomePools = make(map[string]float64, len(m.Outcomes))
		}
		m.OutcomePools[req.OutcomeID] += req.AmountBDC
		if err := s.store.SaveMarket(ctx, m); err != nil {
			return err
		}

		trade := domain.Trade{
			ID:        newID(),
			MarketID:  m.ID,
			BotID:     bot.ID,
			OutcomeID: req.OutcomeID,
			AmountBDC: req.AmountBDC,
			Price:     m.Price(req.OutcomeID),
			Timestamp: now,
		}
		if err := s.store.AppendTrade(ctx, trade); err != nil {
			return err
		}

		prices := m.Prices()
		if _, err := s.events.Record(ctx, domain.EventPriceChanged, m.ID, bot.ID, map[string]any{
			"trade_id":   trade.ID,
			"outcome_id": trade.OutcomeID,
			"amount_bdc": trade.AmountBDC,
			"price":      trade.Price,
			"prices":     prices,
		}); err != nil {
			return err
		}

		result = TradeResult{
			Trade:   trade,
			Prices:  prices,
			Pools:   m.OutcomePools,
			Balance: updated.WalletBalance,
		}
		return nil
	})
	return result, err
}
