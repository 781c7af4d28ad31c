package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// CreateMarketRequest describes a new market.
type CreateMarketRequest struct {
	BotID          string                `json:"bot_id"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Category       string                `json:"category"`
	Outcomes       []string              `json:"outcomes"`
	ClosesAt       time.Time             `json:"closes_at"`
	ResolverPolicy domain.ResolverPolicy `json:"resolver_policy"`
}

// MarketService creates markets and serves market read models.
type MarketService struct {
	store   domain.Store
	locks   domain.LockManager
	ledger  *LedgerService
	limiter *Limiter
	alerts  *AlertService
	events  *EventPublisher
	logger  *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(
	store domain.Store,
	locks domain.LockManager,
	ledger *LedgerService,
	limiter *Limiter,
	alerts *AlertService,
	events *EventPublisher,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		store:   store,
		locks:   locks,
		ledger:  ledger,
		limiter: limiter,
		alerts:  alerts,
		events:  events,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarket validates the request, applies the creator's admission gates,
// charges the creation stake and opens the market.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	now := s.store.Now()
	m, err := buildMarket(req, now)
	if err != nil {
		return domain.Market{}, err
	}

	// The active-market count and the insert run under the creator's lock so
	// concurrent creates cannot all pass MaxActiveMarkets.
	var bot domain.Bot
	err = withBotLocks(ctx, s.locks, []string{req.BotID}, func(ctx context.Context) error {
		var err error
		bot, err = s.store.GetBot(ctx, req.BotID)
		if err != nil {
			return err
		}
		policy, err := s.store.GetPolicy(ctx, bot.ID)
		if err != nil {
			return err
		}
		if err := s.admitCreator(ctx, bot, policy); err != nil {
			return err
		}

		m.ID = newID()
		m.CreatorBotID = bot.ID
		return s.events.Atomic(ctx, func(ctx context.Context) error {
			if err := s.ledger.ChargeStake(ctx, bot.ID, policy.MarketCreationStakeBDC, domain.ReasonMarketStake, m.ID); err != nil {
				return err
			}
			if err := s.store.CreateMarket(ctx, m); err != nil {
				return err
			}
			_, err := s.events.Record(ctx, domain.EventMarketCreated, m.ID, bot.ID, map[string]any{
				"title":           m.Title,
				"outcomes":        m.Outcomes,
				"closes_at":       m.ClosesAt,
				"resolver_policy": string(m.ResolverPolicy),
			})
			return err
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("creator", bot.ID),
		slog.String("policy", string(m.ResolverPolicy)),
		slog.Time("closes_at", m.ClosesAt),
	)
	return m, nil
}

func buildMarket(req CreateMarketRequest, now time.Time) (domain.Market, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Market{}, validationf("title is required")
	}
	if len(req.Outcomes) < 2 {
		return domain.Market{}, validationf("a market needs at least two outcomes")
	}
	pools := make(map[string]float64, len(req.Outcomes))
	outcomes := make([]string, 0, len(req.Outcomes))
	for _, o := range req.Outcomes {
		o = strings.TrimSpace(o)
		if o == "" {
			return domain.Market{}, validationf("outcome ids must not be empty")
		}
		if _, dup := pools[o]; dup {
			return domain.Market{}, validationf("duplicate outcome %q", o)
		}
		pools[o] = 0
		outcomes = append(outcomes, o)
	}
	if !req.ClosesAt.After(now) {
		return domain.Market{}, validationf("closes_at must be in the future")
	}
	policy := req.ResolverPolicy
	if policy == "" {
		policy = domain.ResolverSingle
	}
	if !policy.Valid() {
		return domain.Market{}, validationf("unknown resolver policy %q", policy)
	}

	return domain.Market{
		Title:          title,
		Description:    req.Description,
		Category:       req.Category,
		Outcomes:       outcomes,
		OutcomePools:   pools,
		Status:         domain.MarketStatusOpen,
		ResolverPolicy: policy,
		ClosesAt:       req.ClosesAt.UTC(),
		CreatedAt:      now,
	}, nil
}

func (s *MarketService) admitCreator(ctx context.Context, bot domain.Bot, policy domain.BotPolicy) error {
	if !bot.IsActive() {
		msg := fmt.Sprintf("bot %s is %s", bot.ID, bot.Status)
		s.alerts.Raise(ctx, bot.ID, domain.AlertAuthorization, msg, nil)
		return forbiddenf("%s", msg)
	}
	required := policy.RequiredBalanceToCreate()
	if bot.WalletBalance < required || bot.ReputationScore < policy.MinReputationToCreateMarket {
		msg := fmt.Sprintf("bot %s does not meet the market creation stake requirement", bot.ID)
		s.alerts.Raise(ctx, bot.ID, domain.AlertStakeRequirement, msg, map[string]any{
			"balance":             bot.WalletBalance,
			"required_balance":    required,
			"reputation":          bot.ReputationScore,
			"required_reputation": policy.MinReputationToCreateMarket,
		})
		return forbiddenf("%s", msg)
	}
	if err := s.limiter.CheckRate(ctx, bot.ID, policy); err != nil {
		return err
	}
	if err := s.limiter.CheckQuota(ctx, bot.ID, ActionMarketCreate, policy.MaxMarketsPerDay); err != nil {
		return err
	}
	if policy.MaxActiveMarkets > 0 {
		active, err := s.store.CountActiveMarkets(ctx, bot.ID)
		if err != nil {
			return err
		}
		if active >= policy.MaxActiveMarkets {
			msg := fmt.Sprintf("bot %s already has %d active markets", bot.ID, active)
			s.alerts.Raise(ctx, bot.ID, domain.AlertAuthorization, msg, map[string]any{"limit": policy.MaxActiveMarkets})
			return forbiddenf("%s", msg)
		}
	}
	return nil
}

// GetMarket returns one market.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets narrowed by f.
func (s *MarketService) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	markets, err := s.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// ListTrades returns the market's trades in order.
func (s *MarketService) ListTrades(ctx context.Context, marketID string) ([]domain.Trade, error) {
	trades, err := s.store.ListTrades(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades %s: %w", marketID, err)
	}
	return trades, nil
}

// Liquidity returns the market's total pool, per-outcome pools and prices.
func (s *MarketService) Liquidity(ctx context.Context, marketID string) (domain.Liquidity, error) {
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Liquidity{}, err
	}
	return domain.Liquidity{
		MarketID:     m.ID,
		TotalBDC:     m.TotalPool(),
		OutcomePools: m.OutcomePools,
		Prices:       m.Prices(),
	}, nil
}

// PriceSeries returns the traded outcome's price after each trade.
func (s *MarketService) PriceSeries(ctx context.Context, marketID string) ([]domain.PricePoint, error) {
	trades, err := s.ListTrades(ctx, marketID)
	if err != nil {
		return nil, err
	}
	points := make([]domain.PricePoint, 0, len(trades))
	for _, t := range trades {
		points = append(points, domain.PricePoint{
			TradeID:   t.ID,
			OutcomeID: t.OutcomeID,
			Price:     t.Price,
			Timestamp: t.Timestamp,
		})
	}
	return points, nil
}
