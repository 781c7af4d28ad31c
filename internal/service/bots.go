package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/prediclaw/internal/crypto"
	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// BotService manages bot identities, policies and deposits.
type BotService struct {
	store    domain.Store
	locks    domain.LockManager
	ledger   *LedgerService
	limiter  *Limiter
	events   *EventPublisher
	defaults domain.BotPolicy
	logger   *slog.Logger
}

// NewBotService creates a BotService. defaults is copied into the policy of
// every new bot.
func NewBotService(
	store domain.Store,
	locks domain.LockManager,
	ledger *LedgerService,
	limiter *Limiter,
	events *EventPublisher,
	defaults domain.BotPolicy,
	logger *slog.Logger,
) *BotService {
	return &BotService{
		store:    store,
		locks:    locks,
		ledger:   ledger,
		limiter:  limiter,
		events:   events,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "bot_service")),
	}
}

// RegisterBot creates an inactive bot with a fresh API key and the default
// policy. The returned bot is the only place the API key is exposed.
func (s *BotService) RegisterBot(ctx context.Context, name string) (domain.Bot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Bot{}, validationf("name is required")
	}
	apiKey, err := crypto.GenerateAPIKey()
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: register: %w", err)
	}

	bot := domain.Bot{
		ID:        newID(),
		Name:      name,
		APIKey:    apiKey,
		Status:    domain.BotStatusInactive,
		CreatedAt: s.store.Now(),
	}
	policy := s.defaults
	policy.BotID = bot.ID
	if err := s.store.CreateBot(ctx, bot, policy); err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: register %s: %w", name, err)
	}

	s.logger.InfoContext(ctx, "bot_service: bot registered",
		slog.String("bot_id", bot.ID),
		slog.String("name", name),
	)
	return bot, nil
}

// Authenticate resolves an API key to its bot.
func (s *BotService) Authenticate(ctx context.Context, apiKey string) (domain.Bot, error) {
	if apiKey == "" {
		return domain.Bot{}, fmt.Errorf("%w: missing api key", domain.ErrUnauthorized)
	}
	bot, err := s.store.GetBotByAPIKey(ctx, apiKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Bot{}, fmt.Errorf("%w: unknown api key", domain.ErrUnauthorized)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: authenticate: %w", err)
	}
	return bot, nil
}

// GetBot returns one bot.
func (s *BotService) GetBot(ctx context.Context, id string) (domain.Bot, error) {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: get %s: %w", id, err)
	}
	return bot, nil
}

// ListBots returns bots in creation order.
func (s *BotService) ListBots(ctx context.Context, opts domain.ListOpts) ([]domain.Bot, error) {
	bots, err := s.store.ListBots(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("bot_service: list: %w", err)
	}
	return bots, nil
}

// UpdateStatus changes the bot's status and emits bot_status_changed.
func (s *BotService) UpdateStatus(ctx context.Context, botID string, status domain.BotStatus) (domain.Bot, error) {
	if !status.Valid() {
		return domain.Bot{}, validationf("unknown status %q", status)
	}

	var bot domain.Bot
	err := withLock(ctx, s.locks, botLockKey(botID), func() error {
		current, err := s.store.GetBot(ctx, botID)
		if err != nil {
			return err
		}
		if current.Status == status {
			bot = current
			return nil
		}
		err = s.events.Atomic(ctx, func(ctx context.Context) error {
			if err := s.store.UpdateBotStatus(ctx, botID, status); err != nil {
				return err
			}
			_, err := s.events.Record(ctx, domain.EventBotStatusChanged, "", botID, map[string]any{
				"from": string(current.Status),
				"to":   string(status),
			})
			return err
		})
		if err != nil {
			return err
		}
		bot = current
		bot.Status = status
		return nil
	})
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: update status %s: %w", botID, err)
	}
	return bot, nil
}

// GetPolicy returns the bot's policy.
func (s *BotService) GetPolicy(ctx context.Context, botID string) (domain.BotPolicy, error) {
	p, err := s.store.GetPolicy(ctx, botID)
	if err != nil {
		return domain.BotPolicy{}, fmt.Errorf("bot_service: get policy %s: %w", botID, err)
	}
	return p, nil
}

// UpdatePolicy replaces the bot's policy.
func (s *BotService) UpdatePolicy(ctx context.Context, policy domain.BotPolicy) (domain.BotPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return domain.BotPolicy{}, err
	}
	if err := s.store.SavePolicy(ctx, policy); err != nil {
		return domain.BotPolicy{}, fmt.Errorf("bot_service: update policy %s: %w", policy.BotID, err)
	}
	return policy, nil
}

func validatePolicy(p domain.BotPolicy) error {
	ints := map[string]int{
		"max_requests_per_minute": p.MaxRequestsPerMinute,
		"max_active_markets":      p.MaxActiveMarkets,
		"max_markets_per_day":     p.MaxMarketsPerDay,
		"max_resolutions_per_day": p.MaxResolutionsPerDay,
	}
	for name, v := range ints {
		if v < 0 {
			return validationf("%s must not be negative", name)
		}
	}
	floats := map[string]float64{
		"max_trade_bdc":                   p.MaxTradeBDC,
		"min_balance_to_create_market":    p.MinBalanceToCreateMarket,
		"min_reputation_to_create_market": p.MinReputationToCreateMarket,
		"min_balance_to_resolve":          p.MinBalanceToResolve,
		"min_reputation_to_resolve":       p.MinReputationToResolve,
		"market_creation_stake_bdc":       p.MarketCreationStakeBDC,
		"resolution_stake_bdc":            p.ResolutionStakeBDC,
		"alert_balance_threshold_bdc":     p.AlertBalanceThresholdBDC,
	}
	for name, v := range floats {
		if v < 0 {
			return validationf("%s must not be negative", name)
		}
	}
	return nil
}

// Deposit credits external funds after the rate gate. Deposits are accepted
// from bots in any status.
func (s *BotService) Deposit(ctx context.Context, botID string, amount float64, reason string) (domain.Bot, error) {
	policy, err := s.store.GetPolicy(ctx, botID)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: deposit %s: %w", botID, err)
	}
	if err := s.limiter.CheckRate(ctx, botID, policy); err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: deposit %s: %w", botID, err)
	}
	return s.ledger.Deposit(ctx, botID, amount, reason)
}

// SetReputation overwrites the bot's reputation score.
func (s *BotService) SetReputation(ctx context.Context, botID string, score float64) (domain.Bot, error) {
	if score < 0 {
		return domain.Bot{}, validationf("reputation must not be negative")
	}
	var bot domain.Bot
	err := withLock(ctx, s.locks, botLockKey(botID), func() error {
		if err := s.store.UpdateBotReputation(ctx, botID, score); err != nil {
			return err
		}
		var err error
		bot, err = s.store.GetBot(ctx, botID)
		return err
	})
	if err != nil {
		return domain.Bot{}, fmt.Errorf("bot_service: set reputation %s: %w", botID, err)
	}
	return bot, nil
}
