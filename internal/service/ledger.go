package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// LedgerService is the only writer of balances. Every mutation goes through
// a store call that updates the balance and appends its entry together.
type LedgerService struct {
	store  domain.Store
	locks  domain.LockManager
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(store domain.Store, locks domain.LockManager, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		locks:  locks,
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// Credit adds amount to the bot's wallet under the bot lock.
func (s *LedgerService) Credit(ctx context.Context, botID string, amount float64, reason domain.LedgerReason, marketID string) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, validationf("credit amount must be positive, got %v", amount)
	}
	return s.lockedApply(ctx, botID, amount, reason, marketID)
}

// Debit removes amount from the bot's wallet under the bot lock.
func (s *LedgerService) Debit(ctx context.Context, botID string, amount float64, reason domain.LedgerReason, marketID string) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, validationf("debit amount must be positive, got %v", amount)
	}
	return s.lockedApply(ctx, botID, -amount, reason, marketID)
}

// Deposit credits external funds. An empty reason defaults to "deposit";
// callers may tag seed funding with their own reason.
func (s *LedgerService) Deposit(ctx context.Context, botID string, amount float64, reason string) (domain.Bot, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = string(domain.ReasonDeposit)
	}
	if amount <= 0 {
		return domain.Bot{}, validationf("deposit amount must be positive, got %v", amount)
	}

	var bot domain.Bot
	err := withBotLocks(ctx, s.locks, []string{botID}, func(ctx context.Context) error {
		var err error
		_, bot, err = s.apply(ctx, botID, amount, domain.LedgerReason(reason), "")
		return err
	})
	if err != nil {
		return domain.Bot{}, fmt.Errorf("ledger_service: deposit to %s: %w", botID, err)
	}
	s.logger.InfoContext(ctx, "ledger_service: deposit",
		slog.String("bot_id", botID),
		slog.Float64("amount", amount),
		slog.String("reason", reason),
		slog.Float64("balance", bot.WalletBalance),
	)
	return bot, nil
}

// CreditTreasury adds amount to the platform account.
func (s *LedgerService) CreditTreasury(ctx context.Context, amount float64, reason domain.LedgerReason, marketID, botID string) (domain.TreasuryLedgerEntry, error) {
	if amount <= 0 {
		return domain.TreasuryLedgerEntry{}, validationf("treasury credit must be positive, got %v", amount)
	}
	entry := domain.TreasuryLedgerEntry{
		ID:        newID(),
		MarketID:  marketID,
		BotID:     botID,
		DeltaBDC:  amount,
		Reason:    reason,
		Timestamp: s.store.Now(),
	}
	if _, err := s.store.ApplyTreasuryDelta(ctx, entry); err != nil {
		return domain.TreasuryLedgerEntry{}, fmt.Errorf("ledger_service: credit treasury: %w", err)
	}
	return entry, nil
}

// ChargeStake moves amount from the bot to the treasury as a pair of entries
// in one transaction. A zero stake is a no-op. Callers that open an outer
// transaction take the bot lock with withBotLocks first.
func (s *LedgerService) ChargeStake(ctx context.Context, botID string, amount float64, reason domain.LedgerReason, marketID string) error {
	if amount <= 0 {
		return nil
	}
	return s.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.Debit(ctx, botID, amount, reason, marketID); err != nil {
			return fmt.Errorf("ledger_service: charge %s stake: %w", reason, err)
		}
		if _, err := s.CreditTreasury(ctx, amount, reason, marketID, botID); err != nil {
			return fmt.Errorf("ledger_service: charge %s stake: %w", reason, err)
		}
		return nil
	})
}

// BotLedger returns the bot's entries in order.
func (s *LedgerService) BotLedger(ctx context.Context, botID string) ([]domain.LedgerEntry, error) {
	entries, err := s.store.ListLedger(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: bot ledger %s: %w", botID, err)
	}
	return entries, nil
}

// TreasuryLedger returns the treasury entries in order.
func (s *LedgerService) TreasuryLedger(ctx context.Context) ([]domain.TreasuryLedgerEntry, error) {
	entries, err := s.store.ListTreasuryLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: treasury ledger: %w", err)
	}
	return entries, nil
}

// Treasury returns the treasury balance and configuration.
func (s *LedgerService) Treasury(ctx context.Context) (domain.TreasuryState, error) {
	st, err := s.store.GetTreasury(ctx)
	if err != nil {
		return domain.TreasuryState{}, fmt.Errorf("ledger_service: treasury: %w", err)
	}
	return st, nil
}

// ConfigureTreasury validates and stores the remainder routing.
func (s *LedgerService) ConfigureTreasury(ctx context.Context, cfg domain.TreasuryConfig) error {
	if cfg.LiquidityBotAllocationPct < 0 || cfg.LiquidityBotAllocationPct > 1 {
		return validationf("liquidity_bot_allocation_pct must be within [0, 1], got %v", cfg.LiquidityBotAllocationPct)
	}
	for botID, w := range cfg.LiquidityBotWeights {
		if w < 0 {
			return validationf("liquidity weight for %s must not be negative", botID)
		}
	}
	if err := s.store.SaveTreasuryConfig(ctx, cfg); err != nil {
		return fmt.Errorf("ledger_service: configure treasury: %w", err)
	}
	return nil
}

// lockedApply writes one delta under the bot lock, reusing it when ctx
// already holds it.
func (s *LedgerService) lockedApply(ctx context.Context, botID string, delta float64, reason domain.LedgerReason, marketID string) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := withBotLocks(ctx, s.locks, []string{botID}, func(ctx context.Context) error {
		var err error
		entry, _, err = s.apply(ctx, botID, delta, reason, marketID)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger_service: apply %s to %s: %w", reason, botID, err)
	}
	return entry, nil
}

// apply writes one delta without locking; the caller holds the bot lock.
func (s *LedgerService) apply(ctx context.Context, botID string, delta float64, reason domain.LedgerReason, marketID string) (domain.LedgerEntry, domain.Bot, error) {
	entry := domain.LedgerEntry{
		ID:        newID(),
		BotID:     botID,
		MarketID:  marketID,
		DeltaBDC:  delta,
		Reason:    reason,
		Timestamp: s.store.Now(),
	}
	bot, err := s.store.ApplyBotDelta(ctx, entry)
	if err != nil {
		return domain.LedgerEntry{}, domain.Bot{}, err
	}
	return entry, bot, nil
}
