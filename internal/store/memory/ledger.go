package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// ApplyBotDelta moves a bot balance and appends the ledger entry in one step.
func (s *Store) ApplyBotDelta(ctx context.Context, entry domain.LedgerEntry) (domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[entry.BotID]
	if !ok {
		return domain.Bot{}, fmt.Errorf("memory: apply delta to bot %s: %w", entry.BotID, domain.ErrNotFound)
	}
	if b.WalletBalance+entry.DeltaBDC < 0 {
		return domain.Bot{}, fmt.Errorf("memory: apply delta %.8f to bot %s: %w", entry.DeltaBDC, entry.BotID, domain.ErrInsufficientFunds)
	}
	b.WalletBalance += entry.DeltaBDC
	s.bots[b.ID] = b
	s.ledger[b.ID] = append(s.ledger[b.ID], entry)

	record(ctx, func() {
		if cur, ok := s.bots[entry.BotID]; ok {
			cur.WalletBalance -= entry.DeltaBDC
			s.bots[entry.BotID] = cur
		}
		s.ledger[entry.BotID] = slices.DeleteFunc(s.ledger[entry.BotID], func(e domain.LedgerEntry) bool {
			return e.ID == entry.ID
		})
	})
	return b, nil
}

// ListLedger returns a bot's ledger entries in insertion order.
func (s *Store) ListLedger(_ context.Context, botID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.bots[botID]; !ok {
		return nil, fmt.Errorf("memory: list ledger %s: %w", botID, domain.ErrNotFound)
	}
	return slices.Clone(s.ledger[botID]), nil
}

// ApplyTreasuryDelta moves the treasury balance and appends the entry.
func (s *Store) ApplyTreasuryDelta(ctx context.Context, entry domain.TreasuryLedgerEntry) (domain.TreasuryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.treasury.BalanceBDC+entry.DeltaBDC < 0 {
		return domain.TreasuryState{}, fmt.Errorf("memory: apply treasury delta %.8f: %w", entry.DeltaBDC, domain.ErrInsufficientFunds)
	}
	prevUpdated := s.treasury.UpdatedAt
	s.treasury.BalanceBDC += entry.DeltaBDC
	s.treasury.UpdatedAt = entry.Timestamp
	s.treasuryLedger = append(s.treasuryLedger, entry)

	record(ctx, func() {
		s.treasury.BalanceBDC -= entry.DeltaBDC
		s.treasury.UpdatedAt = prevUpdated
		s.treasuryLedger = slices.DeleteFunc(s.treasuryLedger, func(e domain.TreasuryLedgerEntry) bool {
			return e.ID == entry.ID
		})
	})
	return s.treasuryCopy(), nil
}

// GetTreasury returns the current treasury state.
func (s *Store) GetTreasury(_ context.Context) (domain.TreasuryState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.treasuryCopy(), nil
}

// SaveTreasuryConfig replaces the remainder routing configuration.
func (s *Store) SaveTreasuryConfig(ctx context.Context, cfg domain.TreasuryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.treasury.Config
	s.treasury.Config = domain.TreasuryConfig{
		SendUnpaidToTreasury:      cfg.SendUnpaidToTreasury,
		LiquidityBotAllocationPct: cfg.LiquidityBotAllocationPct,
		LiquidityBotWeights:       maps.Clone(cfg.LiquidityBotWeights),
	}
	record(ctx, func() { s.treasury.Config = prev })
	return nil
}

// ListTreasuryLedger returns treasury entries in insertion order.
func (s *Store) ListTreasuryLedger(_ context.Context) ([]domain.TreasuryLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.treasuryLedger), nil
}

func (s *Store) treasuryCopy() domain.TreasuryState {
	t := s.treasury
	t.Config.LiquidityBotWeights = maps.Clone(t.Config.LiquidityBotWeights)
	return t
}
