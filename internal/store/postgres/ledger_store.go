package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// LedgerStore implements domain.LedgerStore. Balances change only together
// with the ledger row describing the change.
type LedgerStore struct {
	client *Client
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(client *Client) *LedgerStore {
	return &LedgerStore{client: client}
}

// ApplyBotDelta adds the delta under a row lock and appends the entry.
func (s *LedgerStore) ApplyBotDelta(ctx context.Context, entry domain.LedgerEntry) (domain.Bot, error) {
	var bot domain.Bot
	err := s.client.WithinTx(ctx, func(ctx context.Context) error {
		q := s.client.q(ctx)

		var balance float64
		err := q.QueryRow(ctx, `SELECT wallet_balance FROM bots WHERE id = $1 FOR UPDATE`, entry.BotID).Scan(&balance)
		if err != nil {
			return translate(err)
		}
		if balance+entry.DeltaBDC < 0 {
			return domain.ErrInsufficientFunds
		}

		var status string
		err = q.QueryRow(ctx, `
			UPDATE bots SET wallet_balance = wallet_balance + $2
			WHERE id = $1
			RETURNING id, name, wallet_balance, reputation_score, status, created_at`,
			entry.BotID, entry.DeltaBDC,
		).Scan(&bot.ID, &bot.Name, &bot.WalletBalance, &bot.ReputationScore, &status, &bot.CreatedAt)
		if err != nil {
			return err
		}
		bot.Status = domain.BotStatus(status)

		_, err = q.Exec(ctx, `
			INSERT INTO ledger_entries (id, bot_id, market_id, delta_bdc, reason, ts)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, entry.BotID, entry.MarketID, entry.DeltaBDC, string(entry.Reason), entry.Timestamp,
		)
		return translate(err)
	})
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: apply delta to %s: %w", entry.BotID, err)
	}
	return bot, nil
}

// ListLedger returns the bot's entries in insertion order.
func (s *LedgerStore) ListLedger(ctx context.Context, botID string) ([]domain.LedgerEntry, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT id, bot_id, market_id, delta_bdc, reason, ts
		FROM ledger_entries WHERE bot_id = $1 ORDER BY seq`, botID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger %s: %w", botID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LedgerEntry, error) {
		var e domain.LedgerEntry
		var reason string
		err := row.Scan(&e.ID, &e.BotID, &e.MarketID, &e.DeltaBDC, &reason, &e.Timestamp)
		e.Reason = domain.LedgerReason(reason)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger %s: %w", botID, err)
	}
	return entries, nil
}

// ApplyTreasuryDelta adds the delta to the platform account and appends the
// entry.
func (s *LedgerStore) ApplyTreasuryDelta(ctx context.Context, entry domain.TreasuryLedgerEntry) (domain.TreasuryState, error) {
	var st domain.TreasuryState
	err := s.client.WithinTx(ctx, func(ctx context.Context) error {
		q := s.client.q(ctx)
		var cfg []byte
		err := q.QueryRow(ctx, `
			UPDATE treasury SET balance_bdc = balance_bdc + $1, updated_at = $2
			WHERE id = 1
			RETURNING balance_bdc, config, updated_at`,
			entry.DeltaBDC, entry.Timestamp,
		).Scan(&st.BalanceBDC, &cfg, &st.UpdatedAt)
		if err != nil {
			return translate(err)
		}
		if err := json.Unmarshal(cfg, &st.Config); err != nil {
			return fmt.Errorf("decode treasury config: %w", err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO treasury_ledger (id, market_id, bot_id, delta_bdc, reason, ts)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, entry.MarketID, entry.BotID, entry.DeltaBDC, string(entry.Reason), entry.Timestamp,
		)
		return translate(err)
	})
	if err != nil {
		return domain.TreasuryState{}, fmt.Errorf("postgres: apply treasury delta: %w", err)
	}
	return st, nil
}

// GetTreasury returns the platform account.
func (s *LedgerStore) GetTreasury(ctx context.Context) (domain.TreasuryState, error) {
	var st domain.TreasuryState
	var cfg []byte
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT balance_bdc, config, updated_at FROM treasury WHERE id = 1`,
	).Scan(&st.BalanceBDC, &cfg, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TreasuryState{}, nil
	}
	if err != nil {
		return domain.TreasuryState{}, fmt.Errorf("postgres: get treasury: %w", err)
	}
	if err := json.Unmarshal(cfg, &st.Config); err != nil {
		return domain.TreasuryState{}, fmt.Errorf("postgres: decode treasury config: %w", err)
	}
	return st, nil
}

// SaveTreasuryConfig replaces the remainder routing configuration.
func (s *LedgerStore) SaveTreasuryConfig(ctx context.Context, cfg domain.TreasuryConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: encode treasury config: %w", err)
	}
	_, err = s.client.q(ctx).Exec(ctx, `
		INSERT INTO treasury (id, config) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config`, raw)
	if err != nil {
		return fmt.Errorf("postgres: save treasury config: %w", err)
	}
	return nil
}

// ListTreasuryLedger returns the treasury entries in insertion order.
func (s *LedgerStore) ListTreasuryLedger(ctx context.Context) ([]domain.TreasuryLedgerEntry, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT id, market_id, bot_id, delta_bdc, reason, ts
		FROM treasury_ledger ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list treasury ledger: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TreasuryLedgerEntry, error) {
		var e domain.TreasuryLedgerEntry
		var reason string
		err := row.Scan(&e.ID, &e.MarketID, &e.BotID, &e.DeltaBDC, &reason, &e.Timestamp)
		e.Reason = domain.LedgerReason(reason)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list treasury ledger: %w", err)
	}
	return entries, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
