package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	client *Client
}

// NewMarketStore creates a MarketStore.
func NewMarketStore(client *Client) *MarketStore {
	return &MarketStore{client: client}
}

const marketSelectCols = `id, creator_bot_id, title, description, category, outcomes,
	outcome_pools, status, resolver_policy, closes_at, resolved_at, created_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var pools []byte
	var status, policy string
	err := row.Scan(
		&m.ID, &m.CreatorBotID, &m.Title, &m.Description, &m.Category, &m.Outcomes,
		&pools, &status, &policy, &m.ClosesAt, &m.ResolvedAt, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.ResolverPolicy = domain.ResolverPolicy(policy)
	if err := json.Unmarshal(pools, &m.OutcomePools); err != nil {
		return domain.Market{}, fmt.Errorf("decode outcome pools: %w", err)
	}
	return m, nil
}

// CreateMarket inserts a new market.
func (s *MarketStore) CreateMarket(ctx context.Context, m domain.Market) error {
	pools, err := json.Marshal(m.OutcomePools)
	if err != nil {
		return fmt.Errorf("postgres: encode pools for %s: %w", m.ID, err)
	}
	const query = `
		INSERT INTO markets (
			id, creator_bot_id, title, description, category, outcomes,
			outcome_pools, status, resolver_policy, closes_at, resolved_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.client.q(ctx).Exec(ctx, query,
		m.ID, m.CreatorBotID, m.Title, m.Description, m.Category, m.Outcomes,
		pools, string(m.Status), string(m.ResolverPolicy), m.ClosesAt, m.ResolvedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, translate(err))
	}
	return nil
}

// GetMarket returns one market.
func (s *MarketStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.client.q(ctx).QueryRow(ctx, `SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, translate(err))
	}
	return m, nil
}

// SaveMarket writes the mutable market state: pools, status and resolution
// time.
func (s *MarketStore) SaveMarket(ctx context.Context, m domain.Market) error {
	pools, err := json.Marshal(m.OutcomePools)
	if err != nil {
		return fmt.Errorf("postgres: encode pools for %s: %w", m.ID, err)
	}
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE markets SET outcome_pools = $2, status = $3, resolved_at = $4
		WHERE id = $1`,
		m.ID, pools, string(m.Status), m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// ListMarkets returns markets in creation order narrowed by f.
func (s *MarketStore) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CreatorBotID != "" {
		add("creator_bot_id = $%d", f.CreatorBotID)
	}
	if f.ResolverPolicy != "" {
		add("resolver_policy = $%d", string(f.ResolverPolicy))
	}
	if f.ClosesBefore != nil {
		add("closes_at <= $%d", *f.ClosesBefore)
	}

	query := `SELECT ` + marketSelectCols + ` FROM markets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// CountActiveMarkets counts the creator's unresolved markets.
func (s *MarketStore) CountActiveMarkets(ctx context.Context, creatorBotID string) (int, error) {
	var n int
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM markets WHERE creator_bot_id = $1 AND status <> $2`,
		creatorBotID, string(domain.MarketStatusResolved),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active markets %s: %w", creatorBotID, err)
	}
	return n, nil
}

// AppendTrade inserts an immutable trade.
func (s *MarketStore) AppendTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.client.q(ctx).Exec(ctx, `
		INSERT INTO trades (id, market_id, bot_id, outcome_id, amount_bdc, price, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.MarketID, t.BotID, t.OutcomeID, t.AmountBDC, t.Price, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", t.ID, translate(err))
	}
	return nil
}

// ListTrades returns the market's trades in insertion order.
func (s *MarketStore) ListTrades(ctx context.Context, marketID string) ([]domain.Trade, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT id, market_id, bot_id, outcome_id, amount_bdc, price, ts
		FROM trades WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", marketID, err)
	}
	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Trade, error) {
		var t domain.Trade
		err := row.Scan(&t.ID, &t.MarketID, &t.BotID, &t.OutcomeID, &t.AmountBDC, &t.Price, &t.Timestamp)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", marketID, err)
	}
	return trades, nil
}

// SaveResolution stores the resolution and its votes. The market_id primary
// key makes a second resolution fail with ErrAlreadyExists.
func (s *MarketStore) SaveResolution(ctx context.Context, r domain.Resolution) error {
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: encode evidence for %s: %w", r.MarketID, err)
	}
	return s.client.WithinTx(ctx, func(ctx context.Context) error {
		q := s.client.q(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO resolutions (market_id, resolved_outcome_id, policy, resolver_bot_ids, evidence, automatic, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.MarketID, r.ResolvedOutcomeID, string(r.Policy), r.ResolverBotIDs, evidence, r.Automatic, r.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("postgres: save resolution %s: %w", r.MarketID, translate(err))
		}

		batch := &pgx.Batch{}
		for _, v := range r.Votes {
			batch.Queue(`
				INSERT INTO resolution_votes (market_id, resolver_bot_id, outcome_id, weight)
				VALUES ($1, $2, $3, $4)`,
				r.MarketID, v.ResolverBotID, v.OutcomeID, v.Weight,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		br := q.SendBatch(ctx, batch)
		defer br.Close()
		for i := range r.Votes {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("postgres: save vote batch item %d: %w", i, translate(err))
			}
		}
		return nil
	})
}

// GetResolution returns the market's resolution with its votes.
func (s *MarketStore) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	q := s.client.q(ctx)
	var r domain.Resolution
	var policy string
	var evidence []byte
	err := q.QueryRow(ctx, `
		SELECT market_id, resolved_outcome_id, policy, resolver_bot_ids, evidence, automatic, ts
		FROM resolutions WHERE market_id = $1`, marketID,
	).Scan(&r.MarketID, &r.ResolvedOutcomeID, &policy, &r.ResolverBotIDs, &evidence, &r.Automatic, &r.Timestamp)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution %s: %w", marketID, translate(err))
	}
	r.Policy = domain.ResolverPolicy(policy)
	if err := json.Unmarshal(evidence, &r.Evidence); err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: decode evidence %s: %w", marketID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT market_id, resolver_bot_id, outcome_id, weight
		FROM resolution_votes WHERE market_id = $1 ORDER BY resolver_bot_id`, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: list votes %s: %w", marketID, err)
	}
	r.Votes, err = pgx.CollectRows(rows, pgx.RowToStructByPos[domain.ResolutionVote])
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: list votes %s: %w", marketID, err)
	}
	return r, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
