package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/prediclaw/internal/crypto"
	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// BotStore implements domain.BotStore. API keys are looked up by their
// SHA-256 hash and kept sealed so webhook signing can recover them.
type BotStore struct {
	client *Client
	box    *crypto.SecretBox
}

// NewBotStore creates a BotStore.
func NewBotStore(client *Client, box *crypto.SecretBox) *BotStore {
	return &BotStore{client: client, box: box}
}

const botSelectCols = `id, name, api_key_sealed, wallet_balance, reputation_score, status, created_at`

func (s *BotStore) scanBot(row pgx.Row) (domain.Bot, error) {
	var b domain.Bot
	var sealed, status string
	if err := row.Scan(&b.ID, &b.Name, &sealed, &b.WalletBalance, &b.ReputationScore, &status, &b.CreatedAt); err != nil {
		return domain.Bot{}, err
	}
	b.Status = domain.BotStatus(status)
	key, err := s.box.Open(sealed)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("open api key: %w", err)
	}
	b.APIKey = key
	return b, nil
}

// CreateBot inserts the bot and its policy in one transaction.
func (s *BotStore) CreateBot(ctx context.Context, bot domain.Bot, policy domain.BotPolicy) error {
	sealed, err := s.box.Seal(bot.APIKey)
	if err != nil {
		return fmt.Errorf("postgres: seal api key for %s: %w", bot.ID, err)
	}
	policy.BotID = bot.ID

	return s.client.WithinTx(ctx, func(ctx context.Context) error {
		const query = `
			INSERT INTO bots (id, name, api_key_hash, api_key_sealed, wallet_balance, reputation_score, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := s.client.q(ctx).Exec(ctx, query,
			bot.ID, bot.Name, crypto.HashAPIKey(bot.APIKey), sealed,
			bot.WalletBalance, bot.ReputationScore, string(bot.Status), bot.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: create bot %s: %w", bot.ID, translate(err))
		}
		return s.SavePolicy(ctx, policy)
	})
}

// GetBot returns one bot.
func (s *BotStore) GetBot(ctx context.Context, id string) (domain.Bot, error) {
	row := s.client.q(ctx).QueryRow(ctx, `SELECT `+botSelectCols+` FROM bots WHERE id = $1`, id)
	b, err := s.scanBot(row)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: get bot %s: %w", id, translate(err))
	}
	return b, nil
}

// GetBotByAPIKey resolves an API key through its hash.
func (s *BotStore) GetBotByAPIKey(ctx context.Context, apiKey string) (domain.Bot, error) {
	row := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+botSelectCols+` FROM bots WHERE api_key_hash = $1`, crypto.HashAPIKey(apiKey))
	b, err := s.scanBot(row)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: get bot by api key: %w", translate(err))
	}
	return b, nil
}

// ListBots returns bots in creation order.
func (s *BotStore) ListBots(ctx context.Context, opts domain.ListOpts) ([]domain.Bot, error) {
	query := `SELECT ` + botSelectCols + ` FROM bots ORDER BY seq`
	query, args := paginate(query, nil, opts.Limit, opts.Offset)

	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots: %w", err)
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		b, err := s.scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bots rows: %w", err)
	}
	return bots, nil
}

// UpdateBotStatus sets the bot's status.
func (s *BotStore) UpdateBotStatus(ctx context.Context, id string, status domain.BotStatus) error {
	return s.exec(ctx, "update bot status", id, `UPDATE bots SET status = $2 WHERE id = $1`, id, string(status))
}

// UpdateBotReputation sets the bot's reputation score.
func (s *BotStore) UpdateBotReputation(ctx context.Context, id string, score float64) error {
	return s.exec(ctx, "update bot reputation", id, `UPDATE bots SET reputation_score = $2 WHERE id = $1`, id, score)
}

func (s *BotStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.client.q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

const policySelectCols = `bot_id, max_requests_per_minute, max_active_markets, max_trade_bdc,
	max_markets_per_day, max_resolutions_per_day,
	min_balance_to_create_market, min_reputation_to_create_market,
	min_balance_to_resolve, min_reputation_to_resolve,
	market_creation_stake_bdc, resolution_stake_bdc, alert_balance_threshold_bdc`

// GetPolicy returns the bot's policy.
func (s *BotStore) GetPolicy(ctx context.Context, botID string) (domain.BotPolicy, error) {
	var p domain.BotPolicy
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+policySelectCols+` FROM bot_policies WHERE bot_id = $1`, botID,
	).Scan(
		&p.BotID, &p.MaxRequestsPerMinute, &p.MaxActiveMarkets, &p.MaxTradeBDC,
		&p.MaxMarketsPerDay, &p.MaxResolutionsPerDay,
		&p.MinBalanceToCreateMarket, &p.MinReputationToCreateMarket,
		&p.MinBalanceToResolve, &p.MinReputationToResolve,
		&p.MarketCreationStakeBDC, &p.ResolutionStakeBDC, &p.AlertBalanceThresholdBDC,
	)
	if err != nil {
		return domain.BotPolicy{}, fmt.Errorf("postgres: get policy %s: %w", botID, translate(err))
	}
	return p, nil
}

// SavePolicy upserts the bot's policy.
func (s *BotStore) SavePolicy(ctx context.Context, p domain.BotPolicy) error {
	const query = `
		INSERT INTO bot_policies (` + policySelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (bot_id) DO UPDATE SET
			max_requests_per_minute         = EXCLUDED.max_requests_per_minute,
			max_active_markets              = EXCLUDED.max_active_markets,
			max_trade_bdc                   = EXCLUDED.max_trade_bdc,
			max_markets_per_day             = EXCLUDED.max_markets_per_day,
			max_resolutions_per_day         = EXCLUDED.max_resolutions_per_day,
			min_balance_to_create_market    = EXCLUDED.min_balance_to_create_market,
			min_reputation_to_create_market = EXCLUDED.min_reputation_to_create_market,
			min_balance_to_resolve          = EXCLUDED.min_balance_to_resolve,
			min_reputation_to_resolve       = EXCLUDED.min_reputation_to_resolve,
			market_creation_stake_bdc       = EXCLUDED.market_creation_stake_bdc,
			resolution_stake_bdc            = EXCLUDED.resolution_stake_bdc,
			alert_balance_threshold_bdc     = EXCLUDED.alert_balance_threshold_bdc`

	_, err := s.client.q(ctx).Exec(ctx, query,
		p.BotID, p.MaxRequestsPerMinute, p.MaxActiveMarkets, p.MaxTradeBDC,
		p.MaxMarketsPerDay, p.MaxResolutionsPerDay,
		p.MinBalanceToCreateMarket, p.MinReputationToCreateMarket,
		p.MinBalanceToResolve, p.MinReputationToResolve,
		p.MarketCreationStakeBDC, p.ResolutionStakeBDC, p.AlertBalanceThresholdBDC,
	)
	if err != nil {
		return fmt.Errorf("postgres: save policy %s: %w", p.BotID, translate(err))
	}
	return nil
}

// paginate appends LIMIT and OFFSET placeholders after the existing args.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var _ domain.BotStore = (*BotStore)(nil)
