package domain

import "time"

// BotStatus is the operational status of a bot.
type BotStatus string

const (
	BotStatusInactive BotStatus = "inactive"
	BotStatusActive   BotStatus = "active"
	BotStatusPaused   BotStatus = "paused"
)

// Valid reports whether s is one of the known statuses.
func (s BotStatus) Valid() bool {
	switch s {
	case BotStatusInactive, BotStatusActive, BotStatusPaused:
		return true
	}
	return false
}

// Bot is an automated market participant holding a BDC wallet.
type Bot struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	APIKey          string    `json:"-"`
	WalletBalance   float64   `json:"wallet_balance_bdc"`
	ReputationScore float64   `json:"reputation_score"`
	Status          BotStatus `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsActive reports whether the bot may act on markets.
func (b Bot) IsActive() bool {
	return b.Status == BotStatusActive
}

// BotPolicy holds the per-bot limits enforced by the engine. Daily limits of
// zero mean unlimited.
type BotPolicy struct {
	BotID                       string  `json:"bot_id"`
	MaxRequestsPerMinute        int     `json:"max_requests_per_minute"`
	MaxActiveMarkets            int     `json:"max_active_markets"`
	MaxTradeBDC                 float64 `json:"max_trade_bdc"`
	MaxMarketsPerDay            int     `json:"max_markets_per_day"`
	MaxResolutionsPerDay        int     `json:"max_resolutions_per_day"`
	MinBalanceToCreateMarket    float64 `json:"min_balance_to_create_market"`
	MinReputationToCreateMarket float64 `json:"min_reputation_to_create_market"`
	MinBalanceToResolve         float64 `json:"min_balance_to_resolve"`
	MinReputationToResolve      float64 `json:"min_reputation_to_resolve"`
	MarketCreationStakeBDC      float64 `json:"market_creation_stake_bdc"`
	ResolutionStakeBDC          float64 `json:"resolution_stake_bdc"`
	AlertBalanceThresholdBDC    float64 `json:"alert_balance_threshold_bdc"`
}

// RequiredBalanceToCreate is the balance a bot must hold before it may create
// a market: the configured floor or the stake, whichever is larger.
func (p BotPolicy) RequiredBalanceToCreate() float64 {
	return max(p.MinBalanceToCreateMarket, p.MarketCreationStakeBDC)
}

// RequiredBalanceToResolve is the resolution counterpart of
// RequiredBalanceToCreate.
func (p BotPolicy) RequiredBalanceToResolve() float64 {
	return max(p.MinBalanceToResolve, p.ResolutionStakeBDC)
}
