package domain

import "time"

// Trade is an immutable stake placed by a bot on one outcome. Price is the
// outcome's parimutuel price right after the stake was added.
type Trade struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	BotID     string    `json:"bot_id"`
	OutcomeID string    `json:"outcome_id"`
	AmountBDC float64   `json:"amount_bdc"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
