package domain

import "time"

// LedgerReason tags a balance mutation.
type LedgerReason string

const (
	ReasonDeposit               LedgerReason = "deposit"
	ReasonTrade                 LedgerReason = "trade"
	ReasonPayout                LedgerReason = "payout"
	ReasonMarketStake           LedgerReason = "market_stake"
	ReasonResolutionStake       LedgerReason = "resolution_stake"
	ReasonLiquidityDistribution LedgerReason = "liquidity_distribution"
	ReasonResolutionRemainder   LedgerReason = "resolution_remainder"
)

// LedgerEntry is an append-only record of one bot balance delta. The running
// sum of a bot's entries equals its wallet balance.
type LedgerEntry struct {
	ID        string       `json:"id"`
	BotID     string       `json:"bot_id"`
	MarketID  string       `json:"market_id,omitempty"`
	DeltaBDC  float64      `json:"delta_bdc"`
	Reason    LedgerReason `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
}

// TreasuryConfig controls where a settlement remainder goes.
type TreasuryConfig struct {
	SendUnpaidToTreasury      bool               `json:"send_unpaid_to_treasury"`
	LiquidityBotAllocationPct float64            `json:"liquidity_bot_allocation_pct"`
	LiquidityBotWeights       map[string]float64 `json:"liquidity_bot_weights"`
}

// LiquidityEnabled reports whether part of a remainder should be redirected
// to liquidity bots.
func (c TreasuryConfig) LiquidityEnabled() bool {
	if c.LiquidityBotAllocationPct <= 0 {
		return false
	}
	for _, w := range c.LiquidityBotWeights {
		if w > 0 {
			return true
		}
	}
	return false
}

// TreasuryState is the platform account.
type TreasuryState struct {
	BalanceBDC float64        `json:"balance_bdc"`
	Config     TreasuryConfig `json:"config"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TreasuryLedgerEntry mirrors LedgerEntry for the platform account.
type TreasuryLedgerEntry struct {
	ID        string       `json:"id"`
	MarketID  string       `json:"market_id,omitempty"`
	BotID     string       `json:"bot_id,omitempty"`
	DeltaBDC  float64      `json:"delta_bdc"`
	Reason    LedgerReason `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
}
