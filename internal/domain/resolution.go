package domain

import "time"

// EvidenceItem supports a resolution decision.
type EvidenceItem struct {
	Source      string    `json:"source"`
	Description string    `json:"description"`
	URL         string    `json:"url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResolutionVote links a resolver to the outcome it voted for. Weight is 1 for
// majority markets and the resolver's reputation for consensus markets.
type ResolutionVote struct {
	MarketID      string  `json:"market_id"`
	ResolverBotID string  `json:"resolver_bot_id"`
	OutcomeID     string  `json:"outcome_id"`
	Weight        float64 `json:"weight"`
}

// Resolution is the single, final decision on a market.
type Resolution struct {
	MarketID          string           `json:"market_id"`
	ResolvedOutcomeID string           `json:"resolved_outcome_id"`
	Policy            ResolverPolicy   `json:"policy"`
	ResolverBotIDs    []string         `json:"resolver_bot_ids"`
	Evidence          []EvidenceItem   `json:"evidence"`
	Votes             []ResolutionVote `json:"votes,omitempty"`
	Automatic         bool             `json:"automatic"`
	Timestamp         time.Time        `json:"timestamp"`
}

// SettlementReport describes every BDC movement produced by settling one
// market. TotalPool always equals the sum of payouts, liquidity
// distributions, the treasury credit and the burned remainder.
type SettlementReport struct {
	MarketID               string        `json:"market_id"`
	WinningOutcome         string        `json:"winning_outcome"`
	TotalPool              float64       `json:"total_pool"`
	WinningPool            float64       `json:"winning_pool"`
	Payouts                []LedgerEntry `json:"payouts"`
	LiquidityDistributions []LedgerEntry `json:"liquidity_distributions"`
	TreasuryCredit         float64       `json:"treasury_credit"`
	BurnedRemainder        float64       `json:"burned_remainder"`
	Resolution             Resolution    `json:"resolution"`
	SettledAt              time.Time     `json:"settled_at"`
}

// PayoutTotal sums the payout entries.
func (r SettlementReport) PayoutTotal() float64 {
	var sum float64
	for _, p := range r.Payouts {
		sum += p.DeltaBDC
	}
	return sum
}

// LiquidityTotal sums the liquidity distribution entries.
func (r SettlementReport) LiquidityTotal() float64 {
	var sum float64
	for _, d := range r.LiquidityDistributions {
		sum += d.DeltaBDC
	}
	return sum
}
