package domain

import (
	"maps"
	"slices"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// ResolverPolicy selects the algorithm that decides a market's outcome.
type ResolverPolicy string

const (
	ResolverSingle    ResolverPolicy = "single"
	ResolverMajority  ResolverPolicy = "majority"
	ResolverConsensus ResolverPolicy = "consensus"
)

// Valid reports whether p is a known resolver policy.
func (p ResolverPolicy) Valid() bool {
	switch p {
	case ResolverSingle, ResolverMajority, ResolverConsensus:
		return true
	}
	return false
}

// Market is a discrete-outcome parimutuel market. OutcomePools holds the BDC
// staked on each outcome; the outcome set never changes after creation.
type Market struct {
	ID             string             `json:"id"`
	CreatorBotID   string             `json:"creator_bot_id"`
	Title          string             `json:"title"`
	Description    string             `json:"description,omitempty"`
	Category       string             `json:"category,omitempty"`
	Outcomes       []string           `json:"outcomes"`
	OutcomePools   map[string]float64 `json:"outcome_pools"`
	Status         MarketStatus       `json:"status"`
	ResolverPolicy ResolverPolicy     `json:"resolver_policy"`
	ClosesAt       time.Time          `json:"closes_at"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// HasOutcome reports whether outcome belongs to the market's outcome set.
func (m Market) HasOutcome(outcome string) bool {
	return slices.Contains(m.Outcomes, outcome)
}

// TotalPool is the sum of all outcome pools.
func (m Market) TotalPool() float64 {
	var total float64
	for _, o := range m.Outcomes {
		total += m.OutcomePools[o]
	}
	return total
}

// Price is the parimutuel share of outcome in the total pool, or 0 when the
// market holds no stake yet.
func (m Market) Price(outcome string) float64 {
	total := m.TotalPool()
	if total <= 0 {
		return 0
	}
	return m.OutcomePools[outcome] / total
}

// Prices returns the price of every outcome.
func (m Market) Prices() map[string]float64 {
	out := make(map[string]float64, len(m.Outcomes))
	for _, o := range m.Outcomes {
		out[o] = m.Price(o)
	}
	return out
}

// IsExpired is the derived "closed" predicate: the market's trading window
// has ended, whether or not the scheduler has written the closed status yet.
func (m Market) IsExpired(now time.Time) bool {
	return !now.Before(m.ClosesAt)
}

// AcceptsTrades reports whether a trade may be applied at now.
func (m Market) AcceptsTrades(now time.Time) bool {
	return m.Status == MarketStatusOpen && !m.IsExpired(now)
}

// IsResolved reports whether the market reached its terminal state.
func (m Market) IsResolved() bool {
	return m.Status == MarketStatusResolved
}

// Clone returns a deep copy so callers can mutate pools without aliasing.
func (m Market) Clone() Market {
	c := m
	c.Outcomes = slices.Clone(m.Outcomes)
	c.OutcomePools = maps.Clone(m.OutcomePools)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// MarketFilter narrows ListMarkets results. Zero values match everything.
type MarketFilter struct {
	Status         MarketStatus
	CreatorBotID   string
	ResolverPolicy ResolverPolicy
	ClosesBefore   *time.Time
	Limit          int
	Offset         int
}

// Liquidity summarises the stake held by a market.
type Liquidity struct {
	MarketID     string             `json:"market_id"`
	TotalBDC     float64            `json:"total_bdc"`
	OutcomePools map[string]float64 `json:"outcome_pools"`
	Prices       map[string]float64 `json:"prices"`
}

// PricePoint is the price of one outcome right after a trade.
type PricePoint struct {
	TradeID   string    `json:"trade_id"`
	OutcomeID string    `json:"outcome_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
