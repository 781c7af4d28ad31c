package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}

// Clock abstracts the current time so tests can drive it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Transactor runs fn inside a store transaction. Store calls made with the
// context passed to fn join the transaction; nested calls reuse it. A non-nil
// error from fn rolls every write back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BotStore persists bots and their policies.
type BotStore interface {
	CreateBot(ctx context.Context, bot Bot, policy BotPolicy) error
	GetBot(ctx context.Context, id string) (Bot, error)
	GetBotByAPIKey(ctx context.Context, apiKey string) (Bot, error)
	ListBots(ctx context.Context, opts ListOpts) ([]Bot, error)
	UpdateBotStatus(ctx context.Context, id string, status BotStatus) error
	UpdateBotReputation(ctx context.Context, id string, score float64) error
	GetPolicy(ctx context.Context, botID string) (BotPolicy, error)
	SavePolicy(ctx context.Context, policy BotPolicy) error
}

// LedgerStore is the only way to change a balance: every delta is written
// together with its ledger entry.
type LedgerStore interface {
	// ApplyBotDelta adds entry.DeltaBDC to the bot's wallet and appends the
	// entry. It returns ErrInsufficientFunds when the balance would go
	// negative.
	ApplyBotDelta(ctx context.Context, entry LedgerEntry) (Bot, error)
	ListLedger(ctx context.Context, botID string) ([]LedgerEntry, error)
	ApplyTreasuryDelta(ctx context.Context, entry TreasuryLedgerEntry) (TreasuryState, error)
	GetTreasury(ctx context.Context) (TreasuryState, error)
	SaveTreasuryConfig(ctx context.Context, cfg TreasuryConfig) error
	ListTreasuryLedger(ctx context.Context) ([]TreasuryLedgerEntry, error)
}

// MarketStore persists markets, their trades and resolutions.
type MarketStore interface {
	CreateMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	SaveMarket(ctx context.Context, m Market) error
	ListMarkets(ctx context.Context, f MarketFilter) ([]Market, error)
	// CountActiveMarkets counts the creator's markets that are not resolved.
	CountActiveMarkets(ctx context.Context, creatorBotID string) (int, error)
	AppendTrade(ctx context.Context, t Trade) error
	ListTrades(ctx context.Context, marketID string) ([]Trade, error)
	// SaveResolution stores the resolution and its votes. A second
	// resolution for the same market fails with ErrAlreadyExists.
	SaveResolution(ctx context.Context, r Resolution) error
	GetResolution(ctx context.Context, marketID string) (Resolution, error)
}

// EventStore persists events, webhook registrations, the outbox and alerts.
type EventStore interface {
	// AppendEvent stores e and creates one pending outbox entry per matching
	// webhook, returning the new entries.
	AppendEvent(ctx context.Context, e Event) ([]OutboxEntry, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)

	CreateWebhook(ctx context.Context, w Webhook) error
	GetWebhook(ctx context.Context, id string) (Webhook, error)
	ListWebhooks(ctx context.Context, botID string) ([]Webhook, error)
	// DeleteWebhook removes the registration and fails its undelivered
	// outbox entries.
	DeleteWebhook(ctx context.Context, id string) error

	ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)
	ListOutbox(ctx context.Context, webhookID string) ([]OutboxEntry, error)
	SaveOutboxEntry(ctx context.Context, e OutboxEntry) error

	AppendAlert(ctx context.Context, a Alert) error
	ListAlerts(ctx context.Context, botID string) ([]Alert, error)
}

// Store is the full persistence port consumed by the engine.
type Store interface {
	BotStore
	LedgerStore
	MarketStore
	EventStore
	Transactor
	Clock
}
