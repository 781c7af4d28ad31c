package domain

import (
	"slices"
	"time"
)

// EventType names a domain fact.
type EventType string

const (
	EventMarketCreated    EventType = "market_created"
	EventPriceChanged     EventType = "price_changed"
	EventMarketClosed     EventType = "market_closed"
	EventMarketResolved   EventType = "market_resolved"
	EventBotStatusChanged EventType = "bot_status_changed"
	EventAlertTriggered   EventType = "alert_triggered"
	EventRemainderBurned  EventType = "remainder_burned"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventMarketCreated, EventPriceChanged, EventMarketClosed, EventMarketResolved,
		EventBotStatusChanged, EventAlertTriggered, EventRemainderBurned:
		return true
	}
	return false
}

// Event is an immutable domain fact. Appending an event fans it out to the
// outbox of every matching webhook.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	MarketID  string         `json:"market_id,omitempty"`
	BotID     string         `json:"bot_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventFilter narrows ListEvents results.
type EventFilter struct {
	MarketID string
	BotID    string
	Type     EventType
	Since    *time.Time
	Before   *time.Time
	Limit    int
	Offset   int
}

// Webhook is a bot's subscription to domain events.
type Webhook struct {
	ID         string      `json:"id"`
	BotID      string      `json:"bot_id"`
	URL        string      `json:"url"`
	EventTypes []EventType `json:"event_types"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Matches reports whether the webhook subscribes to t. An empty filter
// subscribes to everything.
func (w Webhook) Matches(t EventType) bool {
	return len(w.EventTypes) == 0 || slices.Contains(w.EventTypes, t)
}

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxRetrying  OutboxStatus = "retrying"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEntry is one pending delivery of one event to one webhook.
type OutboxEntry struct {
	ID             string       `json:"id"`
	WebhookID      string       `json:"webhook_id"`
	EventID        string       `json:"event_id"`
	BotID          string       `json:"bot_id"`
	TargetURL      string       `json:"target_url"`
	Status         OutboxStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	NextAttemptAt  time.Time    `json:"next_attempt_at"`
	LastStatusCode int          `json:"last_status_code,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	DeliveredAt    *time.Time   `json:"delivered_at,omitempty"`
}

// Due reports whether the entry should be attempted at now.
func (e OutboxEntry) Due(now time.Time) bool {
	if e.Status != OutboxPending && e.Status != OutboxRetrying {
		return false
	}
	return !e.NextAttemptAt.After(now)
}

// AlertKind classifies an advisory alert.
type AlertKind string

const (
	AlertRateLimit        AlertKind = "rate_limit"
	AlertQuotaExceeded    AlertKind = "quota_exceeded"
	AlertStakeRequirement AlertKind = "stake_requirement"
	AlertAuthorization    AlertKind = "authorization"
	AlertLowBalance       AlertKind = "low_balance"
)

// Alert is an observability record emitted alongside a rejection. It never
// changes behaviour by itself.
type Alert struct {
	ID        string         `json:"id"`
	BotID     string         `json:"bot_id"`
	Kind      AlertKind      `json:"kind"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
