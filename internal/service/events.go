package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// EventsChannel is the SignalBus channel carrying committed domain events.
const EventsChannel = "events"

type eventBufferKey struct{}

type eventBuffer struct {
	mu     sync.Mutex
	events []domain.Event
}

// EventPublisher appends domain events to the store, which fans them out to
// the webhook outbox, and broadcasts them on the SignalBus once they are
// committed.
type EventPublisher struct {
	store  domain.Store
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventPublisher creates an EventPublisher. bus may be nil.
func NewEventPublisher(store domain.Store, bus domain.SignalBus, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "event_publisher")),
	}
}

// Atomic runs fn in a store transaction. Events recorded inside fn are
// broadcast only after the transaction commits. Nested calls join the
// outermost transaction.
func (p *EventPublisher) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(eventBufferKey{}).(*eventBuffer); ok {
		return p.store.WithinTx(ctx, fn)
	}

	buf := &eventBuffer{}
	if err := p.store.WithinTx(context.WithValue(ctx, eventBufferKey{}, buf), fn); err != nil {
		return err
	}
	p.Publish(ctx, buf.events...)
	return nil
}

// Record appends an event. Outside Atomic the event is broadcast immediately.
func (p *EventPublisher) Record(ctx context.Context, typ domain.EventType, marketID, botID string, payload map[string]any) (domain.Event, error) {
	e := domain.Event{
		ID:        newID(),
		Type:      typ,
		MarketID:  marketID,
		BotID:     botID,
		Payload:   payload,
		CreatedAt: p.store.Now(),
	}
	queued, err := p.store.AppendEvent(ctx, e)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_publisher: append %s: %w", typ, err)
	}
	if len(queued) > 0 {
		p.logger.DebugContext(ctx, "event_publisher: queued webhook deliveries",
			slog.String("event_id", e.ID),
			slog.String("event_type", string(typ)),
			slog.Int("deliveries", len(queued)),
		)
	}

	if buf, ok := ctx.Value(eventBufferKey{}).(*eventBuffer); ok {
		buf.mu.Lock()
		buf.events = append(buf.events, e)
		buf.mu.Unlock()
		return e, nil
	}
	p.Publish(ctx, e)
	return e, nil
}

// Publish broadcasts events on the bus. Failures are logged only.
func (p *EventPublisher) Publish(ctx context.Context, events ...domain.Event) {
	if p.bus == nil {
		return
	}
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			p.logger.WarnContext(ctx, "event_publisher: marshal event failed",
				slog.String("event_id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := p.bus.Publish(ctx, EventsChannel, payload); err != nil {
			p.logger.WarnContext(ctx, "event_publisher: publish event failed",
				slog.String("event_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// List returns stored events narrowed by f.
func (p *EventPublisher) List(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	events, err := p.store.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("event_publisher: list: %w", err)
	}
	return events, nil
}
