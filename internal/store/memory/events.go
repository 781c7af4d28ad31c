package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// AppendEvent stores e and queues one outbox entry per matching webhook.
func (s *Store) AppendEvent(ctx context.Context, e domain.Event) ([]domain.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return nil, fmt.Errorf("memory: append event %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	s.events[e.ID] = e
	s.eventOrder = append(s.eventOrder, e.ID)

	var queued []domain.OutboxEntry
	for _, id := range s.webhookOrder {
		w := s.webhooks[id]
		if !w.Matches(e.Type) {
			continue
		}
		entry := domain.OutboxEntry{
			ID:            uuid.NewString(),
			WebhookID:     w.ID,
			EventID:       e.ID,
			BotID:         w.BotID,
			TargetURL:     w.URL,
			Status:        domain.OutboxPending,
			NextAttemptAt: e.CreatedAt,
			CreatedAt:     e.CreatedAt,
		}
		s.outbox[entry.ID] = entry
		s.outboxOrder = append(s.outboxOrder, entry.ID)
		queued = append(queued, entry)
	}

	record(ctx, func() {
		delete(s.events, e.ID)
		s.eventOrder = removeID(s.eventOrder, e.ID)
		for _, q := range queued {
			delete(s.outbox, q.ID)
			s.outboxOrder = removeID(s.outboxOrder, q.ID)
		}
	})
	return queued, nil
}

// GetEvent returns one event.
func (s *Store) GetEvent(_ context.Context, id string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, fmt.Errorf("memory: get event %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// ListEvents returns events oldest first, narrowed by f.
func (s *Store) ListEvents(_ context.Context, f domain.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Event
	for _, id := range s.eventOrder {
		e := s.events[id]
		if f.MarketID != "" && e.MarketID != f.MarketID {
			continue
		}
		if f.BotID != "" && e.BotID != f.BotID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Before != nil && !e.CreatedAt.Before(*f.Before) {
			continue
		}
		matched = append(matched, e)
	}
	from, to := page(len(matched), f.Offset, f.Limit)
	return matched[from:to], nil
}

// CreateWebhook registers a webhook.
func (s *Store) CreateWebhook(ctx context.Context, w domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[w.ID]; ok {
		return fmt.Errorf("memory: create webhook %s: %w", w.ID, domain.ErrAlreadyExists)
	}
	w.EventTypes = slices.Clone(w.EventTypes)
	s.webhooks[w.ID] = w
	s.webhookOrder = append(s.webhookOrder, w.ID)

	record(ctx, func() {
		delete(s.webhooks, w.ID)
		s.webhookOrder = removeID(s.webhookOrder, w.ID)
	})
	return nil
}

// GetWebhook returns one webhook.
func (s *Store) GetWebhook(_ context.Context, id string) (domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.Webhook{}, fmt.Errorf("memory: get webhook %s: %w", id, domain.ErrNotFound)
	}
	return w, nil
}

// ListWebhooks returns the bot's webhooks, or all webhooks when botID is
// empty.
func (s *Store) ListWebhooks(_ context.Context, botID string) ([]domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Webhook
	for _, id := range s.webhookOrder {
		w := s.webhooks[id]
		if botID != "" && w.BotID != botID {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// DeleteWebhook removes the webhook and fails its undelivered entries.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return fmt.Errorf("memory: delete webhook %s: %w", id, domain.ErrNotFound)
	}
	delete(s.webhooks, id)
	s.webhookOrder = removeID(s.webhookOrder, id)

	var failed []domain.OutboxEntry
	for _, oid := range s.outboxOrder {
		e := s.outbox[oid]
		if e.WebhookID != id || (e.Status != domain.OutboxPending && e.Status != domain.OutboxRetrying) {
			continue
		}
		failed = append(failed, e)
		e.Status = domain.OutboxFailed
		e.LastError = "webhook deleted"
		s.outbox[oid] = e
	}

	record(ctx, func() {
		s.webhooks[id] = w
		s.webhookOrder = append(s.webhookOrder, id)
		for _, e := range failed {
			s.outbox[e.ID] = e
		}
	})
	return nil
}

// ListDueOutbox returns up to limit entries due at now, earliest first.
func (s *Store) ListDueOutbox(_ context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.OutboxEntry
	for _, id := range s.outboxOrder {
		if e := s.outbox[id]; e.Due(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListOutbox returns a webhook's entries in creation order.
func (s *Store) ListOutbox(_ context.Context, webhookID string) ([]domain.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.OutboxEntry
	for _, id := range s.outboxOrder {
		if e := s.outbox[id]; e.WebhookID == webhookID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveOutboxEntry replaces an outbox entry.
func (s *Store) SaveOutboxEntry(ctx context.Context, e domain.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.outbox[e.ID]
	if !ok {
		return fmt.Errorf("memory: save outbox entry %s: %w", e.ID, domain.ErrNotFound)
	}
	s.outbox[e.ID] = e

	record(ctx, func() { s.outbox[e.ID] = prev })
	return nil
}

// AppendAlert stores an alert.
func (s *Store) AppendAlert(ctx context.Context, a domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, a)
	record(ctx, func() {
		s.alerts = slices.DeleteFunc(s.alerts, func(x domain.Alert) bool { return x.ID == a.ID })
	})
	return nil
}

// ListAlerts returns the bot's alerts, or all alerts when botID is empty.
func (s *Store) ListAlerts(_ context.Context, botID string) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Alert
	for _, a := range s.alerts {
		if botID == "" || a.BotID == botID {
			out = append(out, a)
		}
	}
	return out, nil
}
