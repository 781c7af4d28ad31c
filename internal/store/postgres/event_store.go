package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// EventStore implements domain.EventStore: events, webhook registrations,
// the delivery outbox and alerts.
type EventStore struct {
	client *Client
}

// NewEventStore creates an EventStore.
func NewEventStore(client *Client) *EventStore {
	return &EventStore{client: client}
}

// AppendEvent inserts e and one pending outbox row per matching webhook in
// the same transaction.
func (s *EventStore) AppendEvent(ctx context.Context, e domain.Event) ([]domain.OutboxEntry, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode event %s: %w", e.ID, err)
	}

	var queued []domain.OutboxEntry
	err = s.client.WithinTx(ctx, func(ctx context.Context) error {
		q := s.client.q(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO events (id, event_type, market_id, bot_id, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, string(e.Type), e.MarketID, e.BotID, payload, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", translate(err))
		}

		rows, err := q.Query(ctx, `
			SELECT id, bot_id, url FROM webhooks
			WHERE cardinality(event_types) = 0 OR $1 = ANY(event_types)
			ORDER BY seq`, string(e.Type))
		if err != nil {
			return fmt.Errorf("match webhooks: %w", err)
		}
		queued, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxEntry, error) {
			o := domain.OutboxEntry{
				ID:            uuid.NewString(),
				EventID:       e.ID,
				Status:        domain.OutboxPending,
				NextAttemptAt: e.CreatedAt,
				CreatedAt:     e.CreatedAt,
			}
			err := row.Scan(&o.WebhookID, &o.BotID, &o.TargetURL)
			return o, err
		})
		if err != nil {
			return fmt.Errorf("match webhooks: %w", err)
		}

		for _, o := range queued {
			_, err := q.Exec(ctx, `
				INSERT INTO webhook_outbox (id, webhook_id, event_id, bot_id, target_url, status, next_attempt_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				o.ID, o.WebhookID, o.EventID, o.BotID, o.TargetURL, string(o.Status), o.NextAttemptAt, o.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("queue delivery for webhook %s: %w", o.WebhookID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: append event %s: %w", e.ID, err)
	}
	return queued, nil
}

const eventSelectCols = `id, event_type, market_id, bot_id, payload, created_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	var typ string
	var payload []byte
	if err := row.Scan(&e.ID, &typ, &e.MarketID, &e.BotID, &payload, &e.CreatedAt); err != nil {
		return domain.Event{}, err
	}
	e.Type = domain.EventType(typ)
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return domain.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	return e, nil
}

// GetEvent returns one event.
func (s *EventStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	e, err := scanEvent(s.client.q(ctx).QueryRow(ctx, `SELECT `+eventSelectCols+` FROM events WHERE id = $1`, id))
	if err != nil {
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, translate(err))
	}
	return e, nil
}

// ListEvents returns events in append order narrowed by f. Since is
// inclusive and Before exclusive.
func (s *EventStore) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.MarketID != "" {
		add("market_id = $%d", f.MarketID)
	}
	if f.BotID != "" {
		add("bot_id = $%d", f.BotID)
	}
	if f.Type != "" {
		add("event_type = $%d", string(f.Type))
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Before != nil {
		add("created_at < $%d", *f.Before)
	}

	query := `SELECT ` + eventSelectCols + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

func eventTypeStrings(types []domain.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func scanWebhook(row pgx.Row) (domain.Webhook, error) {
	var w domain.Webhook
	var types []string
	if err := row.Scan(&w.ID, &w.BotID, &w.URL, &types, &w.CreatedAt); err != nil {
		return domain.Webhook{}, err
	}
	for _, t := range types {
		w.EventTypes = append(w.EventTypes, domain.EventType(t))
	}
	return w, nil
}

// CreateWebhook inserts a registration.
func (s *EventStore) CreateWebhook(ctx context.Context, w domain.Webhook) error {
	_, err := s.client.q(ctx).Exec(ctx, `
		INSERT INTO webhooks (id, bot_id, url, event_types, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.BotID, w.URL, eventTypeStrings(w.EventTypes), w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create webhook %s: %w", w.ID, translate(err))
	}
	return nil
}

// GetWebhook returns one registration.
func (s *EventStore) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	w, err := scanWebhook(s.client.q(ctx).QueryRow(ctx,
		`SELECT id, bot_id, url, event_types, created_at FROM webhooks WHERE id = $1`, id))
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("postgres: get webhook %s: %w", id, translate(err))
	}
	return w, nil
}

// ListWebhooks returns the bot's registrations, or all of them when botID is
// empty.
func (s *EventStore) ListWebhooks(ctx context.Context, botID string) ([]domain.Webhook, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT id, bot_id, url, event_types, created_at FROM webhooks
		WHERE $1 = '' OR bot_id = $1 ORDER BY seq`, botID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list webhooks rows: %w", err)
	}
	return hooks, nil
}

// DeleteWebhook removes the registration and fails its undelivered entries.
func (s *EventStore) DeleteWebhook(ctx context.Context, id string) error {
	return s.client.WithinTx(ctx, func(ctx context.Context) error {
		q := s.client.q(ctx)
		tag, err := q.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("postgres: delete webhook %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: delete webhook %s: %w", id, domain.ErrNotFound)
		}
		_, err = q.Exec(ctx, `
			UPDATE webhook_outbox SET status = $2, last_error = 'webhook deleted'
			WHERE webhook_id = $1 AND status IN ($3, $4)`,
			id, string(domain.OutboxFailed), string(domain.OutboxPending), string(domain.OutboxRetrying),
		)
		if err != nil {
			return fmt.Errorf("postgres: fail outbox of webhook %s: %w", id, err)
		}
		return nil
	})
}

const outboxSelectCols = `id, webhook_id, event_id, bot_id, target_url, status, attempts,
	next_attempt_at, last_status_code, last_error, created_at, delivered_at`

func collectOutbox(rows pgx.Rows) ([]domain.OutboxEntry, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxEntry, error) {
		var o domain.OutboxEntry
		var status string
		err := row.Scan(
			&o.ID, &o.WebhookID, &o.EventID, &o.BotID, &o.TargetURL, &status, &o.Attempts,
			&o.NextAttemptAt, &o.LastStatusCode, &o.LastError, &o.CreatedAt, &o.DeliveredAt,
		)
		o.Status = domain.OutboxStatus(status)
		return o, err
	})
}

// ListDueOutbox returns pending or retrying entries whose next attempt is at
// or before now, oldest first.
func (s *EventStore) ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	query := `SELECT ` + outboxSelectCols + ` FROM webhook_outbox
		WHERE status IN ($1, $2) AND next_attempt_at <= $3
		ORDER BY next_attempt_at, seq`
	query, args := paginate(query, []any{string(domain.OutboxPending), string(domain.OutboxRetrying), now}, limit, 0)

	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due outbox: %w", err)
	}
	entries, err := collectOutbox(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due outbox: %w", err)
	}
	return entries, nil
}

// ListOutbox returns every entry of one webhook in creation order.
func (s *EventStore) ListOutbox(ctx context.Context, webhookID string) ([]domain.OutboxEntry, error) {
	rows, err := s.client.q(ctx).Query(ctx,
		`SELECT `+outboxSelectCols+` FROM webhook_outbox WHERE webhook_id = $1 ORDER BY seq`, webhookID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outbox %s: %w", webhookID, err)
	}
	entries, err := collectOutbox(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outbox %s: %w", webhookID, err)
	}
	return entries, nil
}

// SaveOutboxEntry writes the delivery state of an entry.
func (s *EventStore) SaveOutboxEntry(ctx context.Context, o domain.OutboxEntry) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE webhook_outbox SET
			status = $2, attempts = $3, next_attempt_at = $4,
			last_status_code = $5, last_error = $6, delivered_at = $7
		WHERE id = $1`,
		o.ID, string(o.Status), o.Attempts, o.NextAttemptAt, o.LastStatusCode, o.LastError, o.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save outbox entry %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save outbox entry %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

// AppendAlert stores an alert. The detail map is kept as JSONB.
func (s *EventStore) AppendAlert(ctx context.Context, a domain.Alert) error {
	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert detail: %w", err)
	}
	_, err = s.client.q(ctx).Exec(ctx, `
		INSERT INTO alerts (id, bot_id, kind, message, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.BotID, string(a.Kind), a.Message, detail, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append alert %s: %w", a.Kind, err)
	}
	return nil
}

// ListAlerts returns the bot's alerts in the order they were raised.
func (s *EventStore) ListAlerts(ctx context.Context, botID string) ([]domain.Alert, error) {
	rows, err := s.client.q(ctx).Query(ctx, `
		SELECT id, bot_id, kind, message, detail, created_at
		FROM alerts WHERE bot_id = $1 ORDER BY seq`, botID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts %s: %w", botID, err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var kind string
		var detail []byte
		if err := rows.Scan(&a.ID, &a.BotID, &kind, &a.Message, &detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Kind = domain.AlertKind(kind)
		if detail != nil {
			if err := json.Unmarshal(detail, &a.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal alert detail: %w", err)
			}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alerts rows: %w", err)
	}
	return alerts, nil
}

var _ domain.EventStore = (*EventStore)(nil)
