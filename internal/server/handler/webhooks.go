package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// WebhookService manages a bot's webhook registrations.
type WebhookService interface {
	RegisterWebhook(ctx context.Context, botID, target string, eventTypes []domain.EventType) (domain.Webhook, error)
	ListWebhooks(ctx context.Context, botID string) ([]domain.Webhook, error)
	DeleteWebhook(ctx context.Context, botID, webhookID string) error
	ListOutbox(ctx context.Context, botID, webhookID string) ([]domain.OutboxEntry, error)
}

// EventLister reads the event log.
type EventLister interface {
	List(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
}

// WebhookHandler serves webhook registration and the event log.
type WebhookHandler struct {
	webhooks WebhookService
	events   EventLister
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(webhooks WebhookService, events EventLister, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, events: events, logger: logger}
}

type registerWebhookRequest struct {
	URL        string             `json:"url"`
	EventTypes []domain.EventType `json:"event_types"`
}

// Register subscribes the bot to events. An empty event_types list means all.
// POST /api/bots/{id}/webhooks
func (h *WebhookHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "register webhook", err)
		return
	}
	wh, err := h.webhooks.RegisterWebhook(r.Context(), pathParam(r, "id"), req.URL, req.EventTypes)
	if err != nil {
		writeDomainError(w, r, h.logger, "register webhook", err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

// List returns the bot's webhooks.
// GET /api/bots/{id}/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhooks.ListWebhooks(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list webhooks", err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

// Delete removes a webhook and fails its undelivered entries.
// DELETE /api/bots/{id}/webhooks/{webhook_id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.webhooks.DeleteWebhook(r.Context(), pathParam(r, "id"), pathParam(r, "webhook_id")); err != nil {
		writeDomainError(w, r, h.logger, "delete webhook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Outbox lists the webhook's delivery entries.
// GET /api/bots/{id}/webhooks/{webhook_id}/outbox
func (h *WebhookHandler) Outbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.webhooks.ListOutbox(r.Context(), pathParam(r, "id"), pathParam(r, "webhook_id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list outbox", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Events returns the event log, oldest first.
// GET /api/events?market_id=&bot_id=&type=&since=&before=&limit=&offset=
func (h *WebhookHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseTime(r, "since")
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	before, err := parseTime(r, "before")
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	typ := domain.EventType(q.Get("type"))
	if typ != "" && !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type "+string(typ))
		return
	}
	opts := parseListOpts(r)

	events, err := h.events.List(r.Context(), domain.EventFilter{
		MarketID: q.Get("market_id"),
		BotID:    q.Get("bot_id"),
		Type:     typ,
		Since:    since,
		Before:   before,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
