package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// WebhookService manages bot webhook subscriptions.
type WebhookService struct {
	store  domain.Store
	logger *slog.Logger
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(store domain.Store, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		store:  store,
		logger: logger.With(slog.String("component", "webhook_service")),
	}
}

// RegisterWebhook subscribes botID to eventTypes at target. An empty type
// list subscribes to every event.
func (s *WebhookService) RegisterWebhook(ctx context.Context, botID, target string, eventTypes []domain.EventType) (domain.Webhook, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Webhook{}, validationf("url must be an absolute http(s) url")
	}
	for _, t := range eventTypes {
		if !t.Valid() {
			return domain.Webhook{}, validationf("unknown event type %q", t)
		}
	}
	if _, err := s.store.GetBot(ctx, botID); err != nil {
		return domain.Webhook{}, fmt.Errorf("webhook_service: register: %w", err)
	}

	w := domain.Webhook{
		ID:         newID(),
		BotID:      botID,
		URL:        u.String(),
		EventTypes: eventTypes,
		CreatedAt:  s.store.Now(),
	}
	if err := s.store.CreateWebhook(ctx, w); err != nil {
		return domain.Webhook{}, fmt.Errorf("webhook_service: register: %w", err)
	}
	s.logger.InfoContext(ctx, "webhook_service: webhook registered",
		slog.String("webhook_id", w.ID),
		slog.String("bot_id", botID),
		slog.String("url", w.URL),
	)
	return w, nil
}

// ListWebhooks returns the bot's webhooks.
func (s *WebhookService) ListWebhooks(ctx context.Context, botID string) ([]domain.Webhook, error) {
	hooks, err := s.store.ListWebhooks(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("webhook_service: list %s: %w", botID, err)
	}
	return hooks, nil
}

// DeleteWebhook removes one of the bot's webhooks.
func (s *WebhookService) DeleteWebhook(ctx context.Context, botID, webhookID string) error {
	if _, err := s.owned(ctx, botID, webhookID); err != nil {
		return err
	}
	if err := s.store.DeleteWebhook(ctx, webhookID); err != nil {
		return fmt.Errorf("webhook_service: delete %s: %w", webhookID, err)
	}
	return nil
}

// ListOutbox returns the delivery state of one of the bot's webhooks.
func (s *WebhookService) ListOutbox(ctx context.Context, botID, webhookID string) ([]domain.OutboxEntry, error) {
	if _, err := s.owned(ctx, botID, webhookID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListOutbox(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("webhook_service: outbox %s: %w", webhookID, err)
	}
	return entries, nil
}

func (s *WebhookService) owned(ctx context.Context, botID, webhookID string) (domain.Webhook, error) {
	w, err := s.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("webhook_service: get %s: %w", webhookID, err)
	}
	if w.BotID != botID {
		return domain.Webhook{}, fmt.Errorf("webhook_service: get %s: %w", webhookID, forbiddenf("webhook belongs to another bot"))
	}
	return w, nil
}
