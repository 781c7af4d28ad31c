package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

// notifyTimeout bounds one operator notification.
const notifyTimeout = 10 * time.Second

// AlertNotifier forwards alerts to operator channels.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, a domain.Alert) error
}

// AlertService records advisory alerts. Alerts never change the outcome of
// the request that raised them.
type AlertService struct {
	store    domain.Store
	events   *EventPublisher
	notifier AlertNotifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAlertService creates an AlertService. notifier and m may be nil.
func NewAlertService(store domain.Store, events *EventPublisher, notifier AlertNotifier, m *metrics.Metrics, logger *slog.Logger) *AlertService {
	return &AlertService{
		store:    store,
		events:   events,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With(slog.String("component", "alert_service")),
	}
}

// Raise stores an alert, emits alert_triggered and notifies operators in the
// background. It must be called outside a store transaction so a rejected
// request cannot roll the alert back. Failures are logged, never returned.
func (s *AlertService) Raise(ctx context.Context, botID string, kind domain.AlertKind, message string, detail map[string]any) domain.Alert {
	a := domain.Alert{
		ID:        newID(),
		BotID:     botID,
		Kind:      kind,
		Message:   message,
		Detail:    detail,
		CreatedAt: s.store.Now(),
	}

	s.logger.WarnContext(ctx, "alert_service: alert raised",
		slog.String("bot_id", botID),
		slog.String("kind", string(kind)),
		slog.String("message", message),
	)
	s.metrics.AlertRaised(string(kind))

	if err := s.store.AppendAlert(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "alert_service: store alert failed",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.events.Record(ctx, domain.EventAlertTriggered, "", botID, map[string]any{
		"alert_id": a.ID,
		"kind":     string(kind),
		"message":  message,
		"detail":   detail,
	}); err != nil {
		s.logger.WarnContext(ctx, "alert_service: emit alert event failed",
			slog.String("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.notifier != nil {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := s.notifier.NotifyAlert(nctx, a); err != nil {
				s.logger.WarnContext(nctx, "alert_service: notify operators failed",
					slog.String("alert_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return a
}

// List returns the bot's alerts.
func (s *AlertService) List(ctx context.Context, botID string) ([]domain.Alert, error) {
	if _, err := s.store.GetBot(ctx, botID); err != nil {
		return nil, fmt.Errorf("alert_service: list %s: %w", botID, err)
	}
	alerts, err := s.store.ListAlerts(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("alert_service: list %s: %w", botID, err)
	}
	return alerts, nil
}
