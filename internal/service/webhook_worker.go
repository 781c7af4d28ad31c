package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/prediclaw/internal/crypto"
	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

// WebhookWorkerConfig tunes outbox delivery.
type WebhookWorkerConfig struct {
	PollInterval  time.Duration
	BaseBackoff   time.Duration
	MaxAttempts   int
	Timeout       time.Duration
	BatchSize     int
	Concurrency   int
	RatePerSecond float64
	Burst         int
}

func (c WebhookWorkerConfig) withDefaults() WebhookWorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 50
	}
	if c.Burst <= 0 {
		c.Burst = c.Concurrency
	}
	return c
}

// DeliveryReport counts the outcome of one worker tick.
type DeliveryReport struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// DeliveryError is a failed webhook POST. It is recorded on the outbox entry
// and never returned to an API caller.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery: %v", e.Err)
	}
	return fmt.Sprintf("webhook delivery: unexpected status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// deliveryBody is the signed JSON document POSTed to a webhook.
type deliveryBody struct {
	ID          string           `json:"id"`
	WebhookID   string           `json:"webhook_id"`
	Event       domain.Event     `json:"event"`
	EventType   domain.EventType `json:"event_type"`
	DeliveredAt time.Time        `json:"delivered_at"`
}

// WebhookWorker drains the outbox with at-least-once semantics.
type WebhookWorker struct {
	store   domain.Store
	client  *http.Client
	limiter *rate.Limiter
	cfg     WebhookWorkerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWebhookWorker creates a WebhookWorker. client may be nil.
func NewWebhookWorker(store domain.Store, client *http.Client, cfg WebhookWorkerConfig, m *metrics.Metrics, logger *slog.Logger) *WebhookWorker {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookWorker{
		store:   store,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "webhook_worker")),
	}
}

// Run drains the outbox once immediately, then every poll interval until ctx
// is cancelled. In-flight deliveries finish before Run returns.
func (w *WebhookWorker) Run(ctx context.Context) error {
	w.runTick(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

func (w *WebhookWorker) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "webhook tick failed", slog.String("error", err.Error()))
	}
}

// Tick attempts every due outbox entry once.
func (w *WebhookWorker) Tick(ctx context.Context) (DeliveryReport, error) {
	due, err := w.store.ListDueOutbox(ctx, w.store.Now(), w.cfg.BatchSize)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("webhook_worker: list due: %w", err)
	}

	var (
		mu     sync.Mutex
		report DeliveryReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, entry := range due {
		g.Go(func() error {
			status, err := w.attempt(gctx, entry)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			switch status {
			case domain.OutboxDelivered:
				report.Delivered++
			case domain.OutboxRetrying:
				report.Retrying++
			case domain.OutboxFailed:
				report.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("webhook_worker: tick: %w", err)
	}
	return report, nil
}

// attempt delivers one entry and stores the new state. Only a cancelled
// context or a store failure is returned as an error.
func (w *WebhookWorker) attempt(ctx context.Context, entry domain.OutboxEntry) (domain.OutboxStatus, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}

	deliveryErr := w.deliver(ctx, entry)
	if deliveryErr != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	now := w.store.Now()
	if deliveryErr == nil {
		entry.Status = domain.OutboxDelivered
		entry.DeliveredAt = &now
		entry.Attempts++
		entry.LastError = ""
		w.metrics.WebhookAttempt(string(domain.OutboxDelivered))
	} else {
		entry.Attempts++
		entry.LastError = deliveryErr.Error()
		var de *DeliveryError
		if errors.As(deliveryErr, &de) {
			entry.LastStatusCode = de.StatusCode
		}
		if entry.Attempts >= w.cfg.MaxAttempts {
			entry.Status = domain.OutboxFailed
			w.metrics.WebhookFailed()
			w.logger.ErrorContext(ctx, "webhook_worker: delivery failed permanently",
				slog.String("outbox_id", entry.ID),
				slog.String("webhook_id", entry.WebhookID),
				slog.Int("attempts", entry.Attempts),
				slog.String("error", entry.LastError),
			)
		} else {
			entry.Status = domain.OutboxRetrying
			entry.NextAttemptAt = now.Add(w.backoff(entry.Attempts))
		}
		w.metrics.WebhookAttempt(string(entry.Status))
	}

	if err := w.store.SaveOutboxEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("save outbox entry %s: %w", entry.ID, err)
	}
	return entry.Status, nil
}

// backoff is base * 2^(attempts-1).
func (w *WebhookWorker) backoff(attempts int) time.Duration {
	return w.cfg.BaseBackoff * time.Duration(1<<(attempts-1))
}

func (w *WebhookWorker) deliver(ctx context.Context, entry domain.OutboxEntry) error {
	event, err := w.store.GetEvent(ctx, entry.EventID)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("load event %s: %w", entry.EventID, err)}
	}
	bot, err := w.store.GetBot(ctx, entry.BotID)
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("load bot %s: %w", entry.BotID, err)}
	}

	body, err := json.Marshal(deliveryBody{
		ID:          entry.ID,
		WebhookID:   entry.WebhookID,
		Event:       event,
		EventType:   event.Type,
		DeliveredAt: w.store.Now(),
	})
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("marshal body: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, entry.TargetURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(crypto.SignatureHeader, crypto.SignPayload(bot.APIKey, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
