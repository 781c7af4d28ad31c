package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Quota actions.
const (
	ActionMarketCreate  = "market_create"
	ActionResolveMarket = "resolve_market"
)

const (
	rateWindow  = time.Minute
	quotaWindow = 24 * time.Hour
)

// Limiter enforces the per-bot request rate and daily action quotas on top of
// a sliding-window counter.
type Limiter struct {
	counter domain.WindowCounter
	clock   domain.Clock
	alerts  *AlertService
	logger  *slog.Logger
}

// NewLimiter creates a Limiter.
func NewLimiter(counter domain.WindowCounter, clock domain.Clock, alerts *AlertService, logger *slog.Logger) *Limiter {
	return &Limiter{
		counter: counter,
		clock:   clock,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "limiter")),
	}
}

func rateKey(botID string) string { return "rate:" + botID }

func quotaKey(botID, action string) string { return "quota:" + botID + ":" + action }

// CheckRate admits one request against the bot's requests-per-minute limit.
func (l *Limiter) CheckRate(ctx context.Context, botID string, policy domain.BotPolicy) error {
	return l.check(ctx, domain.LimitRate, botID, rateKey(botID), policy.MaxRequestsPerMinute, rateWindow, "")
}

// CheckQuota admits one action against a daily quota. A limit of zero means
// unlimited.
func (l *Limiter) CheckQuota(ctx context.Context, botID, action string, limit int) error {
	return l.check(ctx, domain.LimitQuota, botID, quotaKey(botID, action), limit, quotaWindow, action)
}

func (l *Limiter) check(ctx context.Context, kind domain.LimitKind, botID, key string, limit int, window time.Duration, action string) error {
	if limit <= 0 {
		return nil
	}

	now := l.clock.Now()
	res, err := l.counter.Hit(ctx, key, limit, window, now)
	if err != nil {
		return fmt.Errorf("limiter: hit %s: %w", key, err)
	}
	if res.Allowed {
		return nil
	}

	retry := max(res.Oldest.Add(window).Sub(now), 0)
	lerr := &domain.LimitError{Kind: kind, Key: key, Limit: limit, RetryAfter: retry}

	alertKind := domain.AlertRateLimit
	detail := map[string]any{
		"limit":               limit,
		"count":               res.Count,
		"retry_after_seconds": retry.Seconds(),
	}
	if kind == domain.LimitQuota {
		alertKind = domain.AlertQuotaExceeded
		detail["action"] = action
	}
	l.alerts.Raise(ctx, botID, alertKind, lerr.Error(), detail)
	return lerr
}
