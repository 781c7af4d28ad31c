package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

// LifecycleReport lists what one scheduler tick changed.
type LifecycleReport struct {
	Closed       []string `json:"closed"`
	AutoResolved []string `json:"auto_resolved"`
	Errors       int      `json:"errors"`
}

// LifecycleScheduler is the only writer of the closed market status. With
// auto-resolve enabled it also settles closed single-policy markets nobody
// resolved.
type LifecycleScheduler struct {
	store       domain.Store
	locks       domain.LockManager
	events      *EventPublisher
	resolution  *ResolutionService
	metrics     *metrics.Metrics
	interval    time.Duration
	autoResolve bool
	logger      *slog.Logger
}

// NewLifecycleScheduler creates a LifecycleScheduler. interval defaults to
// 30s.
func NewLifecycleScheduler(
	store domain.Store,
	locks domain.LockManager,
	events *EventPublisher,
	resolution *ResolutionService,
	m *metrics.Metrics,
	interval time.Duration,
	autoResolve bool,
	logger *slog.Logger,
) *LifecycleScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LifecycleScheduler{
		store:       store,
		locks:       locks,
		events:      events,
		resolution:  resolution,
		metrics:     m,
		interval:    interval,
		autoResolve: autoResolve,
		logger:      logger.With(slog.String("component", "lifecycle_scheduler")),
	}
}

// Run ticks once immediately, then every interval until ctx is cancelled.
func (s *LifecycleScheduler) Run(ctx context.Context) error {
	s.runTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *LifecycleScheduler) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Tick(ctx); err != nil {
		s.logger.ErrorContext(ctx, "lifecycle: tick failed", slog.String("error", err.Error()))
	}
}

// Tick closes every expired open market, then auto-resolves closed markets
// when enabled. A failure on one market is logged and counted; only store
// listing failures abort the tick.
func (s *LifecycleScheduler) Tick(ctx context.Context) (LifecycleReport, error) {
	var report LifecycleReport
	now := s.store.Now()

	expired, err := s.store.ListMarkets(ctx, domain.MarketFilter{
		Status:       domain.MarketStatusOpen,
		ClosesBefore: &now,
	})
	if err != nil {
		return report, fmt.Errorf("lifecycle: list expired markets: %w", err)
	}
	for _, m := range expired {
		closed, err := s.closeMarket(ctx, m.ID)
		if err != nil {
			report.Errors++
			s.logger.ErrorContext(ctx, "lifecycle: close market failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if closed {
			report.Closed = append(report.Closed, m.ID)
		}
	}

	if !s.autoResolve {
		return report, nil
	}

	pending, err := s.store.ListMarkets(ctx, domain.MarketFilter{
		Status:         domain.MarketStatusClosed,
		ResolverPolicy: domain.ResolverSingle,
	})
	if err != nil {
		return report, fmt.Errorf("lifecycle: list closed markets: %w", err)
	}
	for _, m := range pending {
		if _, err := s.store.GetResolution(ctx, m.ID); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			report.Errors++
			continue
		}

		if _, err := s.resolution.AutoResolve(ctx, m.ID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			report.Errors++
			s.logger.ErrorContext(ctx, "lifecycle: auto-resolve failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.AutoResolved = append(report.AutoResolved, m.ID)
		s.metrics.MarketAutoResolved()
	}
	return report, nil
}

// closeMarket re-reads the market under its lock and closes it if it is
// still open and expired.
func (s *LifecycleScheduler) closeMarket(ctx context.Context, marketID string) (bool, error) {
	closed := false
	err := withLock(ctx, s.locks, marketLockKey(marketID), func() error {
		m, err := s.store.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketStatusOpen || !m.IsExpired(s.store.Now()) {
			return nil
		}
		m.Status = domain.MarketStatusClosed
		err = s.events.Atomic(ctx, func(ctx context.Context) error {
			if err := s.store.SaveMarket(ctx, m); err != nil {
				return err
			}
			_, err := s.events.Record(ctx, domain.EventMarketClosed, m.ID, "", map[string]any{
				"closes_at":   m.ClosesAt,
				"total_pool":  m.TotalPool(),
				"outcome_ids": m.Outcomes,
			})
			return err
		})
		if err != nil {
			return err
		}
		closed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if closed {
		s.metrics.MarketClosed()
		s.logger.InfoContext(ctx, "lifecycle: market closed", slog.String("market_id", marketID))
	}
	return closed, nil
}
