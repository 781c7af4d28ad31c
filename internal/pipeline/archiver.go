// Package pipeline runs the background data jobs that sit beside the
// settlement engine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/metrics"
)

const day = 24 * time.Hour

// Archiver copies each completed UTC day of events to cold storage. The
// first run reaches back retentionDays; later runs continue from the last
// archived day.
type Archiver struct {
	blobArchiver  domain.Archiver
	clock         domain.Clock
	metrics       *metrics.Metrics
	retentionDays int
	logger        *slog.Logger

	next time.Time
}

// NewArchiver creates a new Archiver. retentionDays below 1 is treated as 1.
func NewArchiver(blobArchiver domain.Archiver, clock domain.Clock, m *metrics.Metrics, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		clock:         clock,
		metrics:       m,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run archives every completed day not yet archived and returns the number
// of events written. A failed day stops the run and is retried next time.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	today := a.clock.Now().UTC().Truncate(day)
	if a.next.IsZero() {
		a.next = today.Add(-time.Duration(a.retentionDays) * day)
	}

	var total int64
	for from := a.next; from.Before(today); from = from.Add(day) {
		n, err := a.blobArchiver.ArchiveEvents(ctx, from, from.Add(day))
		if err != nil {
			return total, fmt.Errorf("pipeline: archive events for %s: %w", from.Format("2006-01-02"), err)
		}
		a.next = from.Add(day)
		total += n
		a.metrics.EventsArchived(n)
		if n > 0 {
			a.logger.InfoContext(ctx, "archiver: day archived",
				slog.String("day", from.Format("2006-01-02")),
				slog.Int64("count", n),
			)
		}
	}
	return total, nil
}

// RunEvery runs immediately and then every interval until ctx is cancelled.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	a.logger.InfoContext(ctx, "archiver: started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.retentionDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("archiver: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
