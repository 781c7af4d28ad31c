package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/prediclaw/internal/pipeline"
	"github.com/alanyoungcy/prediclaw/internal/server"
	"github.com/alanyoungcy/prediclaw/internal/server/handler"
	"github.com/alanyoungcy/prediclaw/internal/server/middleware"
	"github.com/alanyoungcy/prediclaw/internal/server/ws"
	"github.com/alanyoungcy/prediclaw/internal/service"
)

// services holds the domain services shared by every mode.
type services struct {
	events     *service.EventPublisher
	alerts     *service.AlertService
	ledger     *service.LedgerService
	limiter    *service.Limiter
	settlement *service.SettlementService
	resolution *service.ResolutionService
	trading    *service.TradingService
	bots       *service.BotService
	markets    *service.MarketService
	webhooks   *service.WebhookService
}

// buildServices constructs the service graph and seeds the treasury
// configuration.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	var notifier service.AlertNotifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}

	s := &services{}
	s.events = service.NewEventPublisher(deps.Store, deps.Bus, a.logger)
	s.alerts = service.NewAlertService(deps.Store, s.events, notifier, deps.Metrics, a.logger)
	s.ledger = service.NewLedgerService(deps.Store, deps.Locks, a.logger)
	s.limiter = service.NewLimiter(deps.Counter, deps.Clock, s.alerts, a.logger)
	s.settlement = service.NewSettlementService(deps.Store, s.ledger, s.events, a.logger)
	s.resolution = service.NewResolutionService(deps.Store, deps.Locks, s.ledger, s.limiter, s.alerts,
		s.events, s.settlement, deps.Archiver, deps.Metrics, a.logger)
	s.trading = service.NewTradingService(deps.Store, deps.Locks, s.ledger, s.limiter, s.alerts,
		s.events, deps.Metrics, a.logger)
	s.bots = service.NewBotService(deps.Store, deps.Locks, s.ledger, s.limiter, s.events,
		a.cfg.PolicyDefaults.BotPolicy(), a.logger)
	s.markets = service.NewMarketService(deps.Store, deps.Locks, s.ledger, s.limiter, s.alerts,
		s.events, a.logger)
	s.webhooks = service.NewWebhookService(deps.Store, a.logger)

	if err := s.ledger.ConfigureTreasury(ctx, a.cfg.Treasury.Domain()); err != nil {
		return nil, fmt.Errorf("configure treasury: %w", err)
	}
	return s, nil
}

// ServerMode runs the HTTP API and the WebSocket hub only. Background work
// is left to a separate worker process sharing the same store.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// WorkerMode runs the lifecycle scheduler, webhook delivery and the event
// archiver without serving HTTP.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "app: starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svcs)
	return g.Wait()
}

// FullMode runs the server and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	lifecycle := service.NewLifecycleScheduler(
		deps.Store, deps.Locks, svcs.events, svcs.resolution, deps.Metrics,
		a.cfg.Lifecycle.PollInterval.Duration, a.cfg.Lifecycle.AutoResolve, a.logger,
	)
	g.Go(func() error {
		return lifecycle.Run(ctx)
	})

	wc := a.cfg.Webhook
	worker := service.NewWebhookWorker(deps.Store, webhookClient(), service.WebhookWorkerConfig{
		PollInterval:  wc.PollInterval.Duration,
		BaseBackoff:   wc.BaseBackoff.Duration,
		MaxAttempts:   wc.MaxAttempts,
		Timeout:       wc.Timeout.Duration,
		BatchSize:     wc.BatchSize,
		Concurrency:   wc.Concurrency,
		RatePerSecond: wc.RatePerSecond,
		Burst:         wc.Burst,
	}, deps.Metrics, a.logger)
	g.Go(func() error {
		return worker.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.Clock, deps.Metrics, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunEvery(ctx, a.cfg.Archive.Interval.Duration)
		})
	} else {
		a.logger.InfoContext(ctx, "app: event archiving disabled")
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub to g. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Channel:        service.EventsChannel,
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sc := a.cfg.Server
	srv := server.NewServer(
		server.Config{
			Port:              sc.Port,
			CORSOrigins:       sc.CORSOrigins,
			ReadTimeout:       sc.ReadTimeout.Duration,
			WriteTimeout:      sc.WriteTimeout.Duration,
			AdminToken:        sc.AdminToken,
			RegistrationLimit: sc.RegistrationLimit,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode, deps.HealthChecks, a.logger),
			Bots:     handler.NewBotHandler(svcs.bots, svcs.ledger, svcs.alerts, a.logger),
			Markets:  handler.NewMarketHandler(svcs.markets, svcs.trading, svcs.resolution, a.logger),
			Webhooks: handler.NewWebhookHandler(svcs.webhooks, svcs.events, a.logger),
			Metrics:  deps.Metrics.Handler(),
		},
		server.Deps{
			Auth:    middleware.NewBotAuth(svcs.bots, svcs.alerts),
			Counter: deps.Counter,
			Clock:   deps.Clock,
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "app: http server listening",
			slog.Int("port", sc.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", sc.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := sc.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
