// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/server/handler"
	"github.com/alanyoungcy/prediclaw/internal/server/middleware"
	"github.com/alanyoungcy/prediclaw/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AdminToken guards operator routes. Empty leaves them open.
	AdminToken string
	// RegistrationLimit caps bot registrations per client IP per hour.
	RegistrationLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Bots     *handler.BotHandler
	Markets  *handler.MarketHandler
	Webhooks *handler.WebhookHandler
	Metrics  http.Handler
}

// Deps are the collaborators the middleware needs.
type Deps struct {
	Auth    *middleware.BotAuth
	Counter domain.WindowCounter
	Clock   domain.Clock
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered on a ServeMux and
// wrapped in logging and CORS middleware.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	h := Routes(cfg, handlers, deps, wsHub, logger)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Routes builds the full handler tree. It is exported for tests.
func Routes(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	bot := func(f http.HandlerFunc) http.Handler { return deps.Auth.Require(f) }
	self := func(f http.HandlerFunc) http.Handler { return deps.Auth.RequireSelf(f) }
	admin := middleware.AdminToken(cfg.AdminToken)
	operator := func(f http.HandlerFunc) http.Handler { return admin(f) }

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bots.
	register := http.Handler(http.HandlerFunc(handlers.Bots.Register))
	if deps.Counter != nil && cfg.RegistrationLimit > 0 {
		register = middleware.RateLimit(deps.Counter, deps.Clock, cfg.RegistrationLimit, time.Hour)(register)
	}
	mux.Handle("POST /api/bots", register)
	mux.HandleFunc("GET /api/bots", handlers.Bots.List)
	mux.HandleFunc("GET /api/bots/{id}", handlers.Bots.Get)
	mux.Handle("PUT /api/bots/{id}/status", self(handlers.Bots.UpdateStatus))
	mux.Handle("GET /api/bots/{id}/policy", self(handlers.Bots.GetPolicy))
	mux.Handle("PUT /api/bots/{id}/policy", self(handlers.Bots.UpdatePolicy))
	mux.Handle("GET /api/bots/{id}/ledger", self(handlers.Bots.Ledger))
	mux.Handle("GET /api/bots/{id}/alerts", self(handlers.Bots.Alerts))

	// Operator routes.
	mux.Handle("POST /api/bots/{id}/deposit", operator(handlers.Bots.Deposit))
	mux.Handle("GET /api/treasury", operator(handlers.Bots.Treasury))
	mux.Handle("GET /api/treasury/ledger", operator(handlers.Bots.TreasuryLedger))

	// Webhooks.
	mux.Handle("POST /api/bots/{id}/webhooks", self(handlers.Webhooks.Register))
	mux.Handle("GET /api/bots/{id}/webhooks", self(handlers.Webhooks.List))
	mux.Handle("DELETE /api/bots/{id}/webhooks/{webhook_id}", self(handlers.Webhooks.Delete))
	mux.Handle("GET /api/bots/{id}/webhooks/{webhook_id}/outbox", self(handlers.Webhooks.Outbox))

	// Markets.
	mux.Handle("POST /api/markets", bot(handlers.Markets.Create))
	mux.HandleFunc("GET /api/markets", handlers.Markets.List)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.Get)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Markets.Trades)
	mux.Handle("POST /api/markets/{id}/trades", bot(handlers.Markets.Trade))
	mux.Handle("POST /api/markets/{id}/resolve", bot(handlers.Markets.Resolve))
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Markets.Resolution)
	mux.HandleFunc("GET /api/markets/{id}/liquidity", handlers.Markets.Liquidity)
	mux.HandleFunc("GET /api/markets/{id}/price-series", handlers.Markets.PriceSeries)

	// Event log and live stream.
	mux.HandleFunc("GET /api/events", handlers.Webhooks.Events)
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
