package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/prediclaw/internal/domain"
	"github.com/alanyoungcy/prediclaw/internal/service"
)

// MarketService defines the market operations the handler needs. It is
// declared locally so tests can substitute fakes.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	ListTrades(ctx context.Context, marketID string) ([]domain.Trade, error)
	Liquidity(ctx context.Context, marketID string) (domain.Liquidity, error)
	PriceSeries(ctx context.Context, marketID string) ([]domain.PricePoint, error)
}

// TradingService applies trades.
type TradingService interface {
	ApplyTrade(ctx context.Context, req service.TradeRequest) (service.TradeResult, error)
}

// ResolutionService resolves markets and reads resolutions.
type ResolutionService interface {
	ResolveMarket(ctx context.Context, req service.ResolveRequest) (domain.SettlementReport, error)
	Resolution(ctx context.Context, marketID string) (domain.Resolution, error)
}

// MarketHandler serves market, trading and resolution endpoints.
type MarketHandler struct {
	markets    MarketService
	trading    TradingService
	resolution ResolutionService
	logger     *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, trading TradingService, resolution ResolutionService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, trading: trading, resolution: resolution, logger: logger}
}

// Create opens a market for the authenticated bot.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	botID, err := actingBot(r, req.BotID)
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	req.BotID = botID
	if req.ResolverPolicy == "" {
		req.ResolverPolicy = domain.ResolverSingle
	}

	m, err := h.markets.CreateMarket(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// List returns markets filtered by status, creator and resolver policy.
// GET /api/markets?status=open&creator_bot_id=...&limit=50&offset=0
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	closesBefore, err := parseTime(r, "closes_before")
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), domain.MarketFilter{
		Status:         domain.MarketStatus(q.Get("status")),
		CreatorBotID:   q.Get("creator_bot_id"),
		ResolverPolicy: domain.ResolverPolicy(q.Get("resolver_policy")),
		ClosesBefore:   closesBefore,
		Limit:          opts.Limit,
		Offset:         opts.Offset,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// Get returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Trades lists the market's trades in order.
// GET /api/markets/{id}/trades
func (h *MarketHandler) Trades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.markets.ListTrades(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list trades", err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

type tradeRequest struct {
	BotID     string  `json:"bot_id"`
	OutcomeID string  `json:"outcome_id"`
	AmountBDC float64 `json:"amount_bdc"`
}

// Trade stakes BDC on an outcome for the authenticated bot.
// POST /api/markets/{id}/trades
func (h *MarketHandler) Trade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "trade", err)
		return
	}
	botID, err := actingBot(r, req.BotID)
	if err != nil {
		writeDomainError(w, r, h.logger, "trade", err)
		return
	}

	res, err := h.trading.ApplyTrade(r.Context(), service.TradeRequest{
		MarketID:  pathParam(r, "id"),
		BotID:     botID,
		OutcomeID: req.OutcomeID,
		AmountBDC: req.AmountBDC,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type resolveRequest struct {
	BotID             string                `json:"bot_id"`
	ResolverBotIDs    []string              `json:"resolver_bot_ids"`
	ResolvedOutcomeID string                `json:"resolved_outcome_id"`
	Votes             []service.Vote        `json:"votes"`
	Evidence          []domain.EvidenceItem `json:"evidence"`
}

// Resolve decides and settles the market on behalf of the authenticated bot.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	botID, err := actingBot(r, req.BotID)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}

	report, err := h.resolution.ResolveMarket(r.Context(), service.ResolveRequest{
		MarketID:          pathParam(r, "id"),
		BotID:             botID,
		ResolverBotIDs:    req.ResolverBotIDs,
		ResolvedOutcomeID: req.ResolvedOutcomeID,
		Votes:             req.Votes,
		Evidence:          req.Evidence,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Resolution returns the stored resolution and votes.
// GET /api/markets/{id}/resolution
func (h *MarketHandler) Resolution(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolution.Resolution(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Liquidity returns the market's pools and prices.
// GET /api/markets/{id}/liquidity
func (h *MarketHandler) Liquidity(w http.ResponseWriter, r *http.Request) {
	liq, err := h.markets.Liquidity(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, liq)
}

// PriceSeries returns the traded outcome's price after each trade.
// GET /api/markets/{id}/price-series
func (h *MarketHandler) PriceSeries(w http.ResponseWriter, r *http.Request) {
	points, err := h.markets.PriceSeries(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "price series", err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}
