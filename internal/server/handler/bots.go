package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// BotService defines the bot operations the handler needs.
type BotService interface {
	RegisterBot(ctx context.Context, name string) (domain.Bot, error)
	GetBot(ctx context.Context, id string) (domain.Bot, error)
	ListBots(ctx context.Context, opts domain.ListOpts) ([]domain.Bot, error)
	UpdateStatus(ctx context.Context, botID string, status domain.BotStatus) (domain.Bot, error)
	GetPolicy(ctx context.Context, botID string) (domain.BotPolicy, error)
	UpdatePolicy(ctx context.Context, policy domain.BotPolicy) (domain.BotPolicy, error)
	Deposit(ctx context.Context, botID string, amount float64, reason string) (domain.Bot, error)
}

// LedgerReader serves wallet and treasury history.
type LedgerReader interface {
	BotLedger(ctx context.Context, botID string) ([]domain.LedgerEntry, error)
	Treasury(ctx context.Context) (domain.TreasuryState, error)
	TreasuryLedger(ctx context.Context) ([]domain.TreasuryLedgerEntry, error)
}

// AlertLister lists a bot's alerts.
type AlertLister interface {
	List(ctx context.Context, botID string) ([]domain.Alert, error)
}

// BotHandler serves bot registration, wallet and policy endpoints.
type BotHandler struct {
	bots   BotService
	ledger LedgerReader
	alerts AlertLister
	logger *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bots BotService, ledger LedgerReader, alerts AlertLister, logger *slog.Logger) *BotHandler {
	return &BotHandler{bots: bots, ledger: ledger, alerts: alerts, logger: logger}
}

type registerBotRequest struct {
	Name string `json:"name"`
}

// registeredBot is the only response that ever carries the API key.
type registeredBot struct {
	domain.Bot
	APIKey string `json:"api_key"`
}

// Register creates a bot and returns its API key once.
// POST /api/bots
func (h *BotHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "register bot", err)
		return
	}
	bot, err := h.bots.RegisterBot(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, r, h.logger, "register bot", err)
		return
	}
	writeJSON(w, http.StatusCreated, registeredBot{Bot: bot, APIKey: bot.APIKey})
}

// List returns bots with pagination.
// GET /api/bots?limit=50&offset=0
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	bots, err := h.bots.ListBots(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list bots", err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

// Get returns one bot.
// GET /api/bots/{id}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	bot, err := h.bots.GetBot(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get bot", err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

type depositRequest struct {
	AmountBDC float64 `json:"amount_bdc"`
	Reason    string  `json:"reason"`
}

// Deposit credits the bot's wallet.
// POST /api/bots/{id}/deposit
func (h *BotHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}
	bot, err := h.bots.Deposit(r.Context(), pathParam(r, "id"), req.AmountBDC, req.Reason)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

type statusRequest struct {
	Status domain.BotStatus `json:"status"`
}

// UpdateStatus changes the bot's status.
// PUT /api/bots/{id}/status
func (h *BotHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, h.logger, "update status", err)
		return
	}
	bot, err := h.bots.UpdateStatus(r.Context(), pathParam(r, "id"), req.Status)
	if err != nil {
		writeDomainError(w, r, h.logger, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

// GetPolicy returns the bot's policy.
// GET /api/bots/{id}/policy
func (h *BotHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.bots.GetPolicy(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// UpdatePolicy replaces the bot's policy.
// PUT /api/bots/{id}/policy
func (h *BotHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy domain.BotPolicy
	if err := decodeJSON(r, &policy); err != nil {
		writeDomainError(w, r, h.logger, "update policy", err)
		return
	}
	policy.BotID = pathParam(r, "id")
	saved, err := h.bots.UpdatePolicy(r.Context(), policy)
	if err != nil {
		writeDomainError(w, r, h.logger, "update policy", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Ledger returns the bot's wallet history, oldest first.
// GET /api/bots/{id}/ledger
func (h *BotHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.BotLedger(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "bot ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Alerts returns the bot's alerts.
// GET /api/bots/{id}/alerts
func (h *BotHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.List(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// Treasury returns the treasury balance and configuration.
// GET /api/treasury
func (h *BotHandler) Treasury(w http.ResponseWriter, r *http.Request) {
	state, err := h.ledger.Treasury(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "treasury", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// TreasuryLedger returns every treasury movement, oldest first.
// GET /api/treasury/ledger
func (h *BotHandler) TreasuryLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.TreasuryLedger(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "treasury ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
