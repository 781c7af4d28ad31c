package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Authenticator resolves an API key to the bot that owns it.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (domain.Bot, error)
}

// AlertRaiser records an authorization alert for a bot.
type AlertRaiser interface {
	Raise(ctx context.Context, botID string, kind domain.AlertKind, message string, detail map[string]any) domain.Alert
}

type botKey struct{}

// WithBot returns a copy of ctx carrying the authenticated bot.
func WithBot(ctx context.Context, bot domain.Bot) context.Context {
	return context.WithValue(ctx, botKey{}, bot)
}

// BotFromContext returns the bot resolved by BotAuth.
func BotFromContext(ctx context.Context) (domain.Bot, bool) {
	bot, ok := ctx.Value(botKey{}).(domain.Bot)
	return bot, ok
}

// BotAuth resolves the caller's bot from a Bearer token or X-API-Key header
// and stores it in the request context. Unknown or missing keys get 401.
//
// When the route has an {id} path value that names a different bot the
// request is rejected with 403 and an authorization alert is raised for the
// caller.
type BotAuth struct {
	bots   Authenticator
	alerts AlertRaiser
}

// NewBotAuth creates a BotAuth. alerts may be nil.
func NewBotAuth(bots Authenticator, alerts AlertRaiser) *BotAuth {
	return &BotAuth{bots: bots, alerts: alerts}
}

// Require authenticates the caller.
func (a *BotAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bot, err := a.bots.Authenticate(r.Context(), extractToken(r))
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, domain.ErrUnauthorized) {
				status = http.StatusInternalServerError
			}
			writeError(w, status, "invalid or missing api key")
			return
		}
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			info.botID = bot.ID
		}
		next.ServeHTTP(w, r.WithContext(WithBot(r.Context(), bot)))
	})
}

// RequireSelf authenticates the caller and requires the {id} path value to
// be the caller's own bot.
func (a *BotAuth) RequireSelf(next http.Handler) http.Handler {
	return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bot, _ := BotFromContext(r.Context())
		target := r.PathValue("id")
		if target != "" && target != bot.ID {
			if a.alerts != nil {
				a.alerts.Raise(r.Context(), bot.ID, domain.AlertAuthorization,
					"bot attempted to act on another bot",
					map[string]any{"target_bot_id": target, "method": r.Method, "path": r.URL.Path},
				)
			}
			writeError(w, http.StatusForbidden, "api key does not belong to this bot")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// AdminToken returns middleware that requires a static operator token in the
// Authorization (Bearer) or X-API-Key header. An empty token disables the
// check.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := extractToken(r)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeError sends a JSON error body with status.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
