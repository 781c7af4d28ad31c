package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// RateLimit returns middleware that limits each client IP to limit requests
// per window on the shared sliding-window counter. It guards unauthenticated
// routes; bot routes are limited by the bot's own policy.
func RateLimit(counter domain.WindowCounter, clock domain.Clock, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			now := clock.Now()
			res, err := counter.Hit(r.Context(), "ip:"+extractClientIP(r), limit, window, now)
			if err != nil {
				// Fail open: a counter outage must not block legitimate traffic.
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				retry := res.Oldest.Add(window).Sub(now)
				w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(retry)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds rounds d up to whole seconds, at least 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
