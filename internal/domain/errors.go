package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("state conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrLockHeld          = errors.New("lock already held")
)

// LimitKind distinguishes the two sliding-window limits.
type LimitKind string

const (
	LimitRate  LimitKind = "rate_limit"
	LimitQuota LimitKind = "quota"
)

// LimitError is returned when a sliding window rejects an action. It matches
// ErrRateLimited or ErrQuotaExceeded with errors.Is.
type LimitError struct {
	Kind       LimitKind
	Key        string
	Limit      int
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	if e.Kind == LimitQuota {
		return fmt.Sprintf("quota exceeded for %s (limit %d), retry after %s", e.Key, e.Limit, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("rate limit exceeded for %s (limit %d), retry after %s", e.Key, e.Limit, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is match the sentinel for the limit kind.
func (e *LimitError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == LimitRate
	case ErrQuotaExceeded:
		return e.Kind == LimitQuota
	}
	return false
}

// RetryAfter extracts the retry-after hint from an error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}

// StatusCode maps an error chain to the HTTP status the API reports.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
