// Package memory implements domain.Store in process memory. It is the default
// backend for single-instance deployments and the store used by tests.
package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Store keeps every aggregate in maps guarded by one RWMutex. Writes made
// inside WithinTx are journaled so a failed transaction can be undone.
type Store struct {
	clock domain.Clock

	mu        sync.RWMutex
	bots      map[string]domain.Bot
	botOrder  []string
	botsByKey map[string]string
	policies  map[string]domain.BotPolicy

	ledger         map[string][]domain.LedgerEntry
	treasury       domain.TreasuryState
	treasuryLedger []domain.TreasuryLedgerEntry

	markets     map[string]domain.Market
	marketOrder []string
	trades      map[string][]domain.Trade
	resolutions map[string]domain.Resolution

	events       map[string]domain.Event
	eventOrder   []string
	webhooks     map[string]domain.Webhook
	webhookOrder []string
	outbox       map[string]domain.OutboxEntry
	outboxOrder  []string
	alerts       []domain.Alert
}

// New creates an empty store. A nil clock falls back to the system clock.
func New(clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{
		clock:       clock,
		bots:        make(map[string]domain.Bot),
		botsByKey:   make(map[string]string),
		policies:    make(map[string]domain.BotPolicy),
		ledger:      make(map[string][]domain.LedgerEntry),
		markets:     make(map[string]domain.Market),
		trades:      make(map[string][]domain.Trade),
		resolutions: make(map[string]domain.Resolution),
		events:      make(map[string]domain.Event),
		webhooks:    make(map[string]domain.Webhook),
		outbox:      make(map[string]domain.OutboxEntry),
	}
}

// Now implements domain.Clock.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// page applies offset/limit to n items and returns the slice bounds.
func page(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return offset, end
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}

var _ domain.Store = (*Store)(nil)
