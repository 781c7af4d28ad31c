package postgres

import (
	"errors"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/crypto"
	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Store composes the per-aggregate stores into a domain.Store sharing one
// client, so every store joins the same context transaction.
type Store struct {
	*Client
	*BotStore
	*LedgerStore
	*MarketStore
	*EventStore
	clock domain.Clock
}

// NewStore builds a Store on client. box seals bot API keys at rest.
func NewStore(client *Client, box *crypto.SecretBox, clock domain.Clock) (*Store, error) {
	if box == nil {
		return nil, errors.New("postgres: api key secret box is required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{
		Client:      client,
		BotStore:    NewBotStore(client, box),
		LedgerStore: NewLedgerStore(client),
		MarketStore: NewMarketStore(client),
		EventStore:  NewEventStore(client),
		clock:       clock,
	}, nil
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

var _ domain.Store = (*Store)(nil)
