package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// CreateMarket stores a new market.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.markets[m.ID] = m.Clone()
	s.marketOrder = append(s.marketOrder, m.ID)

	record(ctx, func() {
		delete(s.markets, m.ID)
		s.marketOrder = removeID(s.marketOrder, m.ID)
	})
	return nil
}

// GetMarket returns a copy of the market.
func (s *Store) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// SaveMarket replaces an existing market. Callers hold the market lock, so
// restoring the previous snapshot on rollback cannot clobber another writer.
func (s *Store) SaveMarket(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("memory: save market %s: %w", m.ID, domain.ErrNotFound)
	}
	s.markets[m.ID] = m.Clone()

	record(ctx, func() { s.markets[m.ID] = prev })
	return nil
}

// ListMarkets returns markets in creation order, narrowed by f.
func (s *Store) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Market
	for _, id := range s.marketOrder {
		m := s.markets[id]
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.CreatorBotID != "" && m.CreatorBotID != f.CreatorBotID {
			continue
		}
		if f.ResolverPolicy != "" && m.ResolverPolicy != f.ResolverPolicy {
			continue
		}
		if f.ClosesBefore != nil && m.ClosesAt.After(*f.ClosesBefore) {
			continue
		}
		matched = append(matched, m.Clone())
	}
	from, to := page(len(matched), f.Offset, f.Limit)
	return matched[from:to], nil
}

// CountActiveMarkets counts the creator's unresolved markets.
func (s *Store) CountActiveMarkets(_ context.Context, creatorBotID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.markets {
		if m.CreatorBotID == creatorBotID && !m.IsResolved() {
			n++
		}
	}
	return n, nil
}

// AppendTrade records a trade against its market.
func (s *Store) AppendTrade(ctx context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[t.MarketID]; !ok {
		return fmt.Errorf("memory: append trade to market %s: %w", t.MarketID, domain.ErrNotFound)
	}
	s.trades[t.MarketID] = append(s.trades[t.MarketID], t)

	record(ctx, func() {
		s.trades[t.MarketID] = slices.DeleteFunc(s.trades[t.MarketID], func(x domain.Trade) bool {
			return x.ID == t.ID
		})
	})
	return nil
}

// ListTrades returns the market's trades in the order they were applied.
func (s *Store) ListTrades(_ context.Context, marketID string) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.markets[marketID]; !ok {
		return nil, fmt.Errorf("memory: list trades %s: %w", marketID, domain.ErrNotFound)
	}
	return slices.Clone(s.trades[marketID]), nil
}

// SaveResolution stores the one resolution a market may have.
func (s *Store) SaveResolution(ctx context.Context, r domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resolutions[r.MarketID]; ok {
		return fmt.Errorf("memory: save resolution %s: %w", r.MarketID, domain.ErrAlreadyExists)
	}
	r.ResolverBotIDs = slices.Clone(r.ResolverBotIDs)
	r.Evidence = slices.Clone(r.Evidence)
	r.Votes = slices.Clone(r.Votes)
	s.resolutions[r.MarketID] = r

	record(ctx, func() { delete(s.resolutions, r.MarketID) })
	return nil
}

// GetResolution returns the market's resolution.
func (s *Store) GetResolution(_ context.Context, marketID string) (domain.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resolutions[marketID]
	if !ok {
		return domain.Resolution{}, fmt.Errorf("memory: get resolution %s: %w", marketID, domain.ErrNotFound)
	}
	return r, nil
}
