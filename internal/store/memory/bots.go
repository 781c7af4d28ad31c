package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// CreateBot stores a new bot together with its policy.
func (s *Store) CreateBot(ctx context.Context, bot domain.Bot, policy domain.BotPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[bot.ID]; ok {
		return fmt.Errorf("memory: create bot %s: %w", bot.ID, domain.ErrAlreadyExists)
	}
	if _, ok := s.botsByKey[bot.APIKey]; ok && bot.APIKey != "" {
		return fmt.Errorf("memory: create bot %s: api key: %w", bot.ID, domain.ErrAlreadyExists)
	}

	policy.BotID = bot.ID
	s.bots[bot.ID] = bot
	s.botOrder = append(s.botOrder, bot.ID)
	if bot.APIKey != "" {
		s.botsByKey[bot.APIKey] = bot.ID
	}
	s.policies[bot.ID] = policy

	record(ctx, func() {
		delete(s.bots, bot.ID)
		delete(s.botsByKey, bot.APIKey)
		delete(s.policies, bot.ID)
		s.botOrder = removeID(s.botOrder, bot.ID)
	})
	return nil
}

// GetBot returns the bot with the given ID.
func (s *Store) GetBot(_ context.Context, id string) (domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bots[id]
	if !ok {
		return domain.Bot{}, fmt.Errorf("memory: get bot %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

// GetBotByAPIKey resolves an API key to its bot.
func (s *Store) GetBotByAPIKey(_ context.Context, apiKey string) (domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.botsByKey[apiKey]
	if !ok || apiKey == "" {
		return domain.Bot{}, fmt.Errorf("memory: get bot by api key: %w", domain.ErrNotFound)
	}
	return s.bots[id], nil
}

// ListBots returns bots in creation order.
func (s *Store) ListBots(_ context.Context, opts domain.ListOpts) ([]domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := page(len(s.botOrder), opts.Offset, opts.Limit)
	out := make([]domain.Bot, 0, to-from)
	for _, id := range s.botOrder[from:to] {
		out = append(out, s.bots[id])
	}
	return out, nil
}

// UpdateBotStatus sets the operational status of a bot.
func (s *Store) UpdateBotStatus(ctx context.Context, id string, status domain.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[id]
	if !ok {
		return fmt.Errorf("memory: update bot status %s: %w", id, domain.ErrNotFound)
	}
	prev := b.Status
	b.Status = status
	s.bots[id] = b

	record(ctx, func() {
		if cur, ok := s.bots[id]; ok {
			cur.Status = prev
			s.bots[id] = cur
		}
	})
	return nil
}

// UpdateBotReputation sets the reputation score of a bot.
func (s *Store) UpdateBotReputation(ctx context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[id]
	if !ok {
		return fmt.Errorf("memory: update bot reputation %s: %w", id, domain.ErrNotFound)
	}
	prev := b.ReputationScore
	b.ReputationScore = score
	s.bots[id] = b

	record(ctx, func() {
		if cur, ok := s.bots[id]; ok {
			cur.ReputationScore = prev
			s.bots[id] = cur
		}
	})
	return nil
}

// GetPolicy returns the policy of a bot.
func (s *Store) GetPolicy(_ context.Context, botID string) (domain.BotPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[botID]
	if !ok {
		return domain.BotPolicy{}, fmt.Errorf("memory: get policy %s: %w", botID, domain.ErrNotFound)
	}
	return p, nil
}

// SavePolicy replaces the policy of an existing bot.
func (s *Store) SavePolicy(ctx context.Context, policy domain.BotPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.policies[policy.BotID]
	if !ok {
		return fmt.Errorf("memory: save policy %s: %w", policy.BotID, domain.ErrNotFound)
	}
	s.policies[policy.BotID] = policy

	record(ctx, func() { s.policies[policy.BotID] = prev })
	return nil
}
