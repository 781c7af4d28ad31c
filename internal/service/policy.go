package service

import (
	"slices"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Vote is one resolver's choice in a majority or consensus resolution.
type Vote struct {
	ResolverBotID string `json:"resolver_bot_id"`
	OutcomeID     string `json:"outcome_id"`
}

type decisionInput struct {
	market    domain.Market
	resolvers []domain.Bot
	votes     []Vote
	outcome   string
}

type decision struct {
	outcome string
	votes   []domain.ResolutionVote
}

type policyDecider func(in decisionInput) (decision, error)

// policyDeciders selects the decision function for a market's resolver
// policy.
var policyDeciders = map[domain.ResolverPolicy]policyDecider{
	domain.ResolverSingle:    decideSingle,
	domain.ResolverMajority:  decideMajority,
	domain.ResolverConsensus: decideConsensus,
}

func decideSingle(in decisionInput) (decision, error) {
	if len(in.resolvers) != 1 {
		return decision{}, validationf("single policy takes exactly one resolver, got %d", len(in.resolvers))
	}
	if in.outcome == "" {
		return decision{}, validationf("resolved_outcome_id is required for single policy")
	}
	if !in.market.HasOutcome(in.outcome) {
		return decision{}, validationf("unknown outcome %q", in.outcome)
	}
	return decision{outcome: in.outcome}, nil
}

func decideMajority(in decisionInput) (decision, error) {
	if err := validateVotes(in); err != nil {
		return decision{}, err
	}
	return tally(in, func(domain.Bot) float64 { return 1 }, "no majority")
}

func decideConsensus(in decisionInput) (decision, error) {
	if err := validateVotes(in); err != nil {
		return decision{}, err
	}
	var total float64
	for _, b := range in.resolvers {
		total += b.ReputationScore
	}
	if total <= 0 {
		return decision{}, validationf("resolvers carry no reputation weight")
	}
	return tally(in, func(b domain.Bot) float64 { return b.ReputationScore }, "no consensus")
}

// validateVotes requires at least two resolvers and exactly one vote from
// each of them, on a known outcome.
func validateVotes(in decisionInput) error {
	if len(in.resolvers) < 2 {
		return validationf("%s policy needs at least two resolvers, got %d", in.market.ResolverPolicy, len(in.resolvers))
	}
	if len(in.votes) != len(in.resolvers) {
		return validationf("expected one vote per resolver: %d votes for %d resolvers", len(in.votes), len(in.resolvers))
	}
	seen := make(map[string]bool, len(in.votes))
	for _, v := range in.votes {
		if !slices.ContainsFunc(in.resolvers, func(b domain.Bot) bool { return b.ID == v.ResolverBotID }) {
			return validationf("vote from %s who is not a resolver", v.ResolverBotID)
		}
		if seen[v.ResolverBotID] {
			return validationf("duplicate vote from %s", v.ResolverBotID)
		}
		seen[v.ResolverBotID] = true
		if !in.market.HasOutcome(v.OutcomeID) {
			return validationf("vote for unknown outcome %q", v.OutcomeID)
		}
	}
	return nil
}

// tally picks the outcome holding a strict majority of the total weight.
func tally(in decisionInput, weightOf func(domain.Bot) float64, failure string) (decision, error) {
	weights := make(map[string]float64, len(in.resolvers))
	for _, b := range in.resolvers {
		weights[b.ID] = weightOf(b)
	}

	perOutcome := make(map[string]float64)
	var total float64
	votes := make([]domain.ResolutionVote, 0, len(in.votes))
	for _, v := range in.votes {
		w := weights[v.ResolverBotID]
		perOutcome[v.OutcomeID] += w
		total += w
		votes = append(votes, domain.ResolutionVote{
			MarketID:      in.market.ID,
			ResolverBotID: v.ResolverBotID,
			OutcomeID:     v.OutcomeID,
			Weight:        w,
		})
	}

	winner := ""
	for _, o := range in.market.Outcomes {
		if perOutcome[o]*2 > total {
			winner = o
			break
		}
	}
	if winner == "" {
		return decision{}, conflictf("%s", failure)
	}
	if in.outcome != "" && in.outcome != winner {
		return decision{}, validationf("resolved_outcome_id %q does not match the vote winner %q", in.outcome, winner)
	}
	return decision{outcome: winner, votes: votes}, nil
}
