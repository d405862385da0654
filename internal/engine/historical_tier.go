package engine

import (
	"context"
	"fmt"
	"time"

	"ledgertag/internal/model"
	"ledgertag/internal/storage"
)

// HistoricalMatcher is the slice of the history package the tier needs.
type HistoricalMatcher interface {
	Match(ctx context.Context, txn model.Transaction) (*storage.HistoricalMatch, error)
}

// HistoricalStrategy is the second decision tier: how has this payee been
// categorized before? The matcher enforces its own confidence floor.
type HistoricalStrategy struct {
	matcher HistoricalMatcher
}

// NewHistoricalStrategy creates the historical tier.
func NewHistoricalStrategy(matcher HistoricalMatcher) *HistoricalStrategy {
	return &HistoricalStrategy{matcher: matcher}
}

// Name identifies the tier in logs.
func (s *HistoricalStrategy) Name() string { return "historical" }

// TryMatch consults past categorizations of the payee.
func (s *HistoricalStrategy) TryMatch(ctx context.Context, txn model.Transaction) (*model.Decision, error) {
	match, err := s.matcher.Match(ctx, txn)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, nil
	}

	return &model.Decision{
		TransactionID: txn.ID,
		CategoryID:    match.CategoryID,
		CategoryName:  match.CategoryName,
		Type:          model.DecisionSingle,
		Tier:          model.TierHistorical,
		Method:        "historical",
		Confidence:    match.Confidence,
		Reasoning: fmt.Sprintf("Based on %d previous transactions with %q, %d%% were categorized as %q",
			match.SampleCount, txn.Descriptor(), int(match.Confidence*100), match.CategoryName),
		Timestamp: time.Now().UTC(),
	}, nil
}
