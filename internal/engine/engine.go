// Package engine implements the tiered categorization decision process.
//
// A transaction cascades through an ordered list of strategies: learned
// rules, statistical history, and finally AI-assisted research. The last
// strategy always produces a decision, so the engine never fails with
// "no match".
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgertag/internal/model"
)

// Thresholds gates tier acceptance. The rule threshold must stay above the
// historical floor so explicit rules always outrank statistical evidence.
type Thresholds struct {
	Rule       float64
	Historical float64
}

// DefaultThresholds returns the standard tier gates.
func DefaultThresholds() Thresholds {
	return Thresholds{Rule: 0.95, Historical: 0.80}
}

// Strategy is one tier of the decision cascade. TryMatch returns nil when
// the tier has nothing confident to say and the transaction should fall
// through to the next tier.
type Strategy interface {
	Name() string
	TryMatch(ctx context.Context, txn model.Transaction) (*model.Decision, error)
}

// Engine folds a transaction over its strategies and returns the first
// decision produced.
type Engine struct {
	strategies []Strategy
}

// New creates an engine with the given strategies in cascade order. The
// final strategy is expected to always return a decision.
func New(strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies}
}

// Decide categorizes a single transaction. Transfers between accounts and
// inflows are flagged non-categorizable before any strategy runs. Strategy
// errors are logged and treated as fall-through, never surfaced to the
// caller: the engine's contract is exactly one decision per transaction.
func (e *Engine) Decide(ctx context.Context, txn model.Transaction) model.Decision {
	if txn.IsTransfer() {
		return NonCategorizableDecision(txn.ID, "transfer between accounts")
	}
	if txn.IsInflow() {
		return NonCategorizableDecision(txn.ID, "inflow, not a spending transaction")
	}

	for _, strategy := range e.strategies {
		decision, err := strategy.TryMatch(ctx, txn)
		if err != nil {
			slog.Warn("Strategy failed, falling through",
				"strategy", strategy.Name(),
				"transaction_id", txn.ID,
				"error", err)
			continue
		}
		if decision != nil {
			return *decision
		}
	}

	return ManualReviewDecision(txn.ID, "no tier produced a decision")
}

// Recommendation pairs a transaction with the decision reached for it.
type Recommendation struct {
	Transaction model.Transaction
	Decision    model.Decision
}

// Summary aggregates a batch of decisions by outcome.
type Summary struct {
	Total            int
	Rule             int
	Historical       int
	Research         int
	NeedsReview      int
	NonCategorizable int
}

// Tally counts a decision into the summary.
func (s *Summary) Tally(d model.Decision) {
	s.Total++
	switch {
	case d.NonCategorizable:
		s.NonCategorizable++
	case d.NeedsReview:
		s.NeedsReview++
	case d.Tier == model.TierRule:
		s.Rule++
	case d.Tier == model.TierHistorical:
		s.Historical++
	case d.Tier == model.TierResearch:
		s.Research++
	}
}

// DecideBatch categorizes each transaction in order and tallies outcomes.
func (e *Engine) DecideBatch(ctx context.Context, txns []model.Transaction) ([]Recommendation, Summary) {
	recommendations := make([]Recommendation, 0, len(txns))
	var summary Summary

	for _, txn := range txns {
		decision := e.Decide(ctx, txn)
		recommendations = append(recommendations, Recommendation{Transaction: txn, Decision: decision})
		summary.Tally(decision)
	}

	return recommendations, summary
}

// NonCategorizableDecision is the sentinel for transactions that should
// never receive a category, such as transfers and inflows.
func NonCategorizableDecision(transactionID, reason string) model.Decision {
	return model.Decision{
		TransactionID:    transactionID,
		Type:             model.DecisionSingle,
		Tier:             model.TierRule,
		Method:           "pre_check",
		Confidence:       0,
		Reasoning:        fmt.Sprintf("Not categorizable: %s", reason),
		NonCategorizable: true,
		Timestamp:        time.Now().UTC(),
	}
}

// ManualReviewDecision is the research tier's failure sentinel: confidence
// zero, flagged for a human to look at, never an error.
func ManualReviewDecision(transactionID, reason string) model.Decision {
	return model.Decision{
		TransactionID: transactionID,
		Type:          model.DecisionSingle,
		Tier:          model.TierResearch,
		Method:        "manual_review",
		Confidence:    0,
		Reasoning:     fmt.Sprintf("Needs manual review: %s", reason),
		NeedsReview:   true,
		Timestamp:     time.Now().UTC(),
	}
}
