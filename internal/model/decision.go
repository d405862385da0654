package model

import "time"

// DecisionTier identifies which strategy produced a decision.
type DecisionTier string

// Decision tier constants, in cascade order.
const (
	TierRule       DecisionTier = "rule"
	TierHistorical DecisionTier = "historical"
	TierResearch   DecisionTier = "research"
)

// DecisionType distinguishes single-category decisions from splits.
type DecisionType string

// Decision type constants.
const (
	DecisionSingle DecisionType = "single"
	DecisionSplit  DecisionType = "split"
)

// SplitAllocation assigns a signed milliunit amount to a category within a
// split decision. Allocations must sum exactly to the transaction amount.
type SplitAllocation struct {
	CategoryID   string
	CategoryName string
	Memo         string
	Amount       int64
}

// Decision is the outcome of running a transaction through the decision
// engine. Decisions are transient: computed per request, never persisted as
// entities, only their effects land on the transaction.
type Decision struct {
	Timestamp        time.Time
	TransactionID    string
	CategoryID       string
	CategoryName     string
	Method           string
	Reasoning        string
	Allocations      []SplitAllocation
	Type             DecisionType
	Tier             DecisionTier
	Confidence       float64
	NonCategorizable bool
	NeedsReview      bool
}
