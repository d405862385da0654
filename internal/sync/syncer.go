// Package sync commits batches of approved decisions back to the ledger.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
)

// LedgerClient is the slice of the ledger API the syncer submits through.
type LedgerClient interface {
	UpdateCategory(ctx context.Context, budgetID, transactionID, categoryID string) error
	ReplaceSubtransactions(ctx context.Context, budgetID, transactionID string, subs []model.Subtransaction, expectedTotal int64) error
}

// DecisionRecorder feeds successful commits into the learning loop.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, decision *model.Decision) error
}

// Item is one approved decision plus the transaction total it was approved
// against. The declared total anchors split-sum validation.
type Item struct {
	Decision      model.Decision
	DeclaredTotal int64
}

// ItemError is one structured per-item failure in a batch outcome.
type ItemError struct {
	ItemID  string
	Kind    string
	Message string
}

// Batch statuses, derived from the counters and never set directly.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Outcome aggregates a batch commit. Nothing is silently dropped: every
// non-success lands in Errors.
type Outcome struct {
	Errors    []ItemError
	Total     int
	Succeeded int
	Failed    int
	Conflicts int
}

// Status derives the batch status from the counters.
func (o *Outcome) Status() string {
	switch {
	case o.Failed > 0 || (o.Succeeded == 0 && o.Total > 0):
		return StatusFailed
	case o.Conflicts > 0 || len(o.Errors) > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// Syncer validates and submits approved decisions for one budget.
type Syncer struct {
	client   LedgerClient
	recorder DecisionRecorder
	budgetID string
}

// NewSyncer creates a syncer. The recorder may be nil when learning capture
// is disabled.
func NewSyncer(client LedgerClient, recorder DecisionRecorder, budgetID string) *Syncer {
	return &Syncer{client: client, recorder: recorder, budgetID: budgetID}
}

// Commit validates the whole batch first and, only if every item is
// structurally valid, submits item by item. A validation failure aborts the
// batch before any network I/O, reporting the offending item. Per-item
// submission failures never abort siblings.
func (s *Syncer) Commit(ctx context.Context, items []Item) *Outcome {
	outcome := &Outcome{Total: len(items)}

	if err := validateBatch(items); err != nil {
		var validationErr *common.ValidationError
		entry := ItemError{Kind: "validation", Message: err.Error()}
		if errors.As(err, &validationErr) {
			entry.ItemID = validationErr.ItemID
			entry.Message = validationErr.Message
		}
		outcome.Errors = append(outcome.Errors, entry)
		return outcome
	}

	for _, item := range items {
		s.submit(ctx, item, outcome)
	}
	return outcome
}

// validateBatch fail-fasts on the first structural problem. No I/O happens
// until the whole batch passes.
func validateBatch(items []Item) error {
	for _, item := range items {
		d := item.Decision
		if d.TransactionID == "" {
			return common.NewValidationError("", "decision is missing a transaction ID")
		}
		switch d.Type {
		case model.DecisionSplit:
			if len(d.Allocations) == 0 {
				return common.NewValidationError(d.TransactionID, "split decision has no allocations")
			}
			var sum int64
			for _, alloc := range d.Allocations {
				sum += alloc.Amount
			}
			if sum != item.DeclaredTotal {
				return common.NewValidationError(d.TransactionID,
					"split allocations sum to %d, declared total is %d (deviation %d)",
					sum, item.DeclaredTotal, sum-item.DeclaredTotal)
			}
		default:
			if d.CategoryID == "" || d.CategoryName == "" {
				return common.NewValidationError(d.TransactionID, "single decision is missing category fields")
			}
		}
	}
	return nil
}

func (s *Syncer) submit(ctx context.Context, item Item, outcome *Outcome) {
	d := item.Decision

	var err error
	if d.Type == model.DecisionSplit {
		subs := make([]model.Subtransaction, len(d.Allocations))
		for i, alloc := range d.Allocations {
			subs[i] = model.Subtransaction{
				CategoryID: alloc.CategoryID,
				Memo:       alloc.Memo,
				Amount:     alloc.Amount,
			}
		}
		err = s.client.ReplaceSubtransactions(ctx, s.budgetID, d.TransactionID, subs, item.DeclaredTotal)
	} else {
		err = s.client.UpdateCategory(ctx, s.budgetID, d.TransactionID, d.CategoryID)
	}

	switch {
	case err == nil:
		outcome.Succeeded++
		s.record(ctx, d)
	case isConflict(err):
		outcome.Conflicts++
		outcome.Errors = append(outcome.Errors, ItemError{
			ItemID:  d.TransactionID,
			Kind:    "conflict",
			Message: err.Error(),
		})
	default:
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, ItemError{
			ItemID:  d.TransactionID,
			Kind:    errorKind(err),
			Message: err.Error(),
		})
	}
}

// record feeds the committed decision into the learning loop. Best effort:
// the ledger write already succeeded and stays successful.
func (s *Syncer) record(ctx context.Context, decision model.Decision) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordDecision(ctx, &decision); err != nil {
		slog.Warn("Failed to record committed decision",
			"transaction_id", decision.TransactionID,
			"error", err)
	}
}

func isConflict(err error) bool {
	var conflict *common.ConflictError
	return errors.As(err, &conflict)
}

func errorKind(err error) string {
	var svcErr *common.ExternalServiceError
	if errors.As(err, &svcErr) {
		return string(svcErr.Kind)
	}
	return string(common.KindGeneric)
}

// String renders totals for logs.
func (o *Outcome) String() string {
	return fmt.Sprintf("%s: %d total, %d succeeded, %d failed, %d conflicts",
		o.Status(), o.Total, o.Succeeded, o.Failed, o.Conflicts)
}
