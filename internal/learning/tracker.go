// Package learning persists decisions and corrections and feeds learned
// rules back into the rules document.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgertag/internal/model"
	"ledgertag/internal/rules"
)

// Recorder is the slice of the storage layer the tracker writes through.
type Recorder interface {
	RecordCategorization(ctx context.Context, decision *model.Decision, corrected bool) error
}

// DocumentAppender receives learned-correction entries.
type DocumentAppender interface {
	Append(ctx context.Context, entry string) error
}

// Tracker closes the learning loop: committed decisions update the
// statistical store, and user corrections additionally become exact-payee
// rules in the rules document.
type Tracker struct {
	store    Recorder
	document DocumentAppender
}

// NewTracker creates a tracker. The document may be nil when learned-rule
// capture is disabled.
func NewTracker(store Recorder, document DocumentAppender) *Tracker {
	return &Tracker{store: store, document: document}
}

// RecordDecision upserts a committed decision's categorization onto the
// transaction. The upsert is idempotent, so replays after partial batch
// failures are safe. Callers treat failures as advisory: the decision
// already landed on the ledger.
func (t *Tracker) RecordDecision(ctx context.Context, decision *model.Decision) error {
	if err := t.store.RecordCategorization(ctx, decision, false); err != nil {
		return fmt.Errorf("recording decision for %s: %w", decision.TransactionID, err)
	}
	return nil
}

// Correction is a user's fix of a wrong categorization.
type Correction struct {
	Transaction     model.Transaction
	CategoryID      string
	CategoryName    string
	WrongSuggestion string
	Reasoning       string
}

// RecordCorrection applies a correction. The transaction upsert is the
// critical path and its failure is returned. The learned-rule append is
// best effort: a correction the user made must never be lost because the
// rules document was busy.
func (t *Tracker) RecordCorrection(ctx context.Context, correction Correction) error {
	decision := model.Decision{
		TransactionID: correction.Transaction.ID,
		CategoryID:    correction.CategoryID,
		CategoryName:  correction.CategoryName,
		Type:          model.DecisionSingle,
		Tier:          model.TierRule,
		Method:        "user_correction",
		Confidence:    1.0,
		Reasoning:     correction.Reasoning,
		Timestamp:     time.Now().UTC(),
	}
	if err := t.store.RecordCategorization(ctx, &decision, true); err != nil {
		return fmt.Errorf("recording correction for %s: %w", correction.Transaction.ID, err)
	}

	if t.document == nil {
		return nil
	}
	entry := rules.FormatCorrection(
		correction.Transaction.Descriptor(),
		correction.CategoryName,
		correction.CategoryID,
		correction.WrongSuggestion,
		correction.Reasoning,
	)
	if err := t.document.Append(ctx, entry); err != nil {
		slog.Warn("Failed to append learned correction",
			"payee", correction.Transaction.Descriptor(),
			"error", err)
	}
	return nil
}
