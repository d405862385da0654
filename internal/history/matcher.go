// Package history matches transactions against past categorization patterns.
package history

import (
	"context"
	"fmt"

	"ledgertag/internal/model"
	"ledgertag/internal/storage"
)

// DefaultConfidenceFloor is the minimum share of past transactions a category
// must hold before historical evidence is trusted.
const DefaultConfidenceFloor = 0.80

// Store is the slice of the storage layer the matcher needs.
type Store interface {
	FindHistoricalCategory(ctx context.Context, q storage.HistoricalQuery) (*storage.HistoricalMatch, error)
}

// Matcher suggests categories based on how a payee was categorized before.
type Matcher struct {
	store Store
	floor float64
}

// NewMatcher creates a matcher with the default confidence floor.
func NewMatcher(store Store) *Matcher {
	return NewMatcherWithFloor(store, DefaultConfidenceFloor)
}

// NewMatcherWithFloor creates a matcher with a custom confidence floor.
func NewMatcherWithFloor(store Store, floor float64) *Matcher {
	return &Matcher{store: store, floor: floor}
}

// Match returns the dominant historical category for the transaction's payee,
// or nil when there is no history confident enough to act on. Transactions
// without a payee never match.
func (m *Matcher) Match(ctx context.Context, txn model.Transaction) (*storage.HistoricalMatch, error) {
	payee := txn.Descriptor()
	if payee == "" {
		return nil, nil
	}

	amount := txn.Amount
	match, err := m.store.FindHistoricalCategory(ctx, storage.HistoricalQuery{
		PayeeName:     payee,
		Amount:        &amount,
		MinConfidence: m.floor,
	})
	if err != nil {
		return nil, fmt.Errorf("historical lookup for %q: %w", payee, err)
	}
	return match, nil
}
