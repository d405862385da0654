// Package model defines the core domain models used throughout the application.
package model

import (
	"strings"
	"time"
)

// Transaction represents a single ledger transaction. Amounts are signed
// milliunits (the ledger's smallest currency denomination): -4500 is a
// $4.50 outflow.
type Transaction struct {
	Date         time.Time
	ID           string
	PayeeName    string
	Memo         string
	CategoryID   string
	CategoryName string
	AccountID    string
	Amount       int64
}

// Descriptor returns the normalized match input for the transaction:
// payee text trimmed with interior whitespace collapsed.
func (t *Transaction) Descriptor() string {
	return strings.Join(strings.Fields(t.PayeeName), " ")
}

// IsInflow reports whether the transaction adds money to the account.
// Inflows are never categorized by the engine.
func (t *Transaction) IsInflow() bool {
	return t.Amount > 0
}

// IsTransfer reports whether the payee matches the ledger's
// transfer-between-accounts naming convention ("Transfer : Savings").
func (t *Transaction) IsTransfer() bool {
	return strings.HasPrefix(strings.TrimSpace(t.PayeeName), "Transfer")
}

// Subtransaction is one allocation of a split transaction. The amounts of
// all subtransactions must sum exactly to the parent transaction amount.
type Subtransaction struct {
	CategoryID string `json:"category_id"`
	Memo       string `json:"memo,omitempty"`
	Amount     int64  `json:"amount"`
}
