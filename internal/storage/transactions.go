package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
)

// UpsertOutcome reports whether an upsert created or refreshed a row.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
)

// UpsertResult describes what happened to a transaction row during an upsert.
type UpsertResult struct {
	Outcome     UpsertOutcome
	SyncVersion int64
}

// UpsertTransaction inserts a transaction or refreshes an existing row with the
// latest data from the ledger, bumping its sync version on every update.
func (s *SQLiteStorage) UpsertTransaction(ctx context.Context, budgetID string, txn model.Transaction) (*UpsertResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(budgetID, "budgetID"); err != nil {
		return nil, err
	}
	if err := validateTransaction(&txn); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT sync_version FROM transactions WHERE id = ?`, txn.ID).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, budget_id, date, payee_name, memo, amount,
				account_id, category_id, category_name, sync_version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			txn.ID, budgetID, txn.Date, txn.PayeeName, txn.Memo, txn.Amount,
			txn.AccountID, txn.CategoryID, txn.CategoryName)
		if err != nil {
			return nil, fmt.Errorf("failed to insert transaction: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit upsert: %w", err)
		}
		return &UpsertResult{Outcome: UpsertInserted, SyncVersion: 1}, nil

	case err != nil:
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}

	next := current + 1
	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET budget_id = ?, date = ?, payee_name = ?, memo = ?, amount = ?,
			account_id = ?, category_id = ?, category_name = ?,
			sync_version = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		budgetID, txn.Date, txn.PayeeName, txn.Memo, txn.Amount,
		txn.AccountID, txn.CategoryID, txn.CategoryName, next, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return &UpsertResult{Outcome: UpsertUpdated, SyncVersion: next}, nil
}

// QueryUntagged returns transactions in a budget that have no category assigned,
// oldest first. A non-positive limit returns all matching rows.
func (s *SQLiteStorage) QueryUntagged(ctx context.Context, budgetID string, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(budgetID, "budgetID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, payee_name, memo, amount, account_id, category_id, category_name
		FROM transactions
		WHERE budget_id = ? AND (category_id IS NULL OR category_id = '')
		ORDER BY date ASC, id ASC
		LIMIT ?`, budgetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query untagged transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var payee, memo, accountID, categoryID, categoryName sql.NullString
		if err := rows.Scan(&txn.ID, &txn.Date, &payee, &memo, &txn.Amount,
			&accountID, &categoryID, &categoryName); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.PayeeName = payee.String
		txn.Memo = memo.String
		txn.AccountID = accountID.String
		txn.CategoryID = categoryID.String
		txn.CategoryName = categoryName.String
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return transactions, nil
}

// HistoricalQuery describes a lookup for how a payee has been categorized before.
type HistoricalQuery struct {
	PayeeName     string
	Amount        *int64
	MinConfidence float64
}

// HistoricalMatch is the dominant category among a payee's past transactions.
type HistoricalMatch struct {
	CategoryID   string
	CategoryName string
	Confidence   float64
	SampleCount  int
}

// amountBandRatio widens the amount filter so minor price variations still match.
const amountBandRatio = 0.2

// FindHistoricalCategory returns the category most frequently assigned to the
// payee's past transactions, with confidence equal to that category's share of
// the sample. Returns nil when no history exists or the share falls below the
// query's minimum confidence.
func (s *SQLiteStorage) FindHistoricalCategory(ctx context.Context, q HistoricalQuery) (*HistoricalMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(q.PayeeName, "payeeName"); err != nil {
		return nil, err
	}

	query := `
		SELECT category_id, category_name, COUNT(*) as cnt
		FROM transactions
		WHERE payee_name = ? AND category_id IS NOT NULL AND category_id != ''`
	args := []any{q.PayeeName}

	if q.Amount != nil {
		band := int64(float64(abs64(*q.Amount)) * amountBandRatio)
		args = append(args, *q.Amount-band, *q.Amount+band)
		query += ` AND amount BETWEEN ? AND ?`
	}
	query += `
		GROUP BY category_id, category_name
		ORDER BY cnt DESC, category_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categorization history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var top *HistoricalMatch
	total := 0
	for rows.Next() {
		var categoryID, categoryName string
		var count int
		if err := rows.Scan(&categoryID, &categoryName, &count); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		total += count
		if top == nil {
			top = &HistoricalMatch{CategoryID: categoryID, CategoryName: categoryName, SampleCount: count}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}

	if top == nil || total == 0 {
		return nil, nil
	}

	top.Confidence = float64(top.SampleCount) / float64(total)
	top.SampleCount = total
	if top.Confidence < q.MinConfidence {
		return nil, nil
	}

	return top, nil
}

// RecordCategorization stores a decision's outcome on the transaction row and
// appends it to the audit history. The corrected flag marks user corrections,
// which take precedence over automated history in future lookups.
func (s *SQLiteStorage) RecordCategorization(ctx context.Context, decision *model.Decision, corrected bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	categorizedAt := decision.Timestamp
	if categorizedAt.IsZero() {
		categorizedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, category_name = ?, confidence = ?, tier = ?,
			categorized_at = ?, corrected = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		decision.CategoryID, decision.CategoryName, decision.Confidence,
		string(decision.Tier), categorizedAt, corrected, decision.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to record categorization: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check categorization update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", decision.TransactionID, common.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO categorization_history (transaction_id, category_id, category_name, tier, confidence, corrected)
		VALUES (?, ?, ?, ?, ?, ?)`,
		decision.TransactionID, decision.CategoryID, decision.CategoryName,
		string(decision.Tier), decision.Confidence, corrected)
	if err != nil {
		return fmt.Errorf("failed to record categorization history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit categorization: %w", err)
	}
	return nil
}

// GetTransaction returns a single transaction row, or ErrNotFound.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var txn model.Transaction
	var payee, memo, accountID, categoryID, categoryName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, payee_name, memo, amount, account_id, category_id, category_name
		FROM transactions WHERE id = ?`, id).
		Scan(&txn.ID, &txn.Date, &payee, &memo, &txn.Amount, &accountID, &categoryID, &categoryName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}

	txn.PayeeName = payee.String
	txn.Memo = memo.String
	txn.AccountID = accountID.String
	txn.CategoryID = categoryID.String
	txn.CategoryName = categoryName.String
	return &txn, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
