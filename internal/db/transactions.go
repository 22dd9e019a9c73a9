package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

const transactionColumns = `id, user_id, kind, asset, amount, status, risk_score, risk_flags,
	fee, address, notes, linked_order_id, created_at, reviewed_by, reviewed_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var flags []string
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Kind, &tx.Asset, &tx.Amount, &tx.Status,
		&tx.RiskScore, &flags, &tx.Fee, &tx.Address, &tx.Notes,
		&tx.LinkedOrderID, &tx.CreatedAt, &tx.ReviewedBy, &tx.ReviewedAt)
	if err != nil {
		return nil, err
	}
	for _, flag := range flags {
		tx.RiskFlags = append(tx.RiskFlags, models.RiskFlag(flag))
	}
	return tx, nil
}

func flagStrings(flags []models.RiskFlag) []string {
	out := make([]string, len(flags))
	for i, flag := range flags {
		out[i] = string(flag)
	}
	return out
}

// Create inserts a new transaction
func (s *TransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, kind, asset, amount, status, risk_score,
			risk_flags, fee, address, notes, linked_order_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, tx.UserID, tx.Kind, tx.Asset, tx.Amount, tx.Status, tx.RiskScore,
		flagStrings(tx.RiskFlags), tx.Fee, tx.Address, tx.Notes, tx.LinkedOrderID, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// Get retrieves a transaction by id
func (s *TransactionStore) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("transaction %s not found", id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListByUser retrieves all transactions for a user, newest first
func (s *TransactionStore) ListByUser(ctx context.Context, userID int) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListByStatus retrieves transactions in any of the given statuses, oldest
// first (review queues work through the backlog in arrival order)
func (s *TransactionStore) ListByStatus(ctx context.Context, statuses ...models.TransactionStatus) ([]models.Transaction, error) {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE status = ANY($1) ORDER BY created_at ASC",
		names)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// Transition atomically moves the transaction to a new status when its
// current status matches one of `from`. The row is locked for the duration,
// mutate runs on the loaded record, and the losing caller gets
// errs.ErrAlreadyProcessed.
func (s *TransactionStore) Transition(ctx context.Context, id uuid.UUID, from []models.TransactionStatus, to models.TransactionStatus, mutate func(*models.Transaction)) (*models.Transaction, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	tx, err := scanTransaction(dbTx.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("transaction %s not found", id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	matched := false
	for _, status := range from {
		if tx.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, errs.ErrAlreadyProcessed
	}

	tx.Status = to
	if mutate != nil {
		mutate(tx)
	}

	_, err = dbTx.Exec(ctx,
		`UPDATE transactions
		 SET status = $2, notes = $3, reviewed_by = $4, reviewed_at = $5
		 WHERE id = $1`,
		tx.ID, tx.Status, tx.Notes, tx.ReviewedBy, tx.ReviewedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tx, nil
}
