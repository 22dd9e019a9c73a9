package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

// Credit adds amount to available, creating the balance row on first use
func (db *DB) Credit(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO balances (user_id, asset, available, locked)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (user_id, asset)
		 DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = now()`,
		userID, asset, amount)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

// Lock moves amount from available to locked. The availability check and the
// move are one statement, so two racing locks cannot jointly overdraw the row.
func (db *DB) Lock(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	tag, err := db.Pool.Exec(ctx,
		`UPDATE balances
		 SET available = available - $3, locked = locked + $3, updated_at = now()
		 WHERE user_id = $1 AND asset = $2 AND available >= $3`,
		userID, asset, amount)
	if err != nil {
		return fmt.Errorf("failed to lock funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		available, _, readErr := db.Read(ctx, userID, asset)
		if readErr != nil {
			return &errs.InsufficientFundsError{Asset: asset, Required: amount, Available: decimal.Zero}
		}
		return &errs.InsufficientFundsError{Asset: asset, Required: amount, Available: available}
	}
	return nil
}

// Unlock returns amount from locked to available
func (db *DB) Unlock(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	tag, err := db.Pool.Exec(ctx,
		`UPDATE balances
		 SET locked = locked - $3, available = available + $3, updated_at = now()
		 WHERE user_id = $1 AND asset = $2 AND locked >= $3`,
		userID, asset, amount)
	if err != nil {
		return fmt.Errorf("failed to unlock funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvariantViolation
	}
	return nil
}

// DebitLocked consumes locked funds permanently
func (db *DB) DebitLocked(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	tag, err := db.Pool.Exec(ctx,
		`UPDATE balances
		 SET locked = locked - $3, updated_at = now()
		 WHERE user_id = $1 AND asset = $2 AND locked >= $3`,
		userID, asset, amount)
	if err != nil {
		return fmt.Errorf("failed to debit locked funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvariantViolation
	}
	return nil
}

// Read returns a snapshot of (available, locked). Missing rows read as zero.
func (db *DB) Read(ctx context.Context, userID int, asset string) (decimal.Decimal, decimal.Decimal, error) {
	var available, locked decimal.Decimal
	err := db.Pool.QueryRow(ctx,
		"SELECT available, locked FROM balances WHERE user_id = $1 AND asset = $2",
		userID, asset).Scan(&available, &locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return decimal.Zero, decimal.Zero, nil
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return available, locked, nil
}

// Balances lists every balance row for a user
func (db *DB) Balances(ctx context.Context, userID int) ([]models.Balance, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT user_id, asset, available, locked, updated_at
		 FROM balances WHERE user_id = $1 ORDER BY asset`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer rows.Close()

	var balances []models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.UserID, &b.Asset, &b.Available, &b.Locked, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}
