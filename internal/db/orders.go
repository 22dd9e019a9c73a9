package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

const orderColumns = `id, user_id, symbol, side, type, quantity, limit_price, filled_quantity,
	average_price, status, locked_asset, locked_amount, created_at, filled_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := &models.Order{}
	var limitPrice, averagePrice decimal.NullDecimal
	err := row.Scan(
		&order.ID, &order.UserID, &order.Symbol, &order.Side, &order.Type,
		&order.Quantity, &limitPrice, &order.FilledQuantity, &averagePrice,
		&order.Status, &order.LockedAsset, &order.LockedAmount,
		&order.CreatedAt, &order.FilledAt)
	if err != nil {
		return nil, err
	}
	if limitPrice.Valid {
		order.LimitPrice = &limitPrice.Decimal
	}
	if averagePrice.Valid {
		order.AveragePrice = &averagePrice.Decimal
	}
	return order, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Create inserts a new order
func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, symbol, side, type, quantity, limit_price,
			filled_quantity, average_price, status, locked_asset, locked_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.UserID, order.Symbol, order.Side, order.Type, order.Quantity,
		nullDecimal(order.LimitPrice), order.FilledQuantity, nullDecimal(order.AveragePrice),
		order.Status, order.LockedAsset, order.LockedAmount, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Get retrieves an order by id
func (s *OrderStore) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("order %s not found", id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ListByUser retrieves all orders for a user, newest first
func (s *OrderStore) ListByUser(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// Transition atomically moves the order to a new status when its current
// status matches one of `from`, with the same contract as the transaction
// store's Transition.
func (s *OrderStore) Transition(ctx context.Context, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, mutate func(*models.Order)) (*models.Order, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	order, err := scanOrder(dbTx.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("order %s not found", id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	matched := false
	for _, status := range from {
		if order.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, errs.ErrAlreadyProcessed
	}

	order.Status = to
	if mutate != nil {
		mutate(order)
	}

	_, err = dbTx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, filled_quantity = $3, average_price = $4, filled_at = $5
		 WHERE id = $1`,
		order.ID, order.Status, order.FilledQuantity, nullDecimal(order.AveragePrice), order.FilledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}
