// Package db implements the durable stores on PostgreSQL. The ledger
// mutations are single conditional UPDATE statements, so concurrent calls on
// the same (user, asset) row serialize inside the database; status
// transitions use row locks with a status recheck.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averrone/exchange/internal/models"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// TransactionStore persists transactions on the shared pool
type TransactionStore struct {
	pool *pgxpool.Pool
}

// Transactions returns the transaction store view of this database
func (db *DB) Transactions() *TransactionStore {
	return &TransactionStore{pool: db.Pool}
}

// OrderStore persists orders on the shared pool
type OrderStore struct {
	pool *pgxpool.Pool
}

// Orders returns the order store view of this database
func (db *DB) Orders() *OrderStore {
	return &OrderStore{pool: db.Pool}
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash, role string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role)
		 VALUES ($1, $2, $3)
		 RETURNING id, username, password_hash, role, has_deposited, has_traded, created_at`,
		username, passwordHash, role).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.HasDeposited, &user.HasTraded, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, has_deposited, has_traded, created_at
		 FROM users WHERE username = $1`,
		username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.HasDeposited, &user.HasTraded, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, has_deposited, has_traded, created_at
		 FROM users WHERE id = $1`,
		id).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.HasDeposited, &user.HasTraded, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user %d not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// MarkDeposited records that the user has completed a deposit
func (db *DB) MarkDeposited(ctx context.Context, id int) error {
	_, err := db.Pool.Exec(ctx, "UPDATE users SET has_deposited = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark user deposited: %w", err)
	}
	return nil
}

// MarkTraded records that the user has completed a trade
func (db *DB) MarkTraded(ctx context.Context, id int) error {
	_, err := db.Pool.Exec(ctx, "UPDATE users SET has_traded = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark user traded: %w", err)
	}
	return nil
}
