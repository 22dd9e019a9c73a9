package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		// no database available; every test skips itself
		os.Exit(m.Run())
	}

	ctx := context.Background()
	database, err := NewDB(ctx, connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close(ctx)

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
		os.Exit(1)
	}
	if _, err = database.Pool.Exec(ctx, string(migration)); err != nil && !strings.Contains(err.Error(), "already exists") {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	if _, err = database.Pool.Exec(ctx,
		"TRUNCATE TABLE users, balances, transactions, orders RESTART IDENTITY CASCADE"); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to truncate tables: %v\n", err)
		os.Exit(1)
	}

	testDB = database
	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("DATABASE_URL not set")
	}
}

func createTestUser(t *testing.T, username string) *models.User {
	t.Helper()
	user, err := testDB.CreateUser(context.Background(), username, "hash", models.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDB_LedgerRoundTrip(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := createTestUser(t, "ledger_roundtrip")

	if err := testDB.Credit(ctx, user.ID, "BTC", mustDec("5")); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := testDB.Lock(ctx, user.ID, "BTC", mustDec("2")); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	available, locked, err := testDB.Read(ctx, user.ID, "BTC")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !available.Equal(mustDec("3")) || !locked.Equal(mustDec("2")) {
		t.Fatalf("after lock: available=%s locked=%s", available, locked)
	}

	if err := testDB.Unlock(ctx, user.ID, "BTC", mustDec("2")); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	available, locked, _ = testDB.Read(ctx, user.ID, "BTC")
	if !available.Equal(mustDec("5")) || !locked.IsZero() {
		t.Fatalf("after unlock: available=%s locked=%s", available, locked)
	}
}

func TestDB_LockInsufficientFunds(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := createTestUser(t, "ledger_insufficient")

	if err := testDB.Credit(ctx, user.ID, "USDT", mustDec("100")); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	err := testDB.Lock(ctx, user.ID, "USDT", mustDec("150"))
	if !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestDB_DebitLockedInvariant(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := createTestUser(t, "ledger_invariant")

	if err := testDB.Credit(ctx, user.ID, "USDT", mustDec("10")); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := testDB.DebitLocked(ctx, user.ID, "USDT", mustDec("1")); !errors.Is(err, errs.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
}

func TestDB_ConcurrentLocks(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := createTestUser(t, "ledger_concurrent")

	if err := testDB.Credit(ctx, user.ID, "USDT", mustDec("100")); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := testDB.Lock(ctx, user.ID, "USDT", mustDec("10")); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 10 {
		t.Fatalf("successes = %d, want 10", successes)
	}
	available, locked, _ := testDB.Read(ctx, user.ID, "USDT")
	if !available.IsZero() || !locked.Equal(mustDec("100")) {
		t.Fatalf("available=%s locked=%s", available, locked)
	}
}

func TestDB_TransactionTransition(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := createTestUser(t, "tx_transition")
	store := testDB.Transactions()

	tx := &models.Transaction{
		ID:        uuid.New(),
		UserID:    user.ID,
		Kind:      models.TxDeposit,
		Asset:     "USDT",
		Amount:    mustDec("500"),
		Status:    models.TxPending,
		Fee:       decimal.Zero,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	adminID := user.ID
	updated, err := store.Transition(ctx, tx.ID,
		[]models.TransactionStatus{models.TxPending}, models.TxCompleted,
		func(tx *models.Transaction) {
			now := time.Now()
			tx.ReviewedBy = &adminID
			tx.ReviewedAt = &now
		})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.Status != models.TxCompleted || updated.ReviewedBy == nil {
		t.Fatalf("updated = %+v", updated)
	}

	// losing transition
	if _, err := store.Transition(ctx, tx.ID,
		[]models.TransactionStatus{models.TxPending}, models.TxCompleted, nil); !errors.Is(err, errs.ErrAlreadyProcessed) {
		t.Fatalf("err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestDB_OrderLifecycle(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := createTestUser(t, "order_lifecycle")
	store := testDB.Orders()

	limit := mustDec("45000")
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         user.ID,
		Symbol:         "BTC/USDT",
		Side:           models.SideBuy,
		Type:           models.TypeLimit,
		Quantity:       mustDec("0.01"),
		LimitPrice:     &limit,
		FilledQuantity: decimal.Zero,
		Status:         models.OrderPending,
		LockedAsset:    "USDT",
		LockedAmount:   mustDec("450"),
		CreatedAt:      time.Now(),
	}
	if err := store.Create(ctx, order); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fetched, err := store.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.LimitPrice == nil || !fetched.LimitPrice.Equal(limit) {
		t.Fatalf("limit price not round-tripped: %+v", fetched.LimitPrice)
	}

	cancelled, err := store.Transition(ctx, order.ID,
		[]models.OrderStatus{models.OrderPending}, models.OrderCancelled, nil)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if cancelled.Status != models.OrderCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	if _, err := store.Transition(ctx, order.ID,
		[]models.OrderStatus{models.OrderPending}, models.OrderCancelled, nil); !errors.Is(err, errs.ErrAlreadyProcessed) {
		t.Fatalf("err = %v, want ErrAlreadyProcessed", err)
	}
}
