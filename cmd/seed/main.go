package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/averrone/exchange/internal/config"
	"github.com/averrone/exchange/internal/db"
	"github.com/averrone/exchange/internal/models"
)

// Seed the database with demo users, balances, and history
func main() {
	ctx := context.Background()
	cfg := config.Load()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Skip if already seeded
	if _, err := database.GetUserByUsername(ctx, "trader1"); err == nil {
		fmt.Println("Database already seeded. Nothing to do.")
		os.Exit(0)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	admin, err := database.CreateUser(ctx, "admin", string(hash), models.RoleAdmin)
	if err != nil {
		log.Fatalf("Failed to create admin: %v", err)
	}
	trader1, err := database.CreateUser(ctx, "trader1", string(hash), models.RoleUser)
	if err != nil {
		log.Fatalf("Failed to create trader1: %v", err)
	}
	trader2, err := database.CreateUser(ctx, "trader2", string(hash), models.RoleUser)
	if err != nil {
		log.Fatalf("Failed to create trader2: %v", err)
	}

	// Fund the traders
	funding := []struct {
		userID int
		asset  string
		amount string
	}{
		{trader1.ID, "USDT", "25000"},
		{trader1.ID, "BTC", "0.5"},
		{trader2.ID, "USDT", "10000"},
		{trader2.ID, "ETH", "4"},
	}
	for _, f := range funding {
		amount, err := decimal.NewFromString(f.amount)
		if err != nil {
			log.Fatalf("Bad seed amount %q: %v", f.amount, err)
		}
		if err := database.Credit(ctx, f.userID, f.asset, amount); err != nil {
			log.Fatalf("Failed to credit %s %s to user %d: %v", f.amount, f.asset, f.userID, err)
		}
		if err := database.MarkDeposited(ctx, f.userID); err != nil {
			log.Fatalf("Failed to mark user %d deposited: %v", f.userID, err)
		}
	}

	txStore := database.Transactions()
	now := time.Now()

	// Completed deposit from three days ago
	deposit := &models.Transaction{
		ID:         uuid.New(),
		UserID:     trader1.ID,
		Kind:       models.TxDeposit,
		Asset:      "USDT",
		Amount:     decimal.NewFromInt(25000),
		Status:     models.TxCompleted,
		RiskScore:  30,
		RiskFlags:  []models.RiskFlag{models.FlagHighAmount},
		Fee:        decimal.Zero,
		CreatedAt:  now.Add(-72 * time.Hour),
		ReviewedBy: &admin.ID,
	}
	reviewedAt := now.Add(-71 * time.Hour)
	deposit.ReviewedAt = &reviewedAt
	if err := txStore.Create(ctx, deposit); err != nil {
		log.Fatalf("Failed to create seed deposit: %v", err)
	}

	// Pending withdrawal sitting in the review queue
	withdrawal := &models.Transaction{
		ID:        uuid.New(),
		UserID:    trader2.ID,
		Kind:      models.TxWithdrawal,
		Asset:     "USDT",
		Amount:    decimal.NewFromInt(500),
		Status:    models.TxPending,
		RiskScore: 10,
		RiskFlags: []models.RiskFlag{models.FlagMediumAmount},
		Fee:       decimal.Zero,
		Address:   "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
		CreatedAt: now.Add(-2 * time.Hour),
	}
	if err := txStore.Create(ctx, withdrawal); err != nil {
		log.Fatalf("Failed to create seed withdrawal: %v", err)
	}
	if err := database.Lock(ctx, trader2.ID, "USDT", withdrawal.Amount); err != nil {
		log.Fatalf("Failed to lock seed withdrawal funds: %v", err)
	}

	// Filled order from yesterday with its linked trade record
	orderStore := database.Orders()
	price := decimal.NewFromInt(48500)
	filledAt := now.Add(-24 * time.Hour)
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         trader1.ID,
		Symbol:         "BTC/USDT",
		Side:           models.SideBuy,
		Type:           models.TypeMarket,
		Quantity:       decimal.NewFromFloat(0.1),
		FilledQuantity: decimal.NewFromFloat(0.1),
		AveragePrice:   &price,
		Status:         models.OrderFilled,
		LockedAsset:    "USDT",
		LockedAmount:   decimal.NewFromInt(4850),
		CreatedAt:      filledAt,
		FilledAt:       &filledAt,
	}
	if err := orderStore.Create(ctx, order); err != nil {
		log.Fatalf("Failed to create seed order: %v", err)
	}

	trade := &models.Transaction{
		ID:            uuid.New(),
		UserID:        trader1.ID,
		Kind:          models.TxTrade,
		Asset:         "BTC",
		Amount:        decimal.NewFromFloat(0.0999),
		Status:        models.TxCompleted,
		Fee:           decimal.NewFromFloat(0.0001),
		LinkedOrderID: &order.ID,
		CreatedAt:     filledAt,
	}
	if err := txStore.Create(ctx, trade); err != nil {
		log.Fatalf("Failed to create seed trade: %v", err)
	}
	if err := database.MarkTraded(ctx, trader1.ID); err != nil {
		log.Fatalf("Failed to mark trader1 traded: %v", err)
	}

	fmt.Println("Successfully seeded the database!")
	fmt.Printf("  admin / password123 (admin)\n")
	fmt.Printf("  trader1 / password123 (funded)\n")
	fmt.Printf("  trader2 / password123 (funded, pending withdrawal)\n")
}
