package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User roles recognized by the API layer. Admin gates the review endpoints.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered user
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	HasDeposited bool      `json:"has_deposited"`
	HasTraded    bool      `json:"has_traded"`
	CreatedAt    time.Time `json:"created_at"`
}

// Balance holds the custody funds for one user and asset. Available is
// spendable, Locked is reserved against a pending order or withdrawal.
// Both are always >= 0; records are created on first credit and never deleted.
type Balance struct {
	UserID    int             `json:"user_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionKind distinguishes the three fund movements
type TransactionKind string

const (
	TxDeposit    TransactionKind = "deposit"
	TxWithdrawal TransactionKind = "withdrawal"
	TxTrade      TransactionKind = "trade"
)

// TransactionStatus is the state-machine position of a transaction
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxCompleted  TransactionStatus = "completed"
	TxRejected   TransactionStatus = "rejected"
	TxFlagged    TransactionStatus = "flagged"
	TxCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted
func (s TransactionStatus) Terminal() bool {
	return s == TxCompleted || s == TxRejected || s == TxCancelled
}

// AwaitingReview reports whether the transaction sits in the admin queue.
// Flagged is a high-risk Pending; both await the same approve/reject actions.
func (s TransactionStatus) AwaitingReview() bool {
	return s == TxPending || s == TxFlagged
}

// RiskFlag is an enumerated risk-assessment marker
type RiskFlag string

const (
	FlagHighAmount      RiskFlag = "HIGH_AMOUNT"
	FlagMediumAmount    RiskFlag = "MEDIUM_AMOUNT"
	FlagHighValueCrypto RiskFlag = "HIGH_VALUE_CRYPTO"
	FlagNewUser         RiskFlag = "NEW_USER"
)

// Transaction records a deposit, withdrawal, or trade fill. Amount is a
// magnitude, always positive; direction follows from Kind.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	UserID        int               `json:"user_id"`
	Kind          TransactionKind   `json:"kind"`
	Asset         string            `json:"asset"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        TransactionStatus `json:"status"`
	RiskScore     int               `json:"risk_score"`
	RiskFlags     []RiskFlag        `json:"risk_flags,omitempty"`
	Fee           decimal.Decimal   `json:"fee"`
	Address       string            `json:"address,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	LinkedOrderID *uuid.UUID        `json:"linked_order_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ReviewedBy    *int              `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time        `json:"reviewed_at,omitempty"`
}

// OrderSide is "buy" or "sell"
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is "market" or "limit"
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle position of an order
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Cancellable reports whether a cancel request is still valid
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderPartiallyFilled
}

// Order represents a buy or sell order filled against the platform quote.
// LockedAsset/LockedAmount record the reservation taken at placement so that
// cancellation can release exactly the unfilled remainder.
type Order struct {
	ID             uuid.UUID        `json:"id"`
	UserID         int              `json:"user_id"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Type           OrderType        `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	AveragePrice   *decimal.Decimal `json:"average_price,omitempty"`
	Status         OrderStatus      `json:"status"`
	LockedAsset    string           `json:"locked_asset"`
	LockedAmount   decimal.Decimal  `json:"locked_amount"`
	CreatedAt      time.Time        `json:"created_at"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
}

// Quote is a point-in-time platform price for a symbol
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	AsOf          time.Time       `json:"as_of"`
}

// SplitSymbol splits a trading pair like "BTC/USDT" into base and quote assets
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}
