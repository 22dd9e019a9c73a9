// Package errs defines the error taxonomy shared by the ledger, transaction
// manager, and settlement engine. Callers branch on these with errors.Is /
// errors.As; the API layer maps them to HTTP statuses.
package errs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is user-caused: the available balance cannot
	// cover the requested lock. Not retryable.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvariantViolation indicates an internal bug (a balance would go
	// negative). Fatal to the operation, never corrected silently.
	ErrInvariantViolation = errors.New("balance invariant violation")

	// ErrAlreadyProcessed is returned to the loser of a concurrent
	// approve/reject/settle race on the same record.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrUnknownSymbol means the oracle has no quote for the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrInvalidAddress rejects a malformed withdrawal destination.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrNotCancellable rejects a cancel on an order past the point of
	// cancellation.
	ErrNotCancellable = errors.New("order not cancellable")

	// ErrPriceUnavailable is a transient oracle failure; the operation is
	// safe to retry and any locked funds stay locked.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// InsufficientFundsError carries the required and available amounts so the
// caller can show both. It unwraps to ErrInsufficientFunds.
type InsufficientFundsError struct {
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s funds: required %s, available %s",
		e.Asset, e.Required.String(), e.Available.String())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
