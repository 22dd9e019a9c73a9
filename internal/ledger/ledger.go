// Package ledger holds the custody balances. Every external balance mutation
// goes through exactly one of Credit, Lock, Unlock, or DebitLocked, which
// keeps available and locked non-negative at all times: total funds per
// user and asset only grow via Credit and only shrink via DebitLocked.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/models"
)

// Store is the balance ledger. All four mutations are atomic with respect to
// concurrent calls on the same (user, asset) key.
type Store interface {
	// Credit adds amount to available. Creates the balance record on first
	// use; never fails for a positive amount.
	Credit(ctx context.Context, userID int, asset string, amount decimal.Decimal) error

	// Lock moves amount from available to locked, failing with
	// errs.ErrInsufficientFunds if available < amount.
	Lock(ctx context.Context, userID int, asset string, amount decimal.Decimal) error

	// Unlock returns amount from locked to available. locked < amount is a
	// programming error and fails with errs.ErrInvariantViolation.
	Unlock(ctx context.Context, userID int, asset string, amount decimal.Decimal) error

	// DebitLocked consumes previously locked funds permanently. locked <
	// amount fails with errs.ErrInvariantViolation.
	DebitLocked(ctx context.Context, userID int, asset string, amount decimal.Decimal) error

	// Read returns a point-in-time snapshot of (available, locked).
	Read(ctx context.Context, userID int, asset string) (available, locked decimal.Decimal, err error)

	// Balances lists every balance record for a user.
	Balances(ctx context.Context, userID int) ([]models.Balance, error)
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	return nil
}
