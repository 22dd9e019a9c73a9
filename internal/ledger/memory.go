package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

type balanceKey struct {
	userID int
	asset  string
}

type balanceEntry struct {
	mu        sync.Mutex
	available decimal.Decimal
	locked    decimal.Decimal
	updatedAt time.Time
}

// Memory is an in-process Store. Each (user, asset) entry carries its own
// mutex, so contention is scoped to a single balance; the outer map lock is
// held only long enough to find or create the entry.
type Memory struct {
	mu       sync.RWMutex
	balances map[balanceKey]*balanceEntry
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{balances: make(map[balanceKey]*balanceEntry)}
}

func (m *Memory) entry(userID int, asset string, create bool) *balanceEntry {
	key := balanceKey{userID: userID, asset: asset}
	m.mu.RLock()
	e, ok := m.balances[key]
	m.mu.RUnlock()
	if ok || !create {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.balances[key]; ok {
		return e
	}
	e = &balanceEntry{
		available: decimal.Zero,
		locked:    decimal.Zero,
		updatedAt: time.Now(),
	}
	m.balances[key] = e
	return e
}

// Credit adds amount to available, creating the record on first use
func (m *Memory) Credit(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	e := m.entry(userID, asset, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = e.available.Add(amount)
	e.updatedAt = time.Now()
	return nil
}

// Lock moves amount from available to locked
func (m *Memory) Lock(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	e := m.entry(userID, asset, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.available.LessThan(amount) {
		return &errs.InsufficientFundsError{Asset: asset, Required: amount, Available: e.available}
	}
	e.available = e.available.Sub(amount)
	e.locked = e.locked.Add(amount)
	e.updatedAt = time.Now()
	return nil
}

// Unlock returns amount from locked to available
func (m *Memory) Unlock(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	e := m.entry(userID, asset, false)
	if e == nil {
		return errs.ErrInvariantViolation
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked.LessThan(amount) {
		return errs.ErrInvariantViolation
	}
	e.locked = e.locked.Sub(amount)
	e.available = e.available.Add(amount)
	e.updatedAt = time.Now()
	return nil
}

// DebitLocked consumes locked funds permanently
func (m *Memory) DebitLocked(ctx context.Context, userID int, asset string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	e := m.entry(userID, asset, false)
	if e == nil {
		return errs.ErrInvariantViolation
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked.LessThan(amount) {
		return errs.ErrInvariantViolation
	}
	e.locked = e.locked.Sub(amount)
	e.updatedAt = time.Now()
	return nil
}

// Read returns a snapshot of (available, locked). Missing records read as zero.
func (m *Memory) Read(ctx context.Context, userID int, asset string) (decimal.Decimal, decimal.Decimal, error) {
	e := m.entry(userID, asset, false)
	if e == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available, e.locked, nil
}

// Balances lists every balance record for a user, sorted by asset
func (m *Memory) Balances(ctx context.Context, userID int) ([]models.Balance, error) {
	m.mu.RLock()
	entries := make(map[string]*balanceEntry)
	for key, e := range m.balances {
		if key.userID == userID {
			entries[key.asset] = e
		}
	}
	m.mu.RUnlock()

	assets := make([]string, 0, len(entries))
	for asset := range entries {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	balances := make([]models.Balance, 0, len(assets))
	for _, asset := range assets {
		e := entries[asset]
		e.mu.Lock()
		balances = append(balances, models.Balance{
			UserID:    userID,
			Asset:     asset,
			Available: e.available,
			Locked:    e.locked,
			UpdatedAt: e.updatedAt,
		})
		e.mu.Unlock()
	}
	return balances, nil
}
