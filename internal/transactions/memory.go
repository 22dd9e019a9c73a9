package transactions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

// MemoryStore is an in-process Store. A single mutex guards the map; the
// Transition critical section is what makes concurrent approvals safe.
type MemoryStore struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*models.Transaction
}

// NewMemoryStore creates an empty in-memory transaction store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[uuid.UUID]*models.Transaction)}
}

// Create stores a new transaction
func (s *MemoryStore) Create(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	copied := *tx
	s.txs[tx.ID] = &copied
	return nil
}

// Get returns a copy of the transaction
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	copied := *tx
	return &copied, nil
}

// ListByUser returns the user's transactions, newest first
func (s *MemoryStore) ListByUser(ctx context.Context, userID int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListByStatus returns transactions in any of the given statuses, oldest first
func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...models.TransactionStatus) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txs {
		for _, status := range statuses {
			if tx.Status == status {
				out = append(out, *tx)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Transition conditionally moves the transaction to a new status
func (s *MemoryStore) Transition(ctx context.Context, id uuid.UUID, from []models.TransactionStatus, to models.TransactionStatus, mutate func(*models.Transaction)) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
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
	copied := *tx
	return &copied, nil
}
