package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
)

// MemoryOrderStore is an in-process OrderStore
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
}

// NewMemoryOrderStore creates an empty in-memory order store
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[uuid.UUID]*models.Order)}
}

// Create stores a new order
func (s *MemoryOrderStore) Create(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

// Get returns a copy of the order
func (s *MemoryOrderStore) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	copied := *order
	return &copied, nil
}

// ListByUser returns the user's orders, newest first
func (s *MemoryOrderStore) ListByUser(ctx context.Context, userID int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Transition conditionally moves the order to a new status
func (s *MemoryOrderStore) Transition(ctx context.Context, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, mutate func(*models.Order)) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
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
	copied := *order
	return &copied, nil
}
