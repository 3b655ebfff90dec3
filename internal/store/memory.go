package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jogardn/orders-service/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local tooling. It
// mirrors the conditional-write semantics of the Postgres implementation.
type MemoryStore struct {
	mutex  sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.Order),
	}
}

func (s *MemoryStore) CreateOrderWithItems(_ context.Context, order *models.Order) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if order.Status != from {
		return nil, ErrConflict
	}

	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), nil
}

func (s *MemoryStore) ApplyPayment(_ context.Context, up PaymentUpdate, from models.OrderStatus) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[up.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	if order.Status != from {
		return nil, ErrConflict
	}

	paidAt := up.PaidAt
	order.Status = models.StatusPaid
	order.Paid = true
	order.PaidAt = &paidAt
	order.PaymentChargeID = up.ChargeID
	order.UpdatedAt = paidAt
	order.Receipt = &models.OrderReceipt{
		OrderID:    up.OrderID,
		ReceiptURL: up.ReceiptURL,
		CreatedAt:  paidAt,
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) CountAndList(_ context.Context, filter ListFilter, page, limit int) ([]models.Order, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var matched []*models.Order
	for _, order := range s.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		matched = append(matched, order)
	}

	// Newest first, matching the Postgres ordering.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	orders := make([]models.Order, 0, end-start)
	for _, order := range matched[start:end] {
		listed := cloneOrder(order)
		listed.Items = nil
		listed.Receipt = nil
		orders = append(orders, *listed)
	}

	return orders, total, nil
}

func cloneOrder(order *models.Order) *models.Order {
	clone := *order
	clone.Items = append([]models.OrderItem(nil), order.Items...)
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		clone.PaidAt = &paidAt
	}
	if order.Receipt != nil {
		receipt := *order.Receipt
		clone.Receipt = &receipt
	}
	return &clone
}
