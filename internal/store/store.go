package store

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/orders-service/pkg/models"
)

var (
	// ErrNotFound is returned when the order id does not exist.
	ErrNotFound = errors.New("order not found in store")

	// ErrConflict is returned when a conditional write found a status other
	// than the one the caller observed. The caller should re-read the order
	// before deciding what to do next.
	ErrConflict = errors.New("order status changed since it was read")
)

// ListFilter narrows CountAndList to a single status when set.
type ListFilter struct {
	Status *models.OrderStatus
}

// PaymentUpdate carries everything ApplyPayment writes in one transaction.
type PaymentUpdate struct {
	OrderID    string
	ChargeID   string
	PaidAt     time.Time
	ReceiptURL string
}

// Store is the persistence contract for orders, their items and receipts.
// Implementations must make CreateOrderWithItems and ApplyPayment atomic,
// and must key the conditional writes (UpdateStatus, ApplyPayment) on the
// status the caller observed so concurrent mutations cannot be lost.
type Store interface {
	// CreateOrderWithItems durably writes the order and all of its items
	// together, or nothing at all.
	CreateOrderWithItems(ctx context.Context, order *models.Order) error

	// FindByID returns the order with its items and receipt, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*models.Order, error)

	// UpdateStatus sets the order status to `to` only if the stored status
	// still equals `from`, returning the updated order. Returns ErrConflict
	// when the conditional write matched no row for an existing order.
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error)

	// ApplyPayment atomically marks the order paid (status, paid, paid_at,
	// payment_charge_id) and inserts the receipt row, conditional on the
	// stored status still equalling `from`.
	ApplyPayment(ctx context.Context, up PaymentUpdate, from models.OrderStatus) (*models.Order, error)

	// CountAndList returns one page of orders (newest first, without items)
	// plus the total count matching the filter.
	CountAndList(ctx context.Context, filter ListFilter, page, limit int) ([]models.Order, int, error)
}
