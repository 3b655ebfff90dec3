package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jogardn/orders-service/pkg/models"
)

func seedOrder(t *testing.T, s *MemoryStore, id string, status models.OrderStatus, createdAt time.Time) {
	t.Helper()

	order := &models.Order{
		ID:          id,
		TotalAmount: 30,
		TotalItems:  2,
		Status:      status,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Items: []models.OrderItem{
			{ProductID: "prod-a", Price: 15, Quantity: 2},
		},
	}
	if err := s.CreateOrderWithItems(context.Background(), order); err != nil {
		t.Fatalf("Failed to seed order %s: %v", id, err)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s := NewMemoryStore()

	if _, err := s.FindByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByID error = %v, want ErrNotFound", err)
	}
}

func TestFindByIDReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "order-1", models.StatusPending, time.Now().UTC())

	first, err := s.FindByID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	first.Status = models.StatusCancelled
	first.Items[0].Quantity = 99

	second, err := s.FindByID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if second.Status != models.StatusPending || second.Items[0].Quantity != 2 {
		t.Error("Mutating a returned order leaked into the store")
	}
}

func TestUpdateStatusConditional(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "order-1", models.StatusPending, time.Now().UTC())

	updated, err := s.UpdateStatus(context.Background(), "order-1", models.StatusPending, models.StatusCancelled)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", updated.Status)
	}

	// A second writer still holding the PENDING snapshot must lose the race.
	if _, err := s.UpdateStatus(context.Background(), "order-1", models.StatusPending, models.StatusCancelled); !errors.Is(err, ErrConflict) {
		t.Errorf("Stale update error = %v, want ErrConflict", err)
	}

	if _, err := s.UpdateStatus(context.Background(), "missing", models.StatusPending, models.StatusCancelled); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unknown order error = %v, want ErrNotFound", err)
	}
}

func TestApplyPaymentSetsAllFields(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "order-1", models.StatusPending, time.Now().UTC())

	paidAt := time.Now().UTC()
	updated, err := s.ApplyPayment(context.Background(), PaymentUpdate{
		OrderID:    "order-1",
		ChargeID:   "ch_1",
		PaidAt:     paidAt,
		ReceiptURL: "https://payments.localhost/receipts/ch_1",
	}, models.StatusPending)
	if err != nil {
		t.Fatalf("ApplyPayment failed: %v", err)
	}

	if updated.Status != models.StatusPaid || !updated.Paid {
		t.Errorf("Order not marked paid: status=%s paid=%v", updated.Status, updated.Paid)
	}
	if updated.PaidAt == nil || !updated.PaidAt.Equal(paidAt) {
		t.Errorf("PaidAt = %v, want %v", updated.PaidAt, paidAt)
	}
	if updated.PaymentChargeID != "ch_1" {
		t.Errorf("ChargeID = %s, want ch_1", updated.PaymentChargeID)
	}
	if updated.Receipt == nil || updated.Receipt.ReceiptURL != "https://payments.localhost/receipts/ch_1" {
		t.Errorf("Receipt = %+v", updated.Receipt)
	}

	// Replaying the payment against the stale PENDING snapshot conflicts.
	if _, err := s.ApplyPayment(context.Background(), PaymentUpdate{OrderID: "order-1", ChargeID: "ch_1", PaidAt: paidAt}, models.StatusPending); !errors.Is(err, ErrConflict) {
		t.Errorf("Replay error = %v, want ErrConflict", err)
	}
}

func TestCountAndListPagingAndFilter(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 7; i++ {
		status := models.StatusPending
		if i%2 == 1 {
			status = models.StatusCancelled
		}
		seedOrder(t, s, fmt.Sprintf("order-%d", i), status, base.Add(time.Duration(i)*time.Second))
	}

	orders, total, err := s.CountAndList(context.Background(), ListFilter{}, 1, 5)
	if err != nil {
		t.Fatalf("CountAndList failed: %v", err)
	}
	if total != 7 || len(orders) != 5 {
		t.Errorf("Got total=%d page=%d, want total=7 page=5", total, len(orders))
	}
	if orders[0].ID != "order-6" {
		t.Errorf("First order = %s, want newest order-6", orders[0].ID)
	}
	if orders[0].Items != nil || orders[0].Receipt != nil {
		t.Error("Listings must not carry items or receipts")
	}

	orders, total, err = s.CountAndList(context.Background(), ListFilter{}, 2, 5)
	if err != nil {
		t.Fatalf("CountAndList failed: %v", err)
	}
	if total != 7 || len(orders) != 2 {
		t.Errorf("Got total=%d page=%d, want total=7 page=2", total, len(orders))
	}

	// Pages past the end are empty, not an error.
	orders, total, err = s.CountAndList(context.Background(), ListFilter{}, 9, 5)
	if err != nil {
		t.Fatalf("CountAndList failed: %v", err)
	}
	if total != 7 || len(orders) != 0 {
		t.Errorf("Got total=%d page=%d, want total=7 page=0", total, len(orders))
	}

	pending := models.StatusPending
	orders, total, err = s.CountAndList(context.Background(), ListFilter{Status: &pending}, 1, 10)
	if err != nil {
		t.Fatalf("CountAndList failed: %v", err)
	}
	if total != 4 {
		t.Errorf("Filtered total = %d, want 4", total)
	}
	for _, order := range orders {
		if order.Status != models.StatusPending {
			t.Errorf("Filtered listing contains %s order", order.Status)
		}
	}
}
