package orders

import (
	"errors"
	"testing"

	"github.com/jogardn/orders-service/pkg/models"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    models.OrderStatus
		to      models.OrderStatus
		allowed bool
	}{
		{models.StatusPending, models.StatusPaid, true},
		{models.StatusPending, models.StatusCancelled, true},
		{models.StatusPending, models.StatusDelivered, false},
		{models.StatusPaid, models.StatusDelivered, true},
		{models.StatusPaid, models.StatusPending, false},
		{models.StatusPaid, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusPending, false},
		{models.StatusCancelled, models.StatusDelivered, false},
		{models.StatusDelivered, models.StatusPaid, false},
		{models.StatusDelivered, models.StatusCancelled, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	err := CheckTransition(models.StatusCancelled, models.StatusPaid)
	if err == nil {
		t.Fatal("Expected error for CANCELLED -> PAID")
	}

	var transition *InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("Expected InvalidTransitionError, got %T", err)
	}
	if transition.From != models.StatusCancelled || transition.To != models.StatusPaid {
		t.Errorf("Unexpected transition error contents: %v", transition)
	}

	if err := CheckTransition(models.StatusPending, models.StatusCancelled); err != nil {
		t.Errorf("Expected PENDING -> CANCELLED to be legal, got %v", err)
	}
}

func TestStatusValid(t *testing.T) {
	for _, status := range models.OrderStatuses {
		if !status.Valid() {
			t.Errorf("Expected %s to be a valid status", status)
		}
	}
	if models.OrderStatus("SHIPPED").Valid() {
		t.Error("Expected SHIPPED to be invalid")
	}
}
