package orders

import (
	"github.com/jogardn/orders-service/pkg/models"
)

// legalTransitions is the closed transition table for order statuses.
// PENDING is the only creation state. PAID is reachable only through the
// payment confirmation path, which also sets paid/paid_at/charge id and
// writes the receipt; direct status-change requests into PAID are rejected
// in ChangeStatus before this table is consulted.
var legalTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending: {models.StatusPaid, models.StatusCancelled},
	models.StatusPaid:    {models.StatusDelivered},
}

// CanTransition reports whether from -> to is in the legal transition table.
// Terminal states (CANCELLED, DELIVERED) have no outgoing transitions.
func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransitionError if from -> to is illegal.
func CheckTransition(from, to models.OrderStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
