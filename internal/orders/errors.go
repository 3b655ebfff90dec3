package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jogardn/orders-service/pkg/models"
)

var (
	// ErrOrderNotFound is returned when an order id is unknown to the store.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStatusConflict is returned when a status write lost a race with a
	// concurrent update and the caller should re-read and retry.
	ErrStatusConflict = errors.New("order was modified concurrently")

	// ErrChargeMismatch is returned when a payment event references an order
	// that is already paid under a different charge id.
	ErrChargeMismatch = errors.New("order already paid with a different charge id")

	// ErrNoItems is returned for creation requests with an empty item list.
	ErrNoItems = errors.New("order must contain at least one item")
)

// ValidationError rejects a whole creation request because the catalog could
// not resolve one or more of the requested product ids.
type ValidationError struct {
	MissingProductIDs []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unresolved product ids: %s", strings.Join(e.MissingProductIDs, ", "))
}

// InvalidTransitionError reports an order status change outside the legal
// transition table.
type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// UnavailableError reports a collaborator RPC timeout or transport failure.
// For the payment-session step it is returned alongside the already-committed
// order, since session creation is not transactional with the order write.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s service unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
