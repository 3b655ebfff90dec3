package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/internal/catalog"
	"github.com/jogardn/orders-service/internal/events"
	"github.com/jogardn/orders-service/internal/store"
	"github.com/jogardn/orders-service/pkg/models"
)

// CatalogClient resolves product ids to authoritative catalog records in a
// single round trip.
type CatalogClient interface {
	ValidateProducts(ctx context.Context, productIDs []string) ([]models.Product, error)
}

// PaymentsClient requests a payment session for a priced order.
type PaymentsClient interface {
	CreateSession(ctx context.Context, orderID, currency string, items []models.OrderItem) (*models.PaymentSession, error)
}

// EventPublisher announces order lifecycle changes to the rest of the
// platform. Publish failures are logged, never surfaced to callers.
type EventPublisher interface {
	PublishOrderCreated(event events.OrderCreatedEvent) error
	PublishOrderPaid(event events.OrderPaidEvent) error
}

// WebSocketHub pushes order lifecycle updates to connected dashboards.
type WebSocketHub interface {
	Broadcast(eventType string, order *models.Order, source string)
}

type CreateOrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items []CreateOrderItem `json:"items"`
}

// CreateOrderResult pairs the persisted order with its payment session.
// When session creation fails the order is still committed: Create returns
// the result with a nil PaymentSession together with an UnavailableError,
// and the caller retries session creation against the existing order.
type CreateOrderResult struct {
	Order          *models.Order          `json:"order"`
	PaymentSession *models.PaymentSession `json:"payment_session,omitempty"`
}

type ListQuery struct {
	Page   int
	Limit  int
	Status *models.OrderStatus
}

type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	LastPage int `json:"last_page"`
}

type OrderPage struct {
	Data []models.Order `json:"data"`
	Meta PageMeta       `json:"meta"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 10

	rpcTimeout   = 5 * time.Second
	eventTimeout = 10 * time.Second
)

// Service orchestrates the order lifecycle: catalog validation, pricing,
// atomic persistence, payment session creation and reconciliation of
// asynchronous payment confirmations.
type Service struct {
	store     store.Store
	catalog   CatalogClient
	payments  PaymentsClient
	publisher EventPublisher
	wsHub     WebSocketHub
	currency  string
	logger    *logrus.Logger
}

func NewService(orderStore store.Store, catalogClient CatalogClient, paymentsClient PaymentsClient, currency string, logger *logrus.Logger) *Service {
	return &Service{
		store:    orderStore,
		catalog:  catalogClient,
		payments: paymentsClient,
		currency: currency,
		logger:   logger,
	}
}

func (s *Service) SetEventPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

func (s *Service) SetWebSocketHub(hub WebSocketHub) {
	s.wsHub = hub
}

// Create validates the requested items against the catalog, prices the
// order from catalog prices, persists order and items atomically in status
// PENDING, and requests a payment session. No order row is written unless
// every requested product id resolved.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every item needs a product id and a positive quantity", ErrNoItems)
		}
	}

	productIDs := dedupeProductIDs(req.Items)

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	products, err := s.catalog.ValidateProducts(rpcCtx, productIDs)
	if err != nil {
		var unresolved *catalog.UnresolvedProductsError
		if errors.As(err, &unresolved) {
			return nil, &ValidationError{MissingProductIDs: unresolved.ProductIDs}
		}
		return nil, &UnavailableError{Service: "catalog", Err: err}
	}

	productsByID := make(map[string]models.Product, len(products))
	for _, product := range products {
		productsByID[product.ID] = product
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:        uuid.New().String(),
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, requested := range req.Items {
		product, ok := productsByID[requested.ProductID]
		if !ok {
			// The validation call is supposed to have failed already for
			// unknown ids; a hole here means the catalog answered short.
			return nil, &ValidationError{MissingProductIDs: []string{requested.ProductID}}
		}

		order.Items = append(order.Items, models.OrderItem{
			ProductID: product.ID,
			Price:     product.Price,
			Quantity:  requested.Quantity,
		})
		order.TotalAmount += product.Price * float64(requested.Quantity)
		order.TotalItems += requested.Quantity
	}

	if err := s.store.CreateOrderWithItems(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	// Names are display-only; they ride on the response but are never
	// persisted next to the snapshotted price.
	for i := range order.Items {
		order.Items[i].Name = productsByID[order.Items[i].ProductID].Name
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount,
		"total_items":  order.TotalItems,
	}).Info("Order created")

	s.publishOrderCreated(order)
	s.broadcast("order_created", order)

	sessionCtx, cancelSession := context.WithTimeout(ctx, rpcTimeout)
	defer cancelSession()

	session, err := s.payments.CreateSession(sessionCtx, order.ID, s.currency, order.Items)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("Order committed but payment session request failed")
		return &CreateOrderResult{Order: order}, &UnavailableError{Service: "payments", Err: err}
	}

	return &CreateOrderResult{Order: order, PaymentSession: session}, nil
}

// FindOne returns the order with its items, enriching each item with the
// catalog's current display name. The persisted price is never re-fetched.
func (s *Service) FindOne(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}

	if len(order.Items) == 0 {
		return order, nil
	}

	productIDs := make([]string, 0, len(order.Items))
	seen := make(map[string]bool, len(order.Items))
	for _, item := range order.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	products, err := s.catalog.ValidateProducts(rpcCtx, productIDs)
	if err != nil {
		var unresolved *catalog.UnresolvedProductsError
		if errors.As(err, &unresolved) {
			// A product retired from the catalog after the order was
			// placed; the order itself is still fully valid.
			s.logger.WithField("order_id", id).WithField("missing", unresolved.ProductIDs).Warn("Catalog no longer resolves some order items")
			return order, nil
		}
		return nil, &UnavailableError{Service: "catalog", Err: err}
	}

	names := make(map[string]string, len(products))
	for _, product := range products {
		names[product.ID] = product.Name
	}
	for i := range order.Items {
		order.Items[i].Name = names[order.Items[i].ProductID]
	}

	return order, nil
}

// FindAll returns one page of orders, optionally filtered by status.
func (s *Service) FindAll(ctx context.Context, query ListQuery) (*OrderPage, error) {
	page, limit := normalizePage(query.Page, query.Limit)

	data, total, err := s.store.CountAndList(ctx, store.ListFilter{Status: query.Status}, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if data == nil {
		data = []models.Order{}
	}

	return &OrderPage{
		Data: data,
		Meta: PageMeta{
			Total:    total,
			Page:     page,
			LastPage: lastPage(total, limit),
		},
	}, nil
}

// FindAllByStatus returns one page of orders in the given status plus the
// total count for that status.
func (s *Service) FindAllByStatus(ctx context.Context, status models.OrderStatus, page, limit int) ([]models.Order, int, error) {
	page, limit = normalizePage(page, limit)

	data, total, err := s.store.CountAndList(ctx, store.ListFilter{Status: &status}, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders by status: %w", err)
	}
	if data == nil {
		data = []models.Order{}
	}
	return data, total, nil
}

// ChangeStatus applies a direct status-change request. Changing to the
// current status is an idempotent no-op with no write. Transitions into
// PAID are rejected here: only the payment confirmation path may mark an
// order paid, because it also sets paid/paid_at/charge id and the receipt.
func (s *Service) ChangeStatus(ctx context.Context, id string, newStatus models.OrderStatus) (*models.Order, error) {
	order, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}

	if order.Status == newStatus {
		return order, nil
	}

	if newStatus == models.StatusPaid {
		return nil, &InvalidTransitionError{From: order.Status, To: newStatus}
	}
	if err := CheckTransition(order.Status, newStatus); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, id, order.Status, newStatus)
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}

	s.broadcast("order_status_changed", updated)
	return updated, nil
}

// HandlePaymentSucceeded applies an inbound payment confirmation. It is
// idempotent under at-least-once delivery: a repeat of an already-applied
// event (same charge id) is a no-op with no second receipt.
func (s *Service) HandlePaymentSucceeded(event events.PaymentSucceededEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	logger := s.logger.WithFields(logrus.Fields{
		"order_id":  event.OrderID,
		"charge_id": event.PaymentChargeID,
	})

	order, err := s.store.FindByID(ctx, event.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		// An event for an order the store does not know about points at an
		// ordering or data-integrity problem upstream; it is retried and
		// eventually dead-lettered, never silently dropped.
		logger.Warn("Payment event references unknown order")
		return fmt.Errorf("payment event for order %s: %w", event.OrderID, ErrOrderNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read order %s: %w", event.OrderID, err)
	}

	if order.Status == models.StatusPaid {
		if order.PaymentChargeID == event.PaymentChargeID {
			logger.Info("Payment event already applied, skipping")
			return nil
		}
		logger.WithField("existing_charge_id", order.PaymentChargeID).Error("Order paid under a different charge id")
		return fmt.Errorf("order %s: %w", event.OrderID, ErrChargeMismatch)
	}

	if err := CheckTransition(order.Status, models.StatusPaid); err != nil {
		return err
	}

	updated, err := s.store.ApplyPayment(ctx, store.PaymentUpdate{
		OrderID:    event.OrderID,
		ChargeID:   event.PaymentChargeID,
		PaidAt:     time.Now().UTC(),
		ReceiptURL: event.ReceiptURL,
	}, order.Status)
	if err != nil {
		return s.mapStoreError(err, event.OrderID)
	}

	logger.Info("Order marked as paid")

	if s.publisher != nil {
		paidEvent := events.OrderPaidEvent{
			OrderID:         updated.ID,
			PaymentChargeID: updated.PaymentChargeID,
			ReceiptURL:      event.ReceiptURL,
		}
		if updated.PaidAt != nil {
			paidEvent.PaidAt = *updated.PaidAt
		}
		if err := s.publisher.PublishOrderPaid(paidEvent); err != nil {
			s.logger.WithError(err).Error("Failed to publish order paid event")
			// Don't fail the handler, just log the error.
		}
	}
	s.broadcast("order_paid", updated)

	return nil
}

// IsRetryable classifies payment-event failures for the consumer's
// retry/DLQ policy. Unknown orders and lost races are retryable (the event
// may simply have outrun the order commit); integrity violations are not.
func (s *Service) IsRetryable(err error) bool {
	if errors.Is(err, ErrChargeMismatch) {
		return false
	}
	var transition *InvalidTransitionError
	if errors.As(err, &transition) {
		return false
	}
	return true
}

func (s *Service) publishOrderCreated(order *models.Order) {
	if s.publisher == nil {
		return
	}

	event := events.OrderCreatedEvent{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		Status:      string(order.Status),
		CreatedAt:   order.CreatedAt,
	}
	if err := s.publisher.PublishOrderCreated(event); err != nil {
		s.logger.WithError(err).Error("Failed to publish order created event")
		// Don't fail the request, just log the error.
	}
}

func (s *Service) broadcast(eventType string, order *models.Order) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(eventType, order, "orders-service")
	}
}

func (s *Service) mapStoreError(err error, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("order %s: %w", id, ErrStatusConflict)
	default:
		return err
	}
}

func dedupeProductIDs(items []CreateOrderItem) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	return page, limit
}

// lastPage is ceil(total/limit); 0 when there are no matching orders.
func lastPage(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
