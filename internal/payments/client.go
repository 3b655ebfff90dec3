package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/internal/circuitbreaker"
	"github.com/jogardn/orders-service/pkg/models"
)

type sessionItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type sessionRequest struct {
	OrderID  string        `json:"order_id"`
	Currency string        `json:"currency"`
	Items    []sessionItem `json:"items"`
}

// Client requests payment sessions from the payment service. Session
// creation is an external side effect and is never transactional with the
// local order write; callers retry against an already-created order.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "payments",
			MaxFailures: 5,
			Cooldown:    15 * time.Second,
			MaxProbes:   2,
		}, logger),
		logger: logger,
	}
}

// CreateSession asks the payment service for a session covering the order's
// line items. The order id doubles as the idempotency key on the payment
// side, so a retried call cannot create a second charge for the same order.
func (c *Client) CreateSession(ctx context.Context, orderID, currency string, items []models.OrderItem) (*models.PaymentSession, error) {
	request := sessionRequest{
		OrderID:  orderID,
		Currency: currency,
		Items:    make([]sessionItem, 0, len(items)),
	}
	for _, item := range items {
		request.Items = append(request.Items, sessionItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	var session models.PaymentSession
	err := c.breaker.Execute(func() error {
		return c.postSession(ctx, request, &session)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"session_id": session.ID,
	}).Info("Payment session created")

	return &session, nil
}

func (c *Client) postSession(ctx context.Context, request sessionRequest, out *models.PaymentSession) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/payment-sessions", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", request.OrderID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("payment service returned error status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode payment session response: %w", err)
	}

	return nil
}

// Metrics exposes the breaker counters for the metrics endpoint.
func (c *Client) Metrics() map[string]interface{} {
	return c.breaker.Metrics()
}
