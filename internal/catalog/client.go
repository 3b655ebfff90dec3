package catalog

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

// UnresolvedProductsError means the catalog answered but could not resolve
// one or more of the requested product ids. Any other error from the client
// is a transport/timeout/breaker failure.
type UnresolvedProductsError struct {
	ProductIDs []string
}

func (e *UnresolvedProductsError) Error() string {
	return fmt.Sprintf("catalog could not resolve product ids: %s", strings.Join(e.ProductIDs, ", "))
}

type validateRequest struct {
	ProductIDs []string `json:"product_ids"`
}

type validateResponse struct {
	Success  bool             `json:"success"`
	Products []models.Product `json:"products"`
	Missing  []string         `json:"missing,omitempty"`
}

// Client resolves product ids to authoritative catalog records.
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
			Name:        "catalog",
			MaxFailures: 5,
			Cooldown:    15 * time.Second,
			MaxProbes:   2,
		}, logger),
		logger: logger,
	}
}

// ValidateProducts resolves the full deduplicated id set in a single round
// trip so the prices come from one catalog snapshot.
func (c *Client) ValidateProducts(ctx context.Context, productIDs []string) ([]models.Product, error) {
	c.logger.WithField("product_ids", productIDs).Debug("Validating products against catalog")

	var validated validateResponse
	err := c.breaker.Execute(func() error {
		return c.postValidate(ctx, productIDs, &validated)
	})
	if err != nil {
		return nil, err
	}

	if !validated.Success || len(validated.Missing) > 0 {
		return nil, &UnresolvedProductsError{ProductIDs: validated.Missing}
	}

	// The catalog must echo back exactly the requested set; anything short
	// is treated the same as an explicit miss.
	if missing := missingIDs(productIDs, validated.Products); len(missing) > 0 {
		return nil, &UnresolvedProductsError{ProductIDs: missing}
	}

	c.logger.WithField("count", len(validated.Products)).Debug("Products validated")
	return validated.Products, nil
}

func (c *Client) postValidate(ctx context.Context, productIDs []string, out *validateResponse) error {
	jsonData, err := json.Marshal(validateRequest{ProductIDs: productIDs})
	if err != nil {
		return fmt.Errorf("failed to marshal validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/products/validate", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog service returned error status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}

	return nil
}

func missingIDs(requested []string, products []models.Product) []string {
	resolved := make(map[string]bool, len(products))
	for _, product := range products {
		resolved[product.ID] = true
	}

	var missing []string
	for _, id := range requested {
		if !resolved[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Metrics exposes the breaker counters for the metrics endpoint.
func (c *Client) Metrics() map[string]interface{} {
	return c.breaker.Metrics()
}
