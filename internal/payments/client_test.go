package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCreateSession(t *testing.T) {
	var received sessionRequest
	var idempotencyKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment-sessions" || r.Method != "POST" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		idempotencyKey = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&received)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.PaymentSession{
			ID:  "cs_123",
			URL: "https://payments.localhost/checkout/cs_123",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 2*time.Second, testLogger())

	items := []models.OrderItem{
		{ProductID: "prod-a", Name: "Product A", Price: 10, Quantity: 2},
	}
	session, err := client.CreateSession(context.Background(), "order-1", "usd", items)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if session.ID != "cs_123" || session.URL == "" {
		t.Errorf("Session = %+v", session)
	}
	if idempotencyKey != "order-1" {
		t.Errorf("Idempotency-Key = %q, want order-1", idempotencyKey)
	}
	if received.OrderID != "order-1" || received.Currency != "usd" {
		t.Errorf("Request = %+v", received)
	}
	if len(received.Items) != 1 || received.Items[0].Name != "Product A" || received.Items[0].Price != 10 {
		t.Errorf("Request items = %+v", received.Items)
	}
}

func TestCreateSessionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 2*time.Second, testLogger())

	if _, err := client.CreateSession(context.Background(), "order-1", "usd", nil); err == nil {
		t.Fatal("Expected error for 503 response")
	}
}

func TestCreateSessionUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, 500*time.Millisecond, testLogger())

	if _, err := client.CreateSession(context.Background(), "order-1", "usd", nil); err == nil {
		t.Fatal("Expected error when payment service is unreachable")
	}
}
