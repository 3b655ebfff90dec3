package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/jogardn/orders-service/internal/store"
	"github.com/jogardn/orders-service/pkg/models"
)

func newTestRouter() (*mux.Router, *fakePayments, *trackingStore) {
	orderStore := &trackingStore{Store: store.NewMemoryStore()}
	catalogClient := &fakeCatalog{products: map[string]models.Product{
		"prod-a": {ID: "prod-a", Name: "Product A", Price: 10},
		"prod-b": {ID: "prod-b", Name: "Product B", Price: 20},
	}}
	paymentsClient := &fakePayments{}

	service := NewService(orderStore, catalogClient, paymentsClient, "usd", testLogger())
	handler := NewHandler(service, testLogger())

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router, paymentsClient, orderStore
}

func doRequest(router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func createTestOrder(t *testing.T, router *mux.Router) *models.Order {
	t.Helper()

	recorder := doRequest(router, "POST", "/orders", CreateOrderRequest{Items: []CreateOrderItem{
		{ProductID: "prod-a", Quantity: 1},
		{ProductID: "prod-b", Quantity: 2},
	}})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var result CreateOrderResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode create response: %v", err)
	}
	return result.Order
}

func TestCreateOrderEndpoint(t *testing.T) {
	router, _, _ := newTestRouter()

	order := createTestOrder(t, router)
	if order.ID == "" {
		t.Error("Order id missing")
	}
	if order.TotalAmount != 50 || order.TotalItems != 3 {
		t.Errorf("Totals = (%v, %d), want (50, 3)", order.TotalAmount, order.TotalItems)
	}
	if order.Status != models.StatusPending {
		t.Errorf("Status = %s, want PENDING", order.Status)
	}
}

func TestCreateOrderEndpointUnknownProduct(t *testing.T) {
	router, _, orderStore := newTestRouter()

	recorder := doRequest(router, "POST", "/orders", CreateOrderRequest{Items: []CreateOrderItem{
		{ProductID: "prod-missing", Quantity: 1},
	}})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
	if orderStore.createCalls != 0 {
		t.Errorf("Store writes = %d, want 0", orderStore.createCalls)
	}
}

func TestCreateOrderEndpointBadBody(t *testing.T) {
	router, _, _ := newTestRouter()

	req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString("{not json"))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestCreateOrderEndpointPaymentsDown(t *testing.T) {
	router, paymentsClient, _ := newTestRouter()
	paymentsClient.fail = fmt.Errorf("connection refused")

	recorder := doRequest(router, "POST", "/orders", CreateOrderRequest{Items: []CreateOrderItem{
		{ProductID: "prod-a", Quantity: 1},
	}})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("Status = %d, want 502", recorder.Code)
	}

	// The committed order rides along so the caller can retry the session.
	var body struct {
		Success bool          `json:"success"`
		Order   *models.Order `json:"order"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Success {
		t.Error("Expected success=false")
	}
	if body.Order == nil || body.Order.ID == "" {
		t.Error("Expected the committed order in the response")
	}
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	router, _, _ := newTestRouter()

	recorder := doRequest(router, "GET", "/orders/nope", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", recorder.Code)
	}
}

func TestGetOrderEndpointEnriched(t *testing.T) {
	router, _, _ := newTestRouter()
	order := createTestOrder(t, router)

	recorder := doRequest(router, "GET", "/orders/"+order.ID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", recorder.Code)
	}

	var fetched models.Order
	if err := json.Unmarshal(recorder.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("Failed to decode order: %v", err)
	}
	if len(fetched.Items) != 2 || fetched.Items[0].Name == "" {
		t.Errorf("Expected enriched items, got %+v", fetched.Items)
	}
}

func TestChangeStatusEndpointRejectsPaid(t *testing.T) {
	router, _, _ := newTestRouter()
	order := createTestOrder(t, router)

	recorder := doRequest(router, "PATCH", "/orders/"+order.ID+"/status", map[string]string{"status": "PAID"})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("Status = %d, want 422", recorder.Code)
	}
}

func TestChangeStatusEndpointUnknownStatus(t *testing.T) {
	router, _, _ := newTestRouter()
	order := createTestOrder(t, router)

	recorder := doRequest(router, "PATCH", "/orders/"+order.ID+"/status", map[string]string{"status": "SHIPPED"})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestChangeStatusEndpointCancel(t *testing.T) {
	router, _, _ := newTestRouter()
	order := createTestOrder(t, router)

	recorder := doRequest(router, "PATCH", "/orders/"+order.ID+"/status", map[string]string{"status": "CANCELLED"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", recorder.Code, recorder.Body.String())
	}

	var updated models.Order
	if err := json.Unmarshal(recorder.Body.Bytes(), &updated); err != nil {
		t.Fatalf("Failed to decode order: %v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", updated.Status)
	}
}

func TestListOrdersEndpointMeta(t *testing.T) {
	router, _, _ := newTestRouter()

	recorder := doRequest(router, "GET", "/orders?page=1&limit=10", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", recorder.Code)
	}

	var page OrderPage
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("Failed to decode page: %v", err)
	}
	if page.Meta.Total != 0 || page.Meta.LastPage != 0 {
		t.Errorf("Meta = %+v, want total=0 last_page=0", page.Meta)
	}

	for i := 0; i < 12; i++ {
		createTestOrder(t, router)
	}

	recorder = doRequest(router, "GET", "/orders?page=1&limit=10", nil)
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("Failed to decode page: %v", err)
	}
	if page.Meta.Total != 12 || page.Meta.LastPage != 2 {
		t.Errorf("Meta = %+v, want total=12 last_page=2", page.Meta)
	}
	if len(page.Data) != 10 {
		t.Errorf("Page size = %d, want 10", len(page.Data))
	}
}

func TestListOrdersEndpointBadStatus(t *testing.T) {
	router, _, _ := newTestRouter()

	recorder := doRequest(router, "GET", "/orders?status=NOPE", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", recorder.Code)
	}
}

func TestListOrdersByStatusEndpoint(t *testing.T) {
	router, _, _ := newTestRouter()
	order := createTestOrder(t, router)
	createTestOrder(t, router)

	doRequest(router, "PATCH", "/orders/"+order.ID+"/status", map[string]string{"status": "CANCELLED"})

	recorder := doRequest(router, "GET", "/orders/status/PENDING?page=1&limit=10", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", recorder.Code)
	}

	var body struct {
		Data []models.Order `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Meta.Total != 1 {
		t.Errorf("Total = %d, want 1", body.Meta.Total)
	}
	for _, order := range body.Data {
		if order.Status != models.StatusPending {
			t.Errorf("Non-PENDING order listed: %s", order.Status)
		}
	}
}
