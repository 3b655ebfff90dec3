package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/pkg/models"
)

// Handler adapts the orchestrator to the inbound HTTP surface.
type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/status/{status}", h.ListOrdersByStatus).Methods("GET")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/status", h.ChangeOrderStatus).Methods("PATCH")
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode create order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Create(r.Context(), req)
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) && result != nil && result.Order != nil {
			// The order is committed; only the payment session is missing.
			// Surface a retriable condition together with the created order.
			h.respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{
				"success": false,
				"message": "Order created but payment session is unavailable, retry session creation",
				"order":   result.Order,
			})
			return
		}
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := ListQuery{
		Page:  queryInt(r, "page", DefaultPage),
		Limit: queryInt(r, "limit", DefaultLimit),
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.OrderStatus(raw)
		if !status.Valid() {
			h.respondWithError(w, http.StatusBadRequest, "Unknown order status: "+raw)
			return
		}
		query.Status = &status
	}

	page, err := h.service.FindAll(r.Context(), query)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, page)
}

func (h *Handler) ListOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	status := models.OrderStatus(vars["status"])
	if !status.Valid() {
		h.respondWithError(w, http.StatusBadRequest, "Unknown order status: "+vars["status"])
		return
	}

	page := queryInt(r, "page", DefaultPage)
	limit := queryInt(r, "limit", DefaultLimit)

	data, total, err := h.service.FindAllByStatus(r.Context(), status, page, limit)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"meta": map[string]interface{}{
			"total": total,
		},
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	order, err := h.service.FindOne(r.Context(), vars["id"])
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var body struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.WithError(err).Error("Failed to decode change status request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !body.Status.Valid() {
		h.respondWithError(w, http.StatusBadRequest, "Unknown order status: "+string(body.Status))
		return
	}

	order, err := h.service.ChangeStatus(r.Context(), vars["id"], body.Status)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

// respondWithServiceError maps the error taxonomy onto HTTP statuses.
// Anything unclassified is logged in full and reported generically.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	var transition *InvalidTransitionError
	var unavailable *UnavailableError

	switch {
	case errors.As(err, &validation):
		h.respondWithError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, ErrNoItems):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOrderNotFound):
		h.respondWithError(w, http.StatusNotFound, "Order not found")
	case errors.As(err, &transition):
		h.respondWithError(w, http.StatusUnprocessableEntity, transition.Error())
	case errors.Is(err, ErrStatusConflict):
		h.respondWithError(w, http.StatusConflict, "Order was modified concurrently, retry")
	case errors.As(err, &unavailable):
		h.respondWithError(w, http.StatusBadGateway, unavailable.Service+" service unavailable")
	default:
		h.logger.WithError(err).Error("Unexpected error handling order request")
		h.respondWithError(w, http.StatusInternalServerError, "Internal error, check logs")
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
