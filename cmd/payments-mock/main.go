package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/internal/events"
	"github.com/jogardn/orders-service/pkg/models"
)

type sessionRecord struct {
	Session  models.PaymentSession `json:"session"`
	OrderID  string                `json:"order_id"`
	Currency string                `json:"currency"`
	Amount   float64               `json:"amount"`
}

// SessionStore holds payment sessions created by the orders service. A
// session is keyed by order id, which makes repeated session requests for
// the same order idempotent, like a real payment provider's idempotency key.
type SessionStore struct {
	byOrder map[string]*sessionRecord
	byID    map[string]*sessionRecord
	mutex   sync.RWMutex
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byOrder: make(map[string]*sessionRecord),
		byID:    make(map[string]*sessionRecord),
	}
}

func (s *SessionStore) GetOrCreate(orderID, currency string, amount float64) (*sessionRecord, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.byOrder[orderID]; ok {
		return existing, false
	}

	id := "cs_" + uuid.New().String()
	record := &sessionRecord{
		Session: models.PaymentSession{
			ID:  id,
			URL: fmt.Sprintf("https://payments.localhost/checkout/%s", id),
		},
		OrderID:  orderID,
		Currency: currency,
		Amount:   amount,
	}
	s.byOrder[orderID] = record
	s.byID[id] = record
	return record, true
}

func (s *SessionStore) FindByID(id string) (*sessionRecord, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	record, ok := s.byID[id]
	return record, ok
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	port := getEnv("PAYMENTS_MOCK_PORT", "8084")
	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")

	// The mock publishes payment.succeeded just like the real payment
	// service would after the shopper completes checkout.
	var producer *events.KafkaProducer
	var err error
	for i := 0; i < 10; i++ {
		producer, err = events.NewKafkaProducer(kafkaBrokers, logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}
		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer after retries")
	}
	defer producer.Close()

	store := NewSessionStore()
	router := mux.NewRouter()

	router.HandleFunc("/payment-sessions", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			OrderID  string `json:"order_id"`
			Currency string `json:"currency"`
			Items    []struct {
				Name     string  `json:"name"`
				Price    float64 `json:"price"`
				Quantity int     `json:"quantity"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.OrderID == "" {
			respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": "Invalid session request",
			})
			return
		}

		var amount float64
		for _, item := range request.Items {
			amount += item.Price * float64(item.Quantity)
		}

		record, created := store.GetOrCreate(request.OrderID, request.Currency, amount)

		logger.WithFields(logrus.Fields{
			"order_id":   request.OrderID,
			"session_id": record.Session.ID,
			"amount":     amount,
			"created":    created,
		}).Info("Payment session requested")

		respondWithJSON(w, http.StatusCreated, record.Session)
	}).Methods("POST")

	// Simulates the shopper completing checkout: emits payment.succeeded.
	router.HandleFunc("/payment-sessions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		record, ok := store.FindByID(vars["id"])
		if !ok {
			respondWithJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Session not found",
			})
			return
		}

		chargeID := "ch_" + uuid.New().String()
		event := events.PaymentSucceededEvent{
			OrderID:         record.OrderID,
			PaymentChargeID: chargeID,
			ReceiptURL:      fmt.Sprintf("https://payments.localhost/receipts/%s", chargeID),
		}

		if err := producer.PublishPaymentSucceeded(event); err != nil {
			logger.WithError(err).Error("Failed to publish payment succeeded event")
			respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"message": "Failed to publish payment event",
			})
			return
		}

		logger.WithFields(logrus.Fields{
			"order_id":  record.OrderID,
			"charge_id": chargeID,
		}).Info("Payment completed, event published")

		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"order_id":  record.OrderID,
			"charge_id": chargeID,
		})
	}).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "payments-mock",
		})
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting payments mock")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start payments mock")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down payments mock")
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
