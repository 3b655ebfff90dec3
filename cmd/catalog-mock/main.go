package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/pkg/models"
)

// In-memory product catalog for local development. It answers the same
// validation contract the real catalog service exposes.
type CatalogStore struct {
	products map[string]models.Product
	mutex    sync.RWMutex
}

func NewCatalogStore() *CatalogStore {
	store := &CatalogStore{
		products: make(map[string]models.Product),
	}

	seed := []models.Product{
		{ID: "prod-1001", Name: "Mechanical Keyboard", Price: 89.99},
		{ID: "prod-1002", Name: "Wireless Mouse", Price: 34.50},
		{ID: "prod-1003", Name: "27in Monitor", Price: 249.00},
		{ID: "prod-1004", Name: "USB-C Dock", Price: 129.95},
		{ID: "prod-1005", Name: "Laptop Stand", Price: 42.00},
		{ID: "prod-1006", Name: "Webcam", Price: 79.90},
	}
	for _, product := range seed {
		store.products[product.ID] = product
	}

	return store
}

func (s *CatalogStore) Resolve(productIDs []string) ([]models.Product, []string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var resolved []models.Product
	var missing []string
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			resolved = append(resolved, product)
		} else {
			missing = append(missing, id)
		}
	}
	return resolved, missing
}

func (s *CatalogStore) All() []models.Product {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	products := make([]models.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	return products
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	store := NewCatalogStore()
	port := getEnv("CATALOG_MOCK_PORT", "8083")

	router := mux.NewRouter()

	router.HandleFunc("/products/validate", func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			ProductIDs []string `json:"product_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": "Invalid request body",
			})
			return
		}

		resolved, missing := store.Resolve(request.ProductIDs)

		logger.WithFields(logrus.Fields{
			"requested": len(request.ProductIDs),
			"resolved":  len(resolved),
			"missing":   missing,
		}).Info("Validated products")

		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  len(missing) == 0,
			"products": resolved,
			"missing":  missing,
		})
	}).Methods("POST")

	router.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"products": store.All(),
		})
	}).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "catalog-mock",
		})
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting catalog mock")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start catalog mock")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down catalog mock")
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
