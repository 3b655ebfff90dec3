package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/internal/catalog"
	"github.com/jogardn/orders-service/internal/events"
	"github.com/jogardn/orders-service/internal/orders"
	"github.com/jogardn/orders-service/internal/payments"
	"github.com/jogardn/orders-service/internal/store"
	wshub "github.com/jogardn/orders-service/internal/websocket"
)

func main() {
	// A local .env is optional; real deployments set env vars directly.
	godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		logger.SetLevel(level)
	}

	// Database configuration
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "ordersservice")
	dbPassword := getEnv("DB_PASSWORD", "ordersservice")
	dbName := getEnv("DB_NAME", "orders")

	// Collaborators
	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	catalogURL := getEnv("CATALOG_SERVICE_URL", "http://localhost:8083")
	paymentsURL := getEnv("PAYMENTS_SERVICE_URL", "http://localhost:8084")

	// Service configuration
	port := getEnv("ORDERS_SERVICE_PORT", "8082")
	currency := getEnv("ORDER_CURRENCY", "usd")
	rpcTimeout := 5 * time.Second

	// Connect to database before serving anything.
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPassword, dbName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			logger.Info("Database connection established")
			break
		}
		logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Database never became reachable")
	}

	orderStore := store.NewPostgresStore(db, logger)
	if err := orderStore.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	producer, err := events.NewKafkaProducer(kafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	catalogClient := catalog.NewClient(catalogURL, rpcTimeout, logger)
	paymentsClient := payments.NewClient(paymentsURL, rpcTimeout, logger)

	service := orders.NewService(orderStore, catalogClient, paymentsClient, currency, logger)
	service.SetEventPublisher(producer)

	hub := wshub.NewHub(logger)
	go hub.Run()
	service.SetWebSocketHub(hub)

	// Payment confirmations arrive asynchronously over Kafka.
	consumer, err := events.NewPaymentConsumer(kafkaBrokers, "orders-service-group", service, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create payment consumer")
	}

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Start(consumerCtx); err != nil {
			logger.WithError(err).Error("Payment consumer stopped")
		}
	}()

	handler := orders.NewHandler(service, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "orders-service",
				"error":   "database connection failed",
			})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "orders-service",
		})
	}).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"catalog_breaker":  catalogClient.Metrics(),
			"payments_breaker": paymentsClient.Metrics(),
			"payment_consumer": consumer.Metrics(),
			"ws_clients":       hub.ClientCount(),
		})
	}).Methods("GET")

	router.Use(loggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting orders service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Graceful shutdown: stop consuming first, then drain in-flight HTTP.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down orders service...")
	cancelConsumer()
	if err := consumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close payment consumer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Orders service gracefully stopped")
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
