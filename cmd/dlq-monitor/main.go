package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/orders-service/internal/events"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(kafkaBrokers, ","), "payment-dlq-monitor-group", config)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &dlqHandler{logger: logger}

	go func() {
		for {
			if err := consumer.Consume(ctx, []string{events.PaymentSucceededDLQTopic}, handler); err != nil {
				logger.WithError(err).Error("Error consuming from payment DLQ")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// With DLQ_REPLAY=true the monitor also replays dead-lettered events
	// back onto the live topic after a hold-off.
	if getEnv("DLQ_REPLAY", "false") == "true" {
		processor, err := events.NewDLQProcessor(kafkaBrokers, 30*time.Second, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create DLQ processor")
		}
		defer processor.Close()

		go func() {
			if err := processor.Run(ctx); err != nil {
				logger.WithError(err).Error("DLQ processor stopped")
			}
		}()
		logger.Info("DLQ replay enabled")
	}

	logger.WithField("topic", events.PaymentSucceededDLQTopic).Info("DLQ monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down DLQ monitor...")
}

type dlqHandler struct {
	logger *logrus.Logger
}

func (h *dlqHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var metadata events.MessageMetadata
		for _, header := range message.Headers {
			if string(header.Key) == "metadata" {
				json.Unmarshal(header.Value, &metadata)
			}
		}

		h.logger.WithFields(logrus.Fields{
			"topic":       message.Topic,
			"partition":   message.Partition,
			"offset":      message.Offset,
			"key":         string(message.Key),
			"retry_count": metadata.RetryCount,
			"error":       metadata.ErrorMessage,
		}).Warn("Dead-lettered payment event detected")

		var event events.PaymentSucceededEvent
		if err := json.Unmarshal(message.Value, &event); err == nil {
			h.logger.WithFields(logrus.Fields{
				"order_id":    event.OrderID,
				"charge_id":   event.PaymentChargeID,
				"receipt_url": event.ReceiptURL,
			}).Info("DLQ payment event details")
		}

		fmt.Printf("\n=== DLQ Payment Event ===\n")
		fmt.Printf("Time: %s\n", time.Now().Format(time.RFC3339))
		fmt.Printf("Order Key: %s\n", string(message.Key))
		fmt.Printf("Error: %s\n", metadata.ErrorMessage)
		fmt.Printf("Retry Count: %d\n", metadata.RetryCount)
		fmt.Printf("=========================\n\n")

		session.MarkMessage(message, "")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
