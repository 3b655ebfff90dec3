package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	MaxRetries        = 3
	InitialRetryDelay = 1 * time.Second
	MaxRetryDelay     = 30 * time.Second
)

// PaymentEventHandler applies a payment confirmation to an order. The
// handler must be idempotent: payment events are delivered at least once.
type PaymentEventHandler interface {
	HandlePaymentSucceeded(event PaymentSucceededEvent) error
	// IsRetryable reports whether a failed application may succeed on a
	// later attempt (e.g. the event raced the order commit, or the store
	// was briefly unavailable).
	IsRetryable(err error) bool
}

type ConsumerMetrics struct {
	ProcessedCount int64
	RetryCount     int64
	DLQCount       int64
	SuccessCount   int64
	FailureCount   int64
}

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

// PaymentConsumer consumes payment.succeeded with in-process retries and a
// dead letter queue for events that keep failing.
type PaymentConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	handler       PaymentEventHandler
	logger        *logrus.Logger
	topics        []string
	metrics       *ConsumerMetrics
}

type paymentClaimHandler struct {
	handler  PaymentEventHandler
	producer sarama.SyncProducer
	logger   *logrus.Logger
	metrics  *ConsumerMetrics
}

func NewPaymentConsumer(brokers, groupID string, handler PaymentEventHandler, logger *logrus.Logger) (*PaymentConsumer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), producerConfig)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &PaymentConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		handler:       handler,
		logger:        logger,
		topics:        []string{PaymentSucceededTopic},
		metrics:       &ConsumerMetrics{},
	}, nil
}

func (c *PaymentConsumer) Start(ctx context.Context) error {
	handler := &paymentClaimHandler{
		handler:  c.handler,
		producer: c.producer,
		logger:   c.logger,
		metrics:  c.metrics,
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Payment consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.WithError(err).Error("Error consuming payment events")
				return err
			}
		}
	}
}

func (c *PaymentConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	return c.consumerGroup.Close()
}

func (c *PaymentConsumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		ProcessedCount: atomic.LoadInt64(&c.metrics.ProcessedCount),
		RetryCount:     atomic.LoadInt64(&c.metrics.RetryCount),
		DLQCount:       atomic.LoadInt64(&c.metrics.DLQCount),
		SuccessCount:   atomic.LoadInt64(&c.metrics.SuccessCount),
		FailureCount:   atomic.LoadInt64(&c.metrics.FailureCount),
	}
}

func (h *paymentClaimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Payment consumer group session setup")
	return nil
}

func (h *paymentClaimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Payment consumer group session cleanup")
	return nil
}

func (h *paymentClaimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			atomic.AddInt64(&h.metrics.ProcessedCount, 1)

			if err := h.handleMessageWithRetry(message); err != nil {
				h.logger.WithError(err).Error("Failed to process payment event after retries")
				atomic.AddInt64(&h.metrics.FailureCount, 1)

				if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
					h.logger.WithError(dlqErr).Error("Failed to send payment event to DLQ")
				} else {
					atomic.AddInt64(&h.metrics.DLQCount, 1)
				}
			} else {
				atomic.AddInt64(&h.metrics.SuccessCount, 1)
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Payment consumer session context cancelled")
			return nil
		}
	}
}

func (h *paymentClaimHandler) handleMessageWithRetry(message *sarama.ConsumerMessage) error {
	h.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}).Info("Processing payment event")

	var event PaymentSucceededEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		h.logger.WithError(err).Error("Failed to unmarshal payment succeeded event")
		return err // Malformed payload, retrying cannot help.
	}

	retryDelay := InitialRetryDelay

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			h.logger.WithFields(logrus.Fields{
				"order_id": event.OrderID,
				"attempt":  attempt,
				"delay":    retryDelay,
			}).Info("Retrying payment event")

			time.Sleep(retryDelay)
			atomic.AddInt64(&h.metrics.RetryCount, 1)

			retryDelay = retryDelay * 2
			if retryDelay > MaxRetryDelay {
				retryDelay = MaxRetryDelay
			}
		}

		err := h.handler.HandlePaymentSucceeded(event)
		if err == nil {
			return nil
		}

		if !h.handler.IsRetryable(err) {
			h.logger.WithError(err).WithField("order_id", event.OrderID).Error("Non-retryable payment event error")
			return err
		}

		h.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": event.OrderID,
			"attempt":  attempt + 1,
		}).Warn("Retryable error applying payment event")
	}

	return fmt.Errorf("exhausted retries for payment event on order %s", event.OrderID)
}

func (h *paymentClaimHandler) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	metadata := MessageMetadata{
		RetryCount:    extractRetryCount(message) + 1,
		FirstFailure:  time.Now(),
		LastFailure:   time.Now(),
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: PaymentSucceededDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("metadata"),
				Value: metadataBytes,
			},
			{
				Key:   []byte("original_topic"),
				Value: []byte(message.Topic),
			},
			{
				Key:   []byte("failure_time"),
				Value: []byte(time.Now().Format(time.RFC3339)),
			},
		},
	}

	partition, offset, err := h.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic":     PaymentSucceededDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"order_key":     string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Payment event sent to dead letter queue")

	return nil
}

func extractRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == "retry_count" {
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				return count
			}
		}
	}
	return 0
}
