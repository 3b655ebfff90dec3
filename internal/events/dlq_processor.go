package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// MaxReplays caps how often a payment event may bounce between the DLQ and
// the live topic before it needs manual intervention.
const MaxReplays = MaxRetries * 2

// DLQProcessor replays dead-lettered payment events back onto the live
// topic after a hold-off, so transient outages (order store down, event
// arrived before the order committed) resolve themselves.
type DLQProcessor struct {
	consumer    sarama.ConsumerGroup
	producer    sarama.SyncProducer
	logger      *logrus.Logger
	replayDelay time.Duration
}

func NewDLQProcessor(brokers string, replayDelay time.Duration, logger *logrus.Logger) (*DLQProcessor, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), "payment-dlq-processor-group", consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), producerConfig)
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to create replay producer: %w", err)
	}

	return &DLQProcessor{
		consumer:    consumer,
		producer:    producer,
		logger:      logger,
		replayDelay: replayDelay,
	}, nil
}

func (p *DLQProcessor) Run(ctx context.Context) error {
	handler := &dlqClaimHandler{processor: p, logger: p.logger}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("DLQ processor context cancelled")
			return nil
		default:
			if err := p.consumer.Consume(ctx, []string{PaymentSucceededDLQTopic}, handler); err != nil {
				p.logger.WithError(err).Error("Error consuming from payment DLQ")
				return err
			}
		}
	}
}

func (p *DLQProcessor) replayMessage(message *sarama.ConsumerMessage) error {
	var metadata MessageMetadata
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			if err := json.Unmarshal(header.Value, &metadata); err != nil {
				p.logger.WithError(err).Error("Failed to unmarshal DLQ metadata")
			}
			break
		}
	}

	if metadata.RetryCount >= MaxReplays {
		p.logger.WithFields(logrus.Fields{
			"order_key":   string(message.Key),
			"retry_count": metadata.RetryCount,
		}).Error("Payment event exceeded maximum replay attempts")
		return fmt.Errorf("exceeded maximum replay attempts")
	}

	replayMessage := &sarama.ProducerMessage{
		Topic: PaymentSucceededTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("retry_count"),
				Value: []byte(fmt.Sprintf("%d", metadata.RetryCount)),
			},
			{
				Key:   []byte("replayed_from_dlq"),
				Value: []byte("true"),
			},
			{
				Key:   []byte("replay_time"),
				Value: []byte(time.Now().Format(time.RFC3339)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(replayMessage)
	if err != nil {
		return fmt.Errorf("failed to replay payment event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"replay_topic":     PaymentSucceededTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"order_key":        string(message.Key),
	}).Info("Payment event replayed from DLQ")

	return nil
}

func (p *DLQProcessor) Close() error {
	if err := p.producer.Close(); err != nil {
		p.logger.WithError(err).Error("Failed to close replay producer")
	}
	return p.consumer.Close()
}

type dlqClaimHandler struct {
	processor *DLQProcessor
	logger    *logrus.Logger
}

func (h *dlqClaimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqClaimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqClaimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			h.logger.WithFields(logrus.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
				"key":       string(message.Key),
			}).Warn("Processing dead-lettered payment event")

			// Hold off before replaying so a still-broken downstream does
			// not churn the same event through the loop.
			select {
			case <-time.After(h.processor.replayDelay):
			case <-session.Context().Done():
				return nil
			}

			if err := h.processor.replayMessage(message); err != nil {
				h.logger.WithError(err).Error("Failed to replay DLQ message")
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
