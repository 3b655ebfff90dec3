package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

func (p *KafkaProducer) PublishOrderCreated(event OrderCreatedEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderCreatedTopic, event.OrderID, event)
}

func (p *KafkaProducer) PublishOrderPaid(event OrderPaidEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderPaidTopic, event.OrderID, event)
}

// PublishPaymentSucceeded is used by the payments mock to simulate the
// payment service's confirmation event.
func (p *KafkaProducer) PublishPaymentSucceeded(event PaymentSucceededEvent) error {
	event.EventTime = time.Now()
	return p.publish(PaymentSucceededTopic, event.OrderID, event)
}

func (p *KafkaProducer) publish(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  key,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
