package events

import (
	"time"
)

const (
	OrderCreatedTopic        = "order.created"
	OrderPaidTopic           = "order.paid"
	PaymentSucceededTopic    = "payment.succeeded"
	PaymentSucceededDLQTopic = "payment.succeeded.dlq"
)

// OrderCreatedEvent announces a newly persisted order.
type OrderCreatedEvent struct {
	OrderID     string    `json:"order_id"`
	TotalAmount float64   `json:"total_amount"`
	TotalItems  int       `json:"total_items"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	EventTime   time.Time `json:"event_time"`
}

// OrderPaidEvent announces that a payment was reconciled against an order.
type OrderPaidEvent struct {
	OrderID         string    `json:"order_id"`
	PaymentChargeID string    `json:"payment_charge_id"`
	ReceiptURL      string    `json:"receipt_url"`
	PaidAt          time.Time `json:"paid_at"`
	EventTime       time.Time `json:"event_time"`
}

// PaymentSucceededEvent is the payment service's at-least-once notification
// that payment for an order completed.
type PaymentSucceededEvent struct {
	OrderID         string    `json:"order_id"`
	PaymentChargeID string    `json:"payment_charge_id"`
	ReceiptURL      string    `json:"receipt_url"`
	EventTime       time.Time `json:"event_time"`
}
