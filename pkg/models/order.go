package models

import (
	"time"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusDelivered OrderStatus = "DELIVERED"
)

// OrderStatuses is the closed set of legal order states.
var OrderStatuses = []OrderStatus{StatusPending, StatusPaid, StatusCancelled, StatusDelivered}

func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type Order struct {
	ID              string        `json:"id"`
	TotalAmount     float64       `json:"total_amount"`
	TotalItems      int           `json:"total_items"`
	Status          OrderStatus   `json:"status"`
	Paid            bool          `json:"paid"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	PaymentChargeID string        `json:"payment_charge_id,omitempty"`
	Items           []OrderItem   `json:"items,omitempty"`
	Receipt         *OrderReceipt `json:"receipt,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// OrderItem is one line of an order. Price is the catalog price observed at
// creation time and is immutable afterwards; Name is display-only, resolved
// from the catalog on reads and never persisted.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type OrderReceipt struct {
	OrderID    string    `json:"order_id"`
	ReceiptURL string    `json:"receipt_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Product is the catalog service's authoritative record for a product.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// PaymentSession is the payment service's handle for collecting payment
// for a single order.
type PaymentSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
