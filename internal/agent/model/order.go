package model

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPlaced    OrderStatus = "PLACED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

// Order is a snapshot of an order as returned by the lookup capability.
type Order struct {
	OrderID              string      `json:"order_id"`
	Status               OrderStatus `json:"status"`
	ExpectedDeliveryDate time.Time   `json:"expected_delivery_date"`
	Amount               float64     `json:"amount"`
	Refundable           bool        `json:"refundable"`
	Description          string      `json:"description,omitempty"`
}

// Refund is the record produced by a processed refund.
type Refund struct {
	RefundID string  `json:"refund_id"`
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
}
