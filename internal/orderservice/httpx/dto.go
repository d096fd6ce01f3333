package httpx

import "time"

type CreateOrderRequest struct {
	CustomerID string               `json:"customer_id"`
	Items      []CreateOrderItemDTO `json:"items"`
}

type CreateOrderItemDTO struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderResponse struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	Status      string              `json:"status"`
	TotalAmount float64             `json:"total_amount"`
	Reason      string              `json:"reason,omitempty"`
	ShipmentID  string              `json:"shipment_id,omitempty"`
	Items       []OrderItemResponse `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type OrderItemResponse struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type DeadLetterResponse struct {
	ID            string     `json:"id"`
	Topic         string     `json:"topic"`
	PartitionKey  string     `json:"partition_key"`
	ConsumerGroup string     `json:"consumer_group"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	Reason        string     `json:"reason"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReplayedAt    *time.Time `json:"replayed_at,omitempty"`
}

type ReplayResponse struct {
	ID       string `json:"id"`
	Replayed bool   `json:"replayed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
