package event

// OrderItem is a line of an order as submitted by the customer.
type OrderItem struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// ReservedItem captures what was actually taken from stock, so compensation
// knows exactly what to put back.
type ReservedItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderCreated starts a saga instance. Published by the order service.
type OrderCreated struct {
	OrderID     string      `json:"order_id"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
}

// InventoryReserved reports a successful stock reservation. The reservation
// id and item list are the compensation context for a later release.
type InventoryReserved struct {
	OrderID       string         `json:"order_id"`
	ReservationID string         `json:"reservation_id"`
	Items         []ReservedItem `json:"items"`
}

// InventoryReservationFailed is a domain rejection, not an error: stock was
// insufficient and the saga takes the compensating branch.
type InventoryReservationFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// InventoryReleased confirms a reservation was undone.
type InventoryReleased struct {
	OrderID       string         `json:"order_id"`
	ReservationID string         `json:"reservation_id,omitempty"`
	Items         []ReservedItem `json:"items"`
}

// PaymentAuthorized reports a successful authorization. The payment id is
// kept in the saga's compensation context for a potential void.
type PaymentAuthorized struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

// PaymentFailed covers both a decline and retry exhaustion against the
// payment provider; Reason distinguishes them for operators.
type PaymentFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderShipped is the terminal success event of the saga.
type OrderShipped struct {
	OrderID    string `json:"order_id"`
	ShipmentID string `json:"shipment_id"`
}
