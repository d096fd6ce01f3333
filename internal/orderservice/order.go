// Package orderservice owns the order intake API and the order read model.
// It bootstraps each saga (persist the order and the saga record, publish
// order.created) and projects the saga's terminal events back onto the order
// so clients can poll a single document.
package orderservice

import (
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// Status of an order as exposed to clients. Coarser than the saga status:
// clients see pending, shipped, or cancelled.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

// Order is the read model document, stored per order id.
type Order struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	Items       []event.OrderItem `json:"items"`
	TotalAmount float64           `json:"total_amount"`

	Status Status `json:"status"`
	// Reason explains a cancellation (stock rejection, payment failure).
	Reason string `json:"reason,omitempty"`
	// ShipmentID is set once the order ships.
	ShipmentID string `json:"shipment_id,omitempty"`

	// Version guards concurrent projection writes from different topics.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total sums the line subtotals.
func Total(items []event.OrderItem) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}
