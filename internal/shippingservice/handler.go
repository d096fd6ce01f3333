// Package shippingservice consumes payment.authorized and runs the final
// forward step: schedule fulfillment and publish order.shipped.
package shippingservice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// Scheduler books a shipment for an order. Keyed by order id: booking the
// same order twice returns the original shipment id.
type Scheduler struct {
	mu        sync.Mutex
	shipments map[string]string
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{shipments: make(map[string]string)}
}

// Schedule books the shipment and returns its id.
func (s *Scheduler) Schedule(orderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.shipments[orderID]; ok {
		return id
	}
	id := uuid.NewString()
	s.shipments[orderID] = id
	return id
}

// Handler consumes payment.authorized.
type Handler struct {
	exec      *choreo.Executor
	scheduler *Scheduler
}

// NewHandler wires the shipping event handler.
func NewHandler(exec *choreo.Executor, scheduler *Scheduler) *Handler {
	return &Handler{exec: exec, scheduler: scheduler}
}

// Handle dispatches by decoded payload type; payment.failed on the same
// topic is not a shipping concern and is acked untouched.
func (h *Handler) Handle(ctx context.Context, env *event.Envelope, payload any) (string, error) {
	p, ok := payload.(*event.PaymentAuthorized)
	if !ok {
		return "ignored", nil
	}

	return h.exec.Run(ctx, env, func(ctx context.Context, st *saga.State) (choreo.Outcome, error) {
		shipmentID := h.scheduler.Schedule(p.OrderID)
		slog.InfoContext(ctx, "shipment scheduled",
			"order_id", p.OrderID, "shipment_id", shipmentID)

		return choreo.Outcome{
			Status: saga.StatusShipped,
			Event:  event.TypeOrderShipped,
			Payload: event.OrderShipped{
				OrderID:    p.OrderID,
				ShipmentID: shipmentID,
			},
			Result: "shipped " + shipmentID,
		}, nil
	})
}
