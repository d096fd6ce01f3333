package inventoryservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// Handler consumes order.created (reserve stock) and payment.failed
// (release the reservation) and advances the shared saga record through the
// step executor.
type Handler struct {
	exec   *choreo.Executor
	ledger *Ledger
}

// NewHandler wires the inventory event handler.
func NewHandler(exec *choreo.Executor, ledger *Ledger) *Handler {
	return &Handler{exec: exec, ledger: ledger}
}

// Handle dispatches by decoded payload type. Events on subscribed topics
// that carry no inventory step are acked untouched.
func (h *Handler) Handle(ctx context.Context, env *event.Envelope, payload any) (string, error) {
	switch p := payload.(type) {
	case *event.OrderCreated:
		return h.reserve(ctx, env, p)
	case *event.PaymentFailed:
		return h.release(ctx, env, p)
	default:
		return "ignored", nil
	}
}

// reserve runs the InventoryReserving step. Insufficient stock is a domain
// rejection, not an error: the step completes into the failed status and
// publishes inventory.reservation_failed.
func (h *Handler) reserve(ctx context.Context, env *event.Envelope, p *event.OrderCreated) (string, error) {
	return h.exec.Run(ctx, env, func(ctx context.Context, st *saga.State) (choreo.Outcome, error) {
		r, err := h.ledger.Reserve(p.OrderID, p.Items)
		if errors.Is(err, ErrInsufficientStock) {
			slog.InfoContext(ctx, "reservation rejected",
				"order_id", p.OrderID, "reason", err.Error())
			return choreo.Outcome{
				Status: saga.StatusInventoryReservationFailed,
				Event:  event.TypeInventoryReservationFailed,
				Payload: event.InventoryReservationFailed{
					OrderID: p.OrderID,
					Reason:  err.Error(),
				},
				Result: "reservation rejected",
			}, nil
		}
		if err != nil {
			return choreo.Outcome{}, err
		}

		slog.InfoContext(ctx, "stock reserved",
			"order_id", p.OrderID, "reservation_id", r.ID, "lines", len(r.Items))
		return choreo.Outcome{
			Status: saga.StatusInventoryReserved,
			Event:  event.TypeInventoryReserved,
			Payload: event.InventoryReserved{
				OrderID:       p.OrderID,
				ReservationID: r.ID,
				Items:         r.Items,
			},
			Mutate: func(st *saga.State) {
				st.Compensation.ReservationID = r.ID
				st.Compensation.ReservedItems = r.Items
			},
			Result: fmt.Sprintf("reserved %s", r.ID),
		}, nil
	})
}

// release runs the InventoryReleasing step of the compensating branch. It is
// safe when no reservation exists: the saga still completes into Cancelled
// and inventory.released is still published so the order read model settles.
func (h *Handler) release(ctx context.Context, env *event.Envelope, p *event.PaymentFailed) (string, error) {
	return h.exec.Run(ctx, env, func(ctx context.Context, st *saga.State) (choreo.Outcome, error) {
		r, released := h.ledger.Release(p.OrderID)

		out := event.InventoryReleased{OrderID: p.OrderID}
		if released {
			out.ReservationID = r.ID
			out.Items = r.Items
			slog.InfoContext(ctx, "reservation released",
				"order_id", p.OrderID, "reservation_id", r.ID)
		} else {
			slog.InfoContext(ctx, "nothing to release", "order_id", p.OrderID)
		}

		return choreo.Outcome{
			Status:  saga.StatusCancelled,
			Event:   event.TypeInventoryReleased,
			Payload: out,
			Mutate: func(st *saga.State) {
				st.Compensation.ReservationID = ""
				st.Compensation.ReservedItems = nil
			},
			Result: "released",
		}, nil
	})
}
