package paymentservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/breaker"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// orderRecord is the payment service's local projection of order.created:
// just enough to know what to authorize. inventory.reserved does not repeat
// the total, so the service builds its own view from the orders topic.
type orderRecord struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

func orderKey(orderID string) string {
	return "payment:order:" + orderID
}

// Handler consumes order.created (project the amount) and
// inventory.reserved (run the PaymentAuthorizing step).
type Handler struct {
	exec       *choreo.Executor
	docs       docstore.Store
	authorizer Authorizer
	brk        *breaker.Breaker
	policy     retry.Policy
}

// NewHandler wires the payment event handler. The breaker guards the
// provider; the policy bounds the in-step retry of transient provider
// failures.
func NewHandler(exec *choreo.Executor, docs docstore.Store, authorizer Authorizer, brk *breaker.Breaker, policy retry.Policy) *Handler {
	return &Handler{exec: exec, docs: docs, authorizer: authorizer, brk: brk, policy: policy}
}

// Handle dispatches by decoded payload type; other events on the subscribed
// topics are acked untouched.
func (h *Handler) Handle(ctx context.Context, env *event.Envelope, payload any) (string, error) {
	switch p := payload.(type) {
	case *event.OrderCreated:
		return h.project(ctx, p)
	case *event.InventoryReserved:
		return h.authorize(ctx, env, p)
	default:
		return "ignored", nil
	}
}

// project stores the order amount. An existing record is left alone: the
// projection is immutable, so a redelivery is a no-op.
func (h *Handler) project(ctx context.Context, p *event.OrderCreated) (string, error) {
	rec := orderRecord{OrderID: p.OrderID, Amount: p.TotalAmount}
	err := h.docs.Insert(ctx, orderKey(p.OrderID), rec, 0)
	if err != nil && !errors.Is(err, docstore.ErrExists) {
		return "", retry.Transient(err)
	}
	return "order projected", nil
}

// authorize runs the PaymentAuthorizing step. Three resolutions:
//
//   - approved: payment.authorized, payment id into compensation context;
//   - declined: payment.failed (domain rejection, no retries);
//   - provider unreachable past the retry budget (breaker open included):
//     payment.failed with the exhaustion reason, so the saga compensates
//     instead of the partition waiting on the provider.
//
// The orders and inventory topics carry no cross-topic ordering guarantee,
// so a reservation may arrive before its order projection; that reads as
// ErrOutOfOrder and the consumer defers it.
func (h *Handler) authorize(ctx context.Context, env *event.Envelope, p *event.InventoryReserved) (string, error) {
	return h.exec.Run(ctx, env, func(ctx context.Context, st *saga.State) (choreo.Outcome, error) {
		var rec orderRecord
		if err := h.docs.Get(ctx, orderKey(p.OrderID), &rec); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return choreo.Outcome{}, fmt.Errorf("%w: order %s not projected yet", saga.ErrOutOfOrder, p.OrderID)
			}
			return choreo.Outcome{}, retry.Transient(err)
		}

		var auth Authorization
		err := retry.Do(ctx, h.policy, func(ctx context.Context) error {
			return h.brk.Do(ctx, func(ctx context.Context) error {
				var callErr error
				auth, callErr = h.authorizer.Authorize(ctx, p.OrderID, rec.Amount)
				return callErr
			})
		})

		switch {
		case err != nil:
			slog.WarnContext(ctx, "authorization abandoned",
				"order_id", p.OrderID, "breaker", h.brk.State().String(), "error", err)
			return failedOutcome(p.OrderID, fmt.Sprintf("provider unavailable: %v", err)), nil

		case auth.Declined:
			slog.InfoContext(ctx, "authorization declined",
				"order_id", p.OrderID, "reason", auth.Reason)
			return failedOutcome(p.OrderID, auth.Reason), nil
		}

		slog.InfoContext(ctx, "payment authorized",
			"order_id", p.OrderID, "payment_id", auth.PaymentID, "amount", rec.Amount)
		return choreo.Outcome{
			Status: saga.StatusPaymentAuthorized,
			Event:  event.TypePaymentAuthorized,
			Payload: event.PaymentAuthorized{
				OrderID:   p.OrderID,
				PaymentID: auth.PaymentID,
				Amount:    rec.Amount,
			},
			Mutate: func(st *saga.State) {
				st.Compensation.PaymentID = auth.PaymentID
			},
			Result: "authorized " + auth.PaymentID,
		}, nil
	})
}

func failedOutcome(orderID, reason string) choreo.Outcome {
	return choreo.Outcome{
		Status:  saga.StatusPaymentFailed,
		Event:   event.TypePaymentFailed,
		Payload: event.PaymentFailed{OrderID: orderID, Reason: reason},
		Result:  "payment failed",
	}
}
