package orderservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// publishRetry bounds the retry of the order.created publish before intake
// gives up and surfaces the failure to the client.
var publishRetry = retry.Policy{
	MaxAttempts: 3,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// ErrNotFound means no order document exists for the id.
var ErrNotFound = errors.New("order not found")

func orderKey(id string) string {
	return "order:" + id
}

// Service creates orders and projects saga outcomes onto them.
type Service struct {
	docs  docstore.Store
	sagas saga.Repository
	pub   eventlog.Publisher
}

// NewService wires the order service.
func NewService(docs docstore.Store, sagas saga.Repository, pub eventlog.Publisher) *Service {
	return &Service{docs: docs, sagas: sagas, pub: pub}
}

// Create persists the order and its saga record, then publishes
// order.created to start the choreography. The order document and the saga
// record exist before the event is visible, so no consumer can observe the
// event ahead of the state it references.
func (s *Service) Create(ctx context.Context, customerID string, items []event.OrderItem) (*Order, error) {
	now := time.Now().UTC()
	order := &Order{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: Total(items),
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.docs.Insert(ctx, orderKey(order.ID), order, 0); err != nil {
		return nil, fmt.Errorf("orderservice: persist order %s: %w", order.ID, err)
	}
	if err := s.sagas.Create(ctx, saga.NewState(order.ID)); err != nil {
		return nil, fmt.Errorf("orderservice: bootstrap saga %s: %w", order.ID, err)
	}

	env, err := event.New(event.TypeOrderCreated, order.ID, event.OrderCreated{
		OrderID:     order.ID,
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: order.TotalAmount,
	})
	if err != nil {
		return nil, err
	}
	err = retry.Do(ctx, publishRetry, func(ctx context.Context) error {
		_, err := s.pub.Publish(ctx, event.TopicOrders, order.ID, env)
		return retry.Transient(err)
	})
	if err != nil {
		return nil, fmt.Errorf("orderservice: publish order.created for %s: %w", order.ID, err)
	}

	slog.InfoContext(ctx, "order created",
		"order_id", order.ID, "customer_id", customerID,
		"total", order.TotalAmount, "correlation_id", env.CorrelationID)
	return order, nil
}

// Get loads the order document.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	var order Order
	err := s.docs.Get(ctx, orderKey(id), &order)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// update applies mutate under the read model's version guard, re-reading on
// conflict. Projections from different topics land concurrently; the loop
// keeps them all.
func (s *Service) update(ctx context.Context, id string, mutate func(*Order)) error {
	for attempt := 0; attempt < 5; attempt++ {
		var order Order
		if err := s.docs.Get(ctx, orderKey(id), &order); err != nil {
			return err
		}

		expected := order.Version
		mutate(&order)
		order.Version++
		order.UpdatedAt = time.Now().UTC()

		err := s.docs.Update(ctx, orderKey(id), expected, &order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("orderservice: update %s: %w", id, docstore.ErrConflict)
}

// markCancelled settles the order on the compensating branch. The first
// reason recorded wins; later projections never erase it.
func (s *Service) markCancelled(ctx context.Context, id, reason string) error {
	return s.update(ctx, id, func(o *Order) {
		o.Status = StatusCancelled
		if o.Reason == "" {
			o.Reason = reason
		}
	})
}

// recordFailureReason stashes why the saga is compensating before the
// cancellation settles.
func (s *Service) recordFailureReason(ctx context.Context, id, reason string) error {
	return s.update(ctx, id, func(o *Order) {
		if o.Reason == "" {
			o.Reason = reason
		}
	})
}

// markShipped settles the order on the happy path.
func (s *Service) markShipped(ctx context.Context, id, shipmentID string) error {
	return s.update(ctx, id, func(o *Order) {
		o.Status = StatusShipped
		o.ShipmentID = shipmentID
	})
}
