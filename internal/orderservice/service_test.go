package orderservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

type fixture struct {
	docs  docstore.Store
	sagas saga.Repository
	log   *eventlog.MemoryLog
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	docs := docstore.New(client, "")
	sagas := saga.NewRepository(docs)
	log := eventlog.NewMemoryLog(2)
	return &fixture{
		docs:  docs,
		sagas: sagas,
		log:   log,
		svc:   NewService(docs, sagas, log),
	}
}

var testItems = []event.OrderItem{
	{SKU: "sku-1", Quantity: 2, UnitPrice: 10},
	{SKU: "sku-2", Quantity: 1, UnitPrice: 5.5},
}

func TestCreateBootstrapsSagaAndPublishes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	order, err := fx.svc.Create(ctx, "cust-1", testItems)
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, StatusPending, order.Status)
	assert.InDelta(t, 25.5, order.TotalAmount, 0.001)

	// Saga record exists before the event is observable.
	st, err := fx.sagas.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCreated, st.Status)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := fx.log.Subscribe(subCtx, event.TopicOrders, "test-observer")
	require.NoError(t, err)
	select {
	case msg := <-ch:
		assert.Equal(t, event.TypeOrderCreated, msg.Envelope.EventType)
		assert.Equal(t, order.ID, msg.Envelope.PartitionKey)
	case <-time.After(2 * time.Second):
		t.Fatal("order.created never published")
	}
}

// flakyPublisher fails the first n publishes, then delegates.
type flakyPublisher struct {
	*eventlog.MemoryLog
	failures int
}

func (p *flakyPublisher) Publish(ctx context.Context, topic, key string, env *event.Envelope) (string, error) {
	if p.failures > 0 {
		p.failures--
		return "", errors.New("broker unavailable")
	}
	return p.MemoryLog.Publish(ctx, topic, key, env)
}

func TestCreateRetriesFailedPublish(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	svc := NewService(fx.docs, fx.sagas, &flakyPublisher{MemoryLog: fx.log, failures: 1})

	order, err := svc.Create(ctx, "cust-1", testItems)
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := fx.log.Subscribe(subCtx, event.TopicOrders, "test-observer")
	require.NoError(t, err)
	select {
	case msg := <-ch:
		assert.Equal(t, order.ID, msg.Envelope.PartitionKey)
	case <-time.After(2 * time.Second):
		t.Fatal("order.created never published despite retry budget")
	}
}

func TestGetMissingOrder(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkShipped(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	order, err := fx.svc.Create(ctx, "cust-1", testItems)
	require.NoError(t, err)

	require.NoError(t, fx.svc.markShipped(ctx, order.ID, "ship-1"))

	got, err := fx.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, got.Status)
	assert.Equal(t, "ship-1", got.ShipmentID)
	assert.Greater(t, got.Version, order.Version)
}

func TestCancellationKeepsFirstReason(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	order, err := fx.svc.Create(ctx, "cust-1", testItems)
	require.NoError(t, err)

	require.NoError(t, fx.svc.recordFailureReason(ctx, order.ID, "card declined"))
	require.NoError(t, fx.svc.markCancelled(ctx, order.ID, "payment failed"))

	got, err := fx.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "card declined", got.Reason)
}

func TestEventHandlerProjections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	handler := NewEventHandler(fx.svc, nil)

	order, err := fx.svc.Create(ctx, "cust-1", testItems)
	require.NoError(t, err)

	shipped := &event.OrderShipped{OrderID: order.ID, ShipmentID: "ship-1"}
	env, err := event.New(event.TypeOrderShipped, order.ID, shipped)
	require.NoError(t, err)

	result, err := handler.Handle(ctx, env, shipped)
	require.NoError(t, err)
	assert.Equal(t, "order shipped", result)

	got, err := fx.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, got.Status)
}

func TestEventHandlerDefersUnknownOrder(t *testing.T) {
	fx := newFixture(t)
	handler := NewEventHandler(fx.svc, nil)

	shipped := &event.OrderShipped{OrderID: "ghost", ShipmentID: "ship-1"}
	env, err := event.New(event.TypeOrderShipped, "ghost", shipped)
	require.NoError(t, err)

	_, err = handler.Handle(context.Background(), env, shipped)
	assert.ErrorIs(t, err, saga.ErrOutOfOrder)
}
