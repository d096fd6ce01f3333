package choreo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/inventoryservice"
	"github.com/jcmexdev/ecommerce-choreography/internal/orderservice"
	"github.com/jcmexdev/ecommerce-choreography/internal/paymentservice"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/breaker"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/consumer"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/deadletter"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/idempotency"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
	"github.com/jcmexdev/ecommerce-choreography/internal/sagalog"
	"github.com/jcmexdev/ecommerce-choreography/internal/shippingservice"
)

// world wires all four services over one in-memory log and one redis, the
// way a deployment would, and runs their consumer loops.
type world struct {
	svc    *orderservice.Service
	sagas  saga.Repository
	ledger *inventoryservice.Ledger
}

func startWorld(t *testing.T, stock map[string]int, authLimit float64) *world {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	docs := docstore.New(client, "")
	log := eventlog.NewMemoryLog(4)
	sagas := saga.NewRepository(docs)
	letters := deadletter.NewRedisStore(client)
	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	newExec := func() *choreo.Executor {
		return choreo.NewExecutor(sagas, sagalog.Nop{}, log)
	}
	newLoop := func(group string, topics []string, h consumer.Handler) *consumer.Loop {
		return consumer.New(consumer.Config{
			Group:    group,
			Topics:   topics,
			Log:      log,
			Registry: event.DefaultRegistry(),
			Idem:     idempotency.NewStore(docs, time.Hour, time.Minute),
			DLQ:      letters,
			Policy:   policy,
			Handler:  h,
		})
	}

	svc := orderservice.NewService(docs, sagas, log)
	ledger := inventoryservice.NewLedger(stock)
	brk := breaker.New(breaker.Settings{Name: "payment-provider", FailureThreshold: 5, Window: time.Minute, Cooldown: time.Minute})

	loops := []*consumer.Loop{
		newLoop("order-service",
			[]string{event.TopicInventory, event.TopicPayments, event.TopicShipping},
			orderservice.NewEventHandler(svc, newExec())),
		newLoop("inventory-service",
			[]string{event.TopicOrders, event.TopicPayments},
			inventoryservice.NewHandler(newExec(), ledger)),
		newLoop("payment-service",
			[]string{event.TopicOrders, event.TopicInventory},
			paymentservice.NewHandler(newExec(), docs, paymentservice.NewStubAuthorizer(authLimit), brk, policy)),
		newLoop("shipping-service",
			[]string{event.TopicPayments},
			shippingservice.NewHandler(newExec(), shippingservice.NewScheduler())),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, len(loops))
	for _, loop := range loops {
		go func(l *consumer.Loop) {
			_ = l.Run(ctx)
			done <- struct{}{}
		}(loop)
	}
	t.Cleanup(func() {
		cancel()
		for range loops {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("consumer loop did not drain")
			}
		}
	})

	return &world{svc: svc, sagas: sagas, ledger: ledger}
}

func (w *world) order(t *testing.T, items []event.OrderItem) *orderservice.Order {
	t.Helper()
	order, err := w.svc.Create(context.Background(), "cust-1", items)
	require.NoError(t, err)
	return order
}

func (w *world) waitForStatus(t *testing.T, orderID string, want orderservice.Status) *orderservice.Order {
	t.Helper()
	var got *orderservice.Order
	require.Eventually(t, func() bool {
		order, err := w.svc.Get(context.Background(), orderID)
		if err != nil {
			return false
		}
		got = order
		return order.Status == want
	}, 10*time.Second, 10*time.Millisecond, "order never reached %s", want)
	return got
}

func TestHappyPathShipsOrder(t *testing.T) {
	w := startWorld(t, map[string]int{"sku-1": 10}, 500)
	order := w.order(t, []event.OrderItem{{SKU: "sku-1", Quantity: 2, UnitPrice: 10}})

	got := w.waitForStatus(t, order.ID, orderservice.StatusShipped)
	assert.NotEmpty(t, got.ShipmentID)
	assert.Equal(t, 8, w.ledger.Available("sku-1"))

	st, err := w.sagas.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusShipped, st.Status)
	assert.NotEmpty(t, st.Compensation.PaymentID)
}

// Payment declined after a successful reservation: the compensating branch
// must restore the exact reserved quantity and cancel the order.
func TestPaymentFailureRestoresStock(t *testing.T) {
	w := startWorld(t, map[string]int{"sku-1": 10}, 500)
	order := w.order(t, []event.OrderItem{{SKU: "sku-1", Quantity: 2, UnitPrice: 400}})

	got := w.waitForStatus(t, order.ID, orderservice.StatusCancelled)
	assert.Contains(t, got.Reason, "limit")
	assert.Equal(t, 10, w.ledger.Available("sku-1"))

	st, err := w.sagas.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCancelled, st.Status)
	assert.Empty(t, st.Compensation.ReservationID)
}

func TestInsufficientStockCancelsOrder(t *testing.T) {
	w := startWorld(t, map[string]int{"sku-1": 1}, 500)
	order := w.order(t, []event.OrderItem{{SKU: "sku-1", Quantity: 5, UnitPrice: 10}})

	got := w.waitForStatus(t, order.ID, orderservice.StatusCancelled)
	assert.Contains(t, got.Reason, "insufficient stock")
	assert.Equal(t, 1, w.ledger.Available("sku-1"))

	st, err := w.sagas.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCancelled, st.Status)
}

func TestConcurrentOrdersSettleIndependently(t *testing.T) {
	w := startWorld(t, map[string]int{"sku-1": 10}, 500)

	shippable := w.order(t, []event.OrderItem{{SKU: "sku-1", Quantity: 2, UnitPrice: 10}})
	declined := w.order(t, []event.OrderItem{{SKU: "sku-1", Quantity: 2, UnitPrice: 400}})

	w.waitForStatus(t, shippable.ID, orderservice.StatusShipped)
	w.waitForStatus(t, declined.ID, orderservice.StatusCancelled)

	// Shipped order keeps its reservation, declined order returned its own.
	assert.Equal(t, 8, w.ledger.Available("sku-1"))
}
