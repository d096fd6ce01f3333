// Package inventoryservice owns the stock ledger and the saga steps that act
// on it: reserving stock when an order is created and releasing it when the
// payment branch fails.
package inventoryservice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// ErrInsufficientStock is a domain rejection: the order asked for more than
// is available. It routes the saga down the compensating branch; it is never
// retried or dead-lettered.
var ErrInsufficientStock = errors.New("insufficient stock")

// Reservation is stock taken out of the pool for one order.
type Reservation struct {
	ID      string
	OrderID string
	Items   []event.ReservedItem
}

// Ledger is the in-memory stock pool. Reservations are keyed by order id,
// which makes both Reserve and Release naturally idempotent: redoing either
// for the same order is a no-op with the original result.
type Ledger struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]*Reservation
}

// NewLedger seeds the ledger with initial stock per SKU.
func NewLedger(stock map[string]int) *Ledger {
	owned := make(map[string]int, len(stock))
	for sku, qty := range stock {
		owned[sku] = qty
	}
	return &Ledger{
		stock:        owned,
		reservations: make(map[string]*Reservation),
	}
}

// Reserve takes the requested quantities out of stock atomically: either
// every line is reserved or nothing is. A repeated call for an order that
// already holds a reservation returns the original reservation unchanged.
func (l *Ledger) Reserve(orderID string, items []event.OrderItem) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.reservations[orderID]; ok {
		return existing, nil
	}

	for _, item := range items {
		available, ok := l.stock[item.SKU]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sku %s", ErrInsufficientStock, item.SKU)
		}
		if available < item.Quantity {
			return nil, fmt.Errorf("%w: sku %s has %d, requested %d",
				ErrInsufficientStock, item.SKU, available, item.Quantity)
		}
	}

	reserved := make([]event.ReservedItem, 0, len(items))
	for _, item := range items {
		l.stock[item.SKU] -= item.Quantity
		reserved = append(reserved, event.ReservedItem{SKU: item.SKU, Quantity: item.Quantity})
	}

	r := &Reservation{
		ID:      uuid.NewString(),
		OrderID: orderID,
		Items:   reserved,
	}
	l.reservations[orderID] = r
	return r, nil
}

// Release returns an order's reservation to stock. Releasing an order that
// holds no reservation is a no-op reporting ok=false; the compensating
// branch runs even when the reservation never happened or was already undone.
func (l *Ledger) Release(orderID string) (*Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[orderID]
	if !ok {
		return nil, false
	}

	for _, item := range r.Items {
		l.stock[item.SKU] += item.Quantity
	}
	delete(l.reservations, orderID)
	return r, true
}

// Available reports the current unreserved quantity for a SKU.
func (l *Ledger) Available(sku string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[sku]
}
