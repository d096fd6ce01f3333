// Package paymentservice authorizes payments when stock is reserved. The
// provider call sits behind a capability port wrapped in a circuit breaker
// and a bounded retry schedule; a decline and retry exhaustion both resolve
// into payment.failed, never into a wedged partition.
package paymentservice

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Authorization is the provider's answer.
type Authorization struct {
	// PaymentID is set on approval.
	PaymentID string
	// Declined is a domain rejection (limit exceeded, card refused); it is
	// final and never retried.
	Declined bool
	Reason   string
}

// Authorizer is the payment provider capability port. Transient provider
// failures are returned as errors marked retry.Transient.
type Authorizer interface {
	Authorize(ctx context.Context, orderID string, amount float64) (Authorization, error)
}

// StubAuthorizer approves everything up to a configured limit, keyed by
// order id so a repeated authorization for the same order returns the
// original payment id instead of charging twice.
type StubAuthorizer struct {
	limit float64

	mu       sync.Mutex
	payments map[string]string
}

// NewStubAuthorizer returns a stub declining amounts above limit.
func NewStubAuthorizer(limit float64) *StubAuthorizer {
	return &StubAuthorizer{
		limit:    limit,
		payments: make(map[string]string),
	}
}

func (a *StubAuthorizer) Authorize(_ context.Context, orderID string, amount float64) (Authorization, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.payments[orderID]; ok {
		return Authorization{PaymentID: id}, nil
	}

	if amount > a.limit {
		return Authorization{Declined: true, Reason: "amount exceeds authorization limit"}, nil
	}

	id := uuid.NewString()
	a.payments[orderID] = id
	return Authorization{PaymentID: id}, nil
}
