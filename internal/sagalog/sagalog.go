// Package sagalog records every applied saga transition in a durable,
// append-only audit log, one per service.
//
// The log serves two purposes:
//
//  1. Observability: querying it shows exactly which transitions a service
//     applied for an order, correlated with the distributed trace via the
//     trace_id column.
//
//  2. Forensics after recovery: the shared saga record keeps only current
//     state plus event-id history; the log keeps who moved it, from where,
//     and when.
package sagalog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// Transition is one applied state change.
type Transition struct {
	// OrderID is the saga's business identifier.
	OrderID string

	// EventID is the event whose handling caused this transition. Outcome
	// transitions carry the id of the event that started the step.
	EventID string

	EventType string

	FromStatus saga.Status
	ToStatus   saga.Status

	// Version is the saga record version after the transition.
	Version int64

	// TraceID and SpanID are the W3C identifiers of the OTel span active
	// while the transition was applied; empty when no span was recording.
	TraceID string
	SpanID  string

	RecordedAt time.Time
}

// Recorder is the port the consumers write transitions through. Implemented
// by the sqlite repository; a nil-safe no-op keeps tests light.
type Recorder interface {
	Record(ctx context.Context, tr *Transition) error
}

// NewTransition builds a Transition with trace identifiers extracted from
// the active span in ctx.
func NewTransition(ctx context.Context, orderID, eventID, eventType string, from, to saga.Status, version int64) *Transition {
	tr := &Transition{
		OrderID:    orderID,
		EventID:    eventID,
		EventType:  eventType,
		FromStatus: from,
		ToStatus:   to,
		Version:    version,
		RecordedAt: time.Now().UTC(),
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		tr.TraceID = sc.TraceID().String()
		tr.SpanID = sc.SpanID().String()
	}
	return tr
}

// Nop is a Recorder that discards transitions.
type Nop struct{}

func (Nop) Record(context.Context, *Transition) error { return nil }
