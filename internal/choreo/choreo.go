// Package choreo executes one choreography step against the shared saga
// record: apply the begin transition, perform the service's side effect,
// record the outcome transition, publish the follow-up event.
//
// Every consumer runs its steps through the same Executor so the write
// discipline is uniform: the begin transition is saved before the side
// effect, the outcome is saved before its event is published, and both
// writes go through the optimistic version guard.
package choreo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
	"github.com/jcmexdev/ecommerce-choreography/internal/sagalog"
)

// publishRetry bounds the in-place retry of a follow-up publish. Exhaustion
// propagates as transient so the consumer's own schedule keeps retrying; a
// replay after that resumes the step and republishes.
var publishRetry = retry.Policy{
	MaxAttempts: 3,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// Outcome is what a side effect resolved to: the status the step completes
// into, an optional follow-up event, and a short result summary for the
// idempotency record.
type Outcome struct {
	Status saga.Status

	// Event and Payload describe the follow-up publication; a zero Event
	// means the step publishes nothing.
	Event   event.Type
	Payload any

	// Mutate, when set, adjusts the record before the outcome write. Used
	// to stash compensation context (reservation id, payment id).
	Mutate func(st *saga.State)

	Result string
}

// Effect is a service's side effect for one step. It runs after the begin
// transition is durable. A returned error aborts the step before the outcome
// write; the record stays in the working status and a redelivery resumes the
// step.
type Effect func(ctx context.Context, st *saga.State) (Outcome, error)

// Executor runs steps for one service.
type Executor struct {
	repo  saga.Repository
	audit sagalog.Recorder
	pub   eventlog.Publisher
}

// NewExecutor wires an Executor. audit may be sagalog.Nop{}.
func NewExecutor(repo saga.Repository, audit sagalog.Recorder, pub eventlog.Publisher) *Executor {
	return &Executor{repo: repo, audit: audit, pub: pub}
}

// Run executes the step the envelope's event type begins.
//
// A record that does not exist yet means the event outran the saga bootstrap
// write: ErrOutOfOrder, deferred by the caller. A redelivery of an event
// whose begin transition is already durable resumes the step instead of being
// discarded: the side effect reruns (effects are idempotent), an outcome that
// is already recorded is not written twice, and the follow-up event is
// published again. That covers both a crash before the outcome write and a
// crash between the outcome write and the publish.
func (x *Executor) Run(ctx context.Context, env *event.Envelope, effect Effect) (string, error) {
	st, err := x.repo.Get(ctx, env.PartitionKey)
	if errors.Is(err, saga.ErrNotFound) {
		return "", fmt.Errorf("%w: record for %s not created yet", saga.ErrOutOfOrder, env.PartitionKey)
	}
	if err != nil {
		return "", err
	}

	from := st.Status
	readVersion := st.Version

	switch err := st.ApplyEvent(env.EventType, env.EventID); {
	case err == nil:
		if err := x.repo.Save(ctx, st, readVersion); err != nil {
			return "", err
		}
		x.record(ctx, env, from, st)

	case errors.Is(err, saga.ErrStaleEvent) && x.resumable(st, env):
		slog.InfoContext(ctx, "resuming in-flight step",
			"order_id", st.OrderID, "event_id", env.EventID, "status", st.Status)

	default:
		return "", err
	}

	out, err := effect(ctx, st)
	if err != nil {
		return "", err
	}

	if out.Status != "" && st.Status != out.Status {
		if out.Mutate != nil {
			out.Mutate(st)
		}
		from = st.Status
		outcomeVersion := st.Version
		if err := st.Complete(out.Status); err != nil {
			return "", err
		}
		if err := x.repo.Save(ctx, st, outcomeVersion); err != nil {
			return "", err
		}
		x.record(ctx, env, from, st)
	}

	if out.Event != "" {
		next, err := event.Follow(env, out.Event, out.Payload)
		if err != nil {
			return "", err
		}
		err = retry.Do(ctx, publishRetry, func(ctx context.Context) error {
			_, err := x.pub.Publish(ctx, out.Event.Topic(), next.PartitionKey, next)
			return retry.Transient(err)
		})
		if err != nil {
			return "", fmt.Errorf("choreo: publish %s for %s: %w", out.Event, st.OrderID, err)
		}
	}

	return out.Result, nil
}

// resumable reports whether the stale classification is actually a redelivery
// of the event that began the current step: its id is in the history and the
// record still sits inside that step, either in the working status (the
// outcome write never happened) or in an outcome status (the follow-up
// publish may not have happened). A record that moved past the step is
// genuinely stale.
func (x *Executor) resumable(st *saga.State, env *event.Envelope) bool {
	if !saga.InStep(env.EventType, st.Status) {
		return false
	}
	return slices.Contains(st.History, env.EventID)
}

// record appends to the audit log. The log is diagnostic; a write failure is
// logged, never fails the step.
func (x *Executor) record(ctx context.Context, env *event.Envelope, from saga.Status, st *saga.State) {
	tr := sagalog.NewTransition(ctx, st.OrderID, env.EventID, string(env.EventType), from, st.Status, st.Version)
	if err := x.audit.Record(ctx, tr); err != nil {
		slog.WarnContext(ctx, "audit log write failed",
			"order_id", st.OrderID, "event_id", env.EventID, "error", err)
	}
}
