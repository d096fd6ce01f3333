// Package consumer implements the per-service event consumption loop:
// decode → idempotency claim → handle → classify → commit.
//
// The loop turns at-least-once delivery into effectively-once business
// effects and guarantees the partition never wedges: every message ends in
// exactly one of {applied, suppressed duplicate, discarded stale, dead
// lettered}, and its offset is committed afterwards.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/deadletter"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/idempotency"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// Handler applies one decoded event. Implementations publish follow-up
// events themselves and report domain rejections as published failure
// events, not errors. The returned string is a short result summary stored
// with the idempotency record.
//
// Error contract: retry.Transient for infra failures worth retrying,
// saga.ErrOutOfOrder / saga.ErrVersionConflict to defer against fresh state,
// saga.ErrStaleEvent to discard; anything else is irrecoverable and is dead
// lettered without retry.
type Handler interface {
	Handle(ctx context.Context, env *event.Envelope, payload any) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *event.Envelope, payload any) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, env *event.Envelope, payload any) (string, error) {
	return f(ctx, env, payload)
}

// Loop is one service's consumption loop over one or more topics.
type Loop struct {
	group    string
	topics   []string
	log      eventlog.Consumer
	registry *event.Registry
	idem     *idempotency.Store
	dlq      deadletter.Store
	policy   retry.Policy
	handler  Handler

	// handleTimeout bounds one message's processing including its retry
	// schedule; a downstream call hanging past it is abandoned and counted
	// as a failure, not left dangling.
	handleTimeout time.Duration

	tracer trace.Tracer
}

// Config wires a Loop.
type Config struct {
	// Group is the consumer group name and doubles as the idempotency
	// consumer id.
	Group    string
	Topics   []string
	Log      eventlog.Consumer
	Registry *event.Registry
	Idem     *idempotency.Store
	DLQ      deadletter.Store
	Policy   retry.Policy
	Handler  Handler
	// HandleTimeout defaults to 30s.
	HandleTimeout time.Duration
}

// New returns a Loop.
func New(cfg Config) *Loop {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 30 * time.Second
	}
	return &Loop{
		group:         cfg.Group,
		topics:        cfg.Topics,
		log:           cfg.Log,
		registry:      cfg.Registry,
		idem:          cfg.Idem,
		dlq:           cfg.DLQ,
		policy:        cfg.Policy,
		handler:       cfg.Handler,
		handleTimeout: cfg.HandleTimeout,
		tracer:        otel.Tracer("consumer"),
	}
}

// Run consumes until ctx is cancelled. Cancellation drains gracefully: no
// new messages are pulled, the in-flight message finishes and commits, then
// Run returns.
func (l *Loop) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, topic := range l.topics {
		ch, err := l.log.Subscribe(ctx, topic, l.group)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func(topic string, ch <-chan eventlog.Message) {
			defer wg.Done()
			for msg := range ch {
				// Detach from the run context so cancellation lets the
				// in-flight message reach its commit point; the timeout
				// still bounds it.
				procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.handleTimeout)
				l.process(procCtx, msg)
				cancel()
			}
		}(topic, ch)
	}

	wg.Wait()
	return ctx.Err()
}

// errSuppressed marks outcomes that need no further action beyond commit.
var errSuppressed = errors.New("suppressed")

func (l *Loop) process(ctx context.Context, msg eventlog.Message) {
	env := msg.Envelope
	ctx, span := l.tracer.Start(ctx, "consume "+string(env.EventType),
		trace.WithAttributes(
			attribute.String("messaging.event_id", env.EventID),
			attribute.String("messaging.partition_key", env.PartitionKey),
			attribute.String("messaging.consumer_group", l.group),
		))
	defer span.End()

	payload, err := l.registry.Decode(env)
	if err != nil {
		// Malformed or unversioned envelopes are never retried.
		slog.ErrorContext(ctx, "schema validation failed, dead-lettering",
			"event_id", env.EventID, "event_type", env.EventType, "error", err)
		if l.quarantine(ctx, msg, deadletter.ReasonSchema, 1, err) {
			l.commit(ctx, msg)
		}
		return
	}

	attempts := 0
	err = retry.Do(ctx, l.policy, func(ctx context.Context) error {
		attempts++
		return l.attempt(ctx, env, payload)
	})

	switch {
	case err == nil:
		// Applied, or discarded as stale inside attempt.
	case errors.Is(err, errSuppressed):
		slog.InfoContext(ctx, "duplicate delivery suppressed",
			"event_id", env.EventID, "event_type", env.EventType, "order_id", env.PartitionKey)
	default:
		if !l.quarantine(ctx, msg, reasonFor(err), attempts, err) {
			return
		}
	}

	l.commit(ctx, msg)
}

// attempt is one claim-handle-complete cycle. Deferrable conditions come
// back marked transient so the retry schedule replays them against fresh
// state.
func (l *Loop) attempt(ctx context.Context, env *event.Envelope, payload any) error {
	claim, err := l.idem.Begin(ctx, l.group, env.EventID)
	if errors.Is(err, idempotency.ErrDuplicate) {
		return errSuppressed
	}
	if err != nil {
		return retry.Transient(err)
	}

	result, err := l.handler.Handle(ctx, env, payload)
	switch {
	case err == nil:
		if err := claim.Done(ctx, result); err != nil {
			// The effect is applied; a redelivery past the claim TTL
			// would reprocess, and the handler's own guards absorb that.
			slog.WarnContext(ctx, "failed to complete idempotency claim",
				"event_id", env.EventID, "error", err)
		}
		return nil

	case errors.Is(err, saga.ErrStaleEvent):
		// Replay artifact: record and move on without side effects.
		slog.InfoContext(ctx, "stale event discarded",
			"event_id", env.EventID, "event_type", env.EventType,
			"order_id", env.PartitionKey, "detail", err)
		if err := claim.Done(ctx, "discarded stale event"); err != nil {
			slog.WarnContext(ctx, "failed to complete idempotency claim",
				"event_id", env.EventID, "error", err)
		}
		return nil

	default:
		l.release(ctx, claim, env)
		if errors.Is(err, saga.ErrOutOfOrder) || errors.Is(err, saga.ErrVersionConflict) {
			return retry.Transient(err)
		}
		return err
	}
}

func (l *Loop) release(ctx context.Context, claim *idempotency.Claim, env *event.Envelope) {
	if err := claim.Release(ctx); err != nil {
		// The claim TTL is the backstop.
		slog.WarnContext(ctx, "failed to release idempotency claim",
			"event_id", env.EventID, "error", err)
	}
}

func (l *Loop) quarantine(ctx context.Context, msg eventlog.Message, reason string, attempts int, cause error) bool {
	entry := deadletter.New(msg.Envelope, msg.Topic, l.group, reason, attempts, cause)
	if err := l.dlq.Quarantine(ctx, entry); err != nil {
		// Keep the offset uncommitted: losing the message silently is the
		// one outcome this path must never produce.
		slog.ErrorContext(ctx, "failed to write dead letter, leaving offset uncommitted",
			"event_id", msg.Envelope.EventID, "error", err)
		return false
	}
	return true
}

func (l *Loop) commit(ctx context.Context, msg eventlog.Message) {
	if err := msg.Ack(ctx); err != nil {
		// At-least-once: the redelivery will be suppressed as a duplicate.
		slog.WarnContext(ctx, "offset commit failed",
			"event_id", msg.Envelope.EventID, "offset", msg.Offset, "error", err)
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, saga.ErrOutOfOrder), errors.Is(err, saga.ErrVersionConflict):
		return deadletter.ReasonDeferExhausted
	case retry.IsTransient(err):
		return deadletter.ReasonRetryExhausted
	default:
		return deadletter.ReasonHandlerError
	}
}
