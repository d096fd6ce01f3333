// Package deadletter quarantines messages after automatic recovery ends:
// retry exhaustion, schema mismatch, or a deferred transition that never
// became applicable. Entries keep the original envelope plus failure context
// so an operator (or tooling) can inspect and replay them; nothing is
// silently dropped.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// Quarantine reasons.
const (
	ReasonSchema         = "schema"
	ReasonRetryExhausted = "retry_exhausted"
	ReasonDeferExhausted = "defer_exhausted"
	ReasonHandlerError   = "handler_error"
)

// ErrNotFound means no dead-letter entry has the given id.
var ErrNotFound = errors.New("dead-letter entry not found")

// Entry is one quarantined message.
type Entry struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	PartitionKey  string          `json:"partition_key"`
	ConsumerGroup string          `json:"consumer_group"`
	Envelope      *event.Envelope `json:"envelope"`
	Reason        string          `json:"reason"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ReplayedAt    *time.Time      `json:"replayed_at,omitempty"`
}

// New builds an entry for the given envelope and failure context.
func New(env *event.Envelope, topic, group, reason string, attempts int, lastErr error) *Entry {
	e := &Entry{
		ID:            uuid.NewString(),
		Topic:         topic,
		PartitionKey:  env.PartitionKey,
		ConsumerGroup: group,
		Envelope:      env,
		Reason:        reason,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
	if lastErr != nil {
		e.LastError = lastErr.Error()
	}
	return e
}

// Store persists and lists quarantined entries.
type Store interface {
	// Quarantine writes the entry. The caller commits the original offset
	// afterwards so the partition keeps flowing.
	Quarantine(ctx context.Context, entry *Entry) error
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]*Entry, error)
	// Get loads one entry by id.
	Get(ctx context.Context, id string) (*Entry, error)
	// MarkReplayed stamps the entry after a successful replay.
	MarkReplayed(ctx context.Context, id string) error
}
