// Package idempotency turns at-least-once delivery into effectively-once
// business effects. A consumer claims a (consumerID, dedupKey) pair before
// doing any work; exactly one concurrent claimant wins, the rest observe a
// duplicate. A claim is completed with the stored result summary on success
// or released on failure so redelivery can reprocess.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
)

// Record statuses.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// ErrDuplicate means the (consumerID, dedupKey) pair was already claimed:
// either another consumer is processing it right now or it completed within
// the retention window.
var ErrDuplicate = errors.New("duplicate delivery")

// Record is the stored shape of a processed (consumerID, dedupKey) pair.
type Record struct {
	ConsumerID    string    `json:"consumer_id"`
	DedupKey      string    `json:"dedup_key"`
	Status        string    `json:"status"`
	ResultSummary string    `json:"result_summary,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Store claims and records dedup keys against the shared document store.
//
// Completed records expire after the retention window; a duplicate arriving
// later is processed as a new event. The window must therefore exceed the
// maximum plausible redelivery delay — that residual risk is accepted and
// configured, not hidden.
type Store struct {
	docs      docstore.Store
	retention time.Duration
	claimTTL  time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a Store. retention bounds how long completed records are
// kept; claimTTL bounds how long an in-progress claim can outlive a crashed
// consumer before redelivery may reprocess the event.
func NewStore(docs docstore.Store, retention, claimTTL time.Duration) *Store {
	return &Store{
		docs:      docs,
		retention: retention,
		claimTTL:  claimTTL,
		nowFunc:   time.Now,
	}
}

func key(consumerID, dedupKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", consumerID, dedupKey)
}

// Begin atomically claims the pair. On success the caller must finish the
// claim with Done or Release. Returns ErrDuplicate when the pair is already
// claimed or completed.
func (s *Store) Begin(ctx context.Context, consumerID, dedupKey string) (*Claim, error) {
	rec := Record{
		ConsumerID:  consumerID,
		DedupKey:    dedupKey,
		Status:      StatusInProgress,
		ProcessedAt: s.nowFunc().UTC(),
	}

	err := s.docs.Insert(ctx, key(consumerID, dedupKey), rec, s.claimTTL)
	if errors.Is(err, docstore.ErrExists) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: claim %s/%s: %w", consumerID, dedupKey, err)
	}

	return &Claim{store: s, record: rec}, nil
}

// Lookup returns the stored record for the pair, or docstore.ErrNotFound.
// Used to surface the prior result of a suppressed duplicate.
func (s *Store) Lookup(ctx context.Context, consumerID, dedupKey string) (*Record, error) {
	var rec Record
	if err := s.docs.Get(ctx, key(consumerID, dedupKey), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Claim is an in-progress claim on a dedup key.
type Claim struct {
	store  *Store
	record Record
}

// Done marks the claim completed and extends it to the retention window.
func (c *Claim) Done(ctx context.Context, resultSummary string) error {
	rec := c.record
	rec.Status = StatusDone
	rec.ResultSummary = resultSummary
	rec.ProcessedAt = c.store.nowFunc().UTC()

	if err := c.store.docs.Set(ctx, key(rec.ConsumerID, rec.DedupKey), rec, c.store.retention); err != nil {
		return fmt.Errorf("idempotency: complete %s/%s: %w", rec.ConsumerID, rec.DedupKey, err)
	}
	return nil
}

// Release abandons the claim so a redelivery is processed as fresh. Called
// when the handler failed without applying its business effect.
func (c *Claim) Release(ctx context.Context) error {
	rec := c.record
	if err := c.store.docs.Delete(ctx, key(rec.ConsumerID, rec.DedupKey)); err != nil {
		return fmt.Errorf("idempotency: release %s/%s: %w", rec.ConsumerID, rec.DedupKey, err)
	}
	return nil
}
