package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/eventlog"
)

// Replayer re-publishes a quarantined envelope to its original topic so the
// regular consumption path reprocesses it. Idempotency keys make a replay of
// an already-applied effect harmless.
type Replayer struct {
	store Store
	pub   eventlog.Publisher
}

// NewReplayer returns a Replayer.
func NewReplayer(store Store, pub eventlog.Publisher) *Replayer {
	return &Replayer{store: store, pub: pub}
}

// Replay publishes the entry's envelope back to its topic and marks the
// entry replayed.
func (r *Replayer) Replay(ctx context.Context, id string) error {
	entry, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	offset, err := r.pub.Publish(ctx, entry.Topic, entry.PartitionKey, entry.Envelope)
	if err != nil {
		return fmt.Errorf("deadletter: replay %s: %w", id, err)
	}
	if err := r.store.MarkReplayed(ctx, id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "dead letter replayed",
		"dead_letter_id", id,
		"event_id", entry.Envelope.EventID,
		"topic", entry.Topic,
		"offset", offset,
	)
	return nil
}
