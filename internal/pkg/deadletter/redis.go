package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	entryKeyPrefix = "dlq:entry:"
	indexKey       = "dlq:index"
)

// RedisStore keeps dead letters in the shared redis instance: one document
// per entry plus a list index for newest-first browsing.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Quarantine(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry %s: %w", entry.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKeyPrefix+entry.ID, raw, 0)
	pipe.LPush(ctx, indexKey, entry.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deadletter: quarantine %s: %w", entry.ID, err)
	}

	slog.WarnContext(ctx, "message dead-lettered",
		"dead_letter_id", entry.ID,
		"event_id", entry.Envelope.EventID,
		"event_type", entry.Envelope.EventType,
		"topic", entry.Topic,
		"group", entry.ConsumerGroup,
		"reason", entry.Reason,
		"attempts", entry.AttemptCount,
		"last_error", entry.LastError,
	)
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.LRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter: list: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Entry, error) {
	raw, err := s.client.Get(ctx, entryKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deadletter: get %s: %w", id, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("deadletter: unmarshal %s: %w", id, err)
	}
	return &entry, nil
}

func (s *RedisStore) MarkReplayed(ctx context.Context, id string) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.ReplayedAt = &now

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry %s: %w", id, err)
	}
	if err := s.client.Set(ctx, entryKeyPrefix+id, raw, 0).Err(); err != nil {
		return fmt.Errorf("deadletter: mark replayed %s: %w", id, err)
	}
	return nil
}
