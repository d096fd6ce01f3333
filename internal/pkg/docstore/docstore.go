// Package docstore provides key-based document access over redis: conditional
// insert, read, unconditional write, and a versioned compare-and-set. These
// are the only storage primitives the saga engine needs; querying and
// indexing belong to the read-model side and are out of scope here.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = errors.New("document already exists")
	// ErrNotFound is returned by Get and Update when the key is absent.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Update when the stored version moved.
	// Callers re-read and retry with fresh state.
	ErrConflict = errors.New("version conflict")
)

// Store is the document access contract shared by the saga repository, the
// idempotency store, and the dead-letter store.
type Store interface {
	// Insert writes the document only if key is absent.
	Insert(ctx context.Context, key string, doc any, ttl time.Duration) error
	// Get reads the document into out.
	Get(ctx context.Context, key string, out any) error
	// Set writes the document unconditionally.
	Set(ctx context.Context, key string, doc any, ttl time.Duration) error
	// Update replaces the document only if the stored copy still carries
	// expectedVersion in its "version" field. This is the optimistic
	// concurrency guard for single-writer-per-key records.
	Update(ctx context.Context, key string, expectedVersion int64, doc any) error
	// Delete removes the document. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Redis implements Store on a redis client. Keys are namespaced with the
// service-agnostic prefix passed to New, mirroring how every consumer of the
// shared instance keeps out of the others' keyspace.
type Redis struct {
	client *redis.Client
	prefix string
}

// New returns a Redis-backed store. prefix may be empty.
func New(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// key applies the namespace prefix. Every method goes through it, so two
// stores on the same redis with different prefixes never collide.
func (s *Redis) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *Redis) Insert(ctx context.Context, key string, doc any, ttl time.Duration) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: marshal %q: %w", key, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(key), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("docstore: insert %q: %w", key, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, key string, out any) error {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("docstore: get %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("docstore: unmarshal %q: %w", key, err)
	}
	return nil
}

func (s *Redis) Set(ctx context.Context, key string, doc any, ttl time.Duration) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: marshal %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("docstore: set %q: %w", key, err)
	}
	return nil
}

// versionProbe extracts the version field of a stored document without
// decoding the rest of it.
type versionProbe struct {
	Version int64 `json:"version"`
}

func (s *Redis) Update(ctx context.Context, key string, expectedVersion int64, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: marshal %q: %w", key, err)
	}

	namespaced := s.key(key)
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, namespaced).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var probe versionProbe
		if err := json.Unmarshal(current, &probe); err != nil {
			return fmt.Errorf("docstore: unmarshal version of %q: %w", key, err)
		}
		if probe.Version != expectedVersion {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, namespaced, raw, redis.KeepTTL)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, namespaced)
	if err == redis.TxFailedErr {
		// Someone wrote between our read and the EXEC; same outcome as a
		// version mismatch.
		return ErrConflict
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("docstore: update %q: %w", key, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("docstore: delete %q: %w", key, err)
	}
	return nil
}
