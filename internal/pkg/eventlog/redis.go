package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

const envelopeField = "envelope"

// RedisLog implements Log on redis streams. A topic with N partitions is the
// stream set "topic:p0".."topic:p<N-1>"; consumer groups map directly onto
// redis consumer groups, one per service.
type RedisLog struct {
	client     *redis.Client
	partitions int

	// reconnectBase is the first delay after a broker error; it doubles up
	// to reconnectMax while the broker stays unreachable.
	reconnectBase time.Duration
	reconnectMax  time.Duration

	// claimMinIdle is how long a pending entry must sit under another
	// consumer name before a subscriber claims it as orphaned.
	claimMinIdle time.Duration
}

// NewRedisLog returns a RedisLog. partitions must match across all services
// or partition assignment diverges.
func NewRedisLog(client *redis.Client, partitions int) *RedisLog {
	if partitions <= 0 {
		partitions = 1
	}
	return &RedisLog{
		client:        client,
		partitions:    partitions,
		reconnectBase: 200 * time.Millisecond,
		reconnectMax:  10 * time.Second,
		claimMinIdle:  30 * time.Second,
	}
}

func streamName(topic string, partition int) string {
	return fmt.Sprintf("%s:p%d", topic, partition)
}

// consumerName must be stable across restarts of the same instance so the
// replacement drains its predecessor's pending entries. Entries parked under
// a name that never comes back (the host itself was replaced) are picked up
// by reclaimOrphans.
func consumerName(group string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", group, host)
}

// Publish appends the envelope to the partition selected by partitionKey and
// returns the stream entry id as the offset.
func (l *RedisLog) Publish(ctx context.Context, topic, partitionKey string, env *event.Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("eventlog: marshal envelope %s: %w", env.EventID, err)
	}

	stream := streamName(topic, partitionFor(partitionKey, l.partitions))
	offset, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{envelopeField: raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("eventlog: publish to %s: %w", stream, err)
	}
	return offset, nil
}

// Subscribe starts one reader per partition. Each reader first drains the
// group's pending entries (delivered before a crash but never acked), then
// tails new entries. Broker errors suspend the reader with exponential
// backoff until the connection recovers.
func (l *RedisLog) Subscribe(ctx context.Context, topic, group string) (<-chan Message, error) {
	for p := 0; p < l.partitions; p++ {
		stream := streamName(topic, p)
		err := l.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("eventlog: create group %s on %s: %w", group, stream, err)
		}
	}

	out := make(chan Message)
	consumerName := consumerName(group)

	var wg sync.WaitGroup
	for p := 0; p < l.partitions; p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			l.readPartition(ctx, topic, group, consumerName, partition, out)
		}(p)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (l *RedisLog) readPartition(ctx context.Context, topic, group, consumer string, partition int, out chan<- Message) {
	stream := streamName(topic, partition)
	backoff := l.reconnectBase

	l.reclaimOrphans(ctx, stream, group, consumer)

	// "0" replays this consumer's pending entries once, then ">" tails.
	cursor := "0"

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    16,
			Block:    5 * time.Second,
		}).Result()

		switch {
		case err == redis.Nil:
			backoff = l.reconnectBase
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "event log read failed, backing off",
				"stream", stream, "group", group, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > l.reconnectMax {
				backoff = l.reconnectMax
			}
			continue
		}
		backoff = l.reconnectBase

		delivered := 0
		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				if cursor != ">" {
					// Resume after this pending entry instead of
					// re-reading it while its ack is still in flight.
					cursor = entry.ID
				}
				msg, ok := l.toMessage(ctx, topic, group, partition, entry)
				if !ok {
					continue
				}
				delivered++
				select {
				case <-ctx.Done():
					return
				case out <- msg:
				}
			}
		}

		// Pending backlog drained; switch to tailing new entries.
		if cursor != ">" && delivered == 0 {
			cursor = ">"
		}
	}
}

// reclaimOrphans moves entries parked under other consumer names into this
// consumer's pending list so the initial drain redelivers them. Without it,
// an entry delivered to an instance that died under a name that never
// returns (the host was replaced) would stay pending forever and its saga
// would never finish. The idle threshold keeps live consumers' in-flight
// entries untouched.
func (l *RedisLog) reclaimOrphans(ctx context.Context, stream, group, consumer string) {
	pending, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Consumer != consumer {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	claimed, err := l.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  l.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		slog.WarnContext(ctx, "failed to claim orphaned pending entries",
			"stream", stream, "group", group, "error", err)
		return
	}
	if len(claimed) > 0 {
		slog.InfoContext(ctx, "claimed orphaned pending entries",
			"stream", stream, "group", group, "count", len(claimed))
	}
}

// toMessage decodes a stream entry. An entry whose outer envelope JSON does
// not parse is transport corruption, not a schema problem: it is acked and
// logged so the partition keeps flowing.
func (l *RedisLog) toMessage(ctx context.Context, topic, group string, partition int, entry redis.XMessage) (Message, bool) {
	stream := streamName(topic, partition)

	raw, ok := entry.Values[envelopeField].(string)
	if !ok {
		slog.ErrorContext(ctx, "stream entry without envelope field, discarding",
			"stream", stream, "offset", entry.ID)
		_ = l.client.XAck(ctx, stream, group, entry.ID).Err()
		return Message{}, false
	}

	var env event.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.ErrorContext(ctx, "corrupt envelope in stream, discarding",
			"stream", stream, "offset", entry.ID, "error", err)
		_ = l.client.XAck(ctx, stream, group, entry.ID).Err()
		return Message{}, false
	}

	return Message{
		Envelope:  &env,
		Topic:     topic,
		Partition: partition,
		Offset:    entry.ID,
		ack: func(ctx context.Context) error {
			return l.client.XAck(ctx, stream, group, entry.ID).Err()
		},
	}, true
}
