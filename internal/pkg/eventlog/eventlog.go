// Package eventlog abstracts the ordered, partitioned event log the services
// choreograph over. Publishing with the same partition key lands in the same
// partition and preserves publish order within that key; consumer groups get
// at-least-once delivery resuming from the last committed offset.
package eventlog

import (
	"context"
	"hash/fnv"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// Message is one delivered envelope plus its commit handle.
type Message struct {
	Envelope  *event.Envelope
	Topic     string
	Partition int
	// Offset is the broker-assigned position within the partition.
	Offset string

	ack func(ctx context.Context) error
}

// Ack commits the message's offset. After Ack the message is never
// redelivered to this consumer group.
func (m *Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Publisher appends envelopes to a topic.
type Publisher interface {
	// Publish returns the assigned offset. A failure after an
	// acknowledgment timeout is the caller's to retry; nothing is dropped
	// silently here.
	Publish(ctx context.Context, topic string, partitionKey string, env *event.Envelope) (string, error)
}

// Consumer subscribes a consumer group to a topic.
type Consumer interface {
	// Subscribe delivers messages on the returned channel until ctx is
	// cancelled, at which point the channel is closed. Unacked messages
	// are redelivered on the next Subscribe. Within one partition,
	// delivery follows publish order.
	Subscribe(ctx context.Context, topic, group string) (<-chan Message, error)
}

// Log combines both sides; every implementation here provides both.
type Log interface {
	Publisher
	Consumer
}

// partitionFor assigns a partition by FNV-1a hash of the partition key, so
// every event of one order lands in the same partition on every topic.
func partitionFor(key string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}
