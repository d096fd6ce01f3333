package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// MemoryLog is an in-process Log with the same contract as RedisLog:
// per-partition ordering, consumer-group offsets, redelivery of unacked
// messages on resubscribe. It backs unit and choreography tests.
type MemoryLog struct {
	partitions int

	mu      sync.Mutex
	streams map[string][][]*event.Envelope // topic -> partition -> entries
	commits map[string]int                 // topic|group|partition -> committed count
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog(partitions int) *MemoryLog {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryLog{
		partitions: partitions,
		streams:    make(map[string][][]*event.Envelope),
		commits:    make(map[string]int),
	}
}

func commitKey(topic, group string, partition int) string {
	return fmt.Sprintf("%s|%s|%d", topic, group, partition)
}

func (l *MemoryLog) topicStreams(topic string) [][]*event.Envelope {
	if l.streams[topic] == nil {
		l.streams[topic] = make([][]*event.Envelope, l.partitions)
	}
	return l.streams[topic]
}

// Publish appends to the partition selected by partitionKey.
func (l *MemoryLog) Publish(ctx context.Context, topic, partitionKey string, env *event.Envelope) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := partitionFor(partitionKey, l.partitions)
	streams := l.topicStreams(topic)
	streams[p] = append(streams[p], env)
	return fmt.Sprintf("%d-%d", p, len(streams[p])-1), nil
}

// Subscribe starts one poller per partition, resuming each from the group's
// committed offset so unacked messages are redelivered.
func (l *MemoryLog) Subscribe(ctx context.Context, topic, group string) (<-chan Message, error) {
	out := make(chan Message)

	var wg sync.WaitGroup
	for p := 0; p < l.partitions; p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			l.pollPartition(ctx, topic, group, partition, out)
		}(p)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (l *MemoryLog) pollPartition(ctx context.Context, topic, group string, partition int, out chan<- Message) {
	key := commitKey(topic, group, partition)
	next := l.committed(key)

	for {
		env := l.entryAt(topic, partition, next)
		if env == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}

		offset := next
		msg := Message{
			Envelope:  env,
			Topic:     topic,
			Partition: partition,
			Offset:    fmt.Sprintf("%d-%d", partition, offset),
			ack: func(ctx context.Context) error {
				l.commit(key, offset+1)
				return nil
			},
		}

		select {
		case <-ctx.Done():
			return
		case out <- msg:
		}
		next++
	}
}

func (l *MemoryLog) committed(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits[key]
}

func (l *MemoryLog) commit(key string, offset int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset > l.commits[key] {
		l.commits[key] = offset
	}
}

func (l *MemoryLog) entryAt(topic string, partition, index int) *event.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams := l.topicStreams(topic)
	if index >= len(streams[partition]) {
		return nil
	}
	return streams[partition][index]
}
