// Package breaker implements a per-dependency circuit breaker. A breaker in
// the Closed state lets calls through and counts consecutive failures inside
// a rolling window; crossing the threshold opens it for a cool-down during
// which calls fail fast without touching the network. After the cool-down a
// bounded number of half-open probes decide whether it closes again.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned without attempting the call while the breaker is open
// or its half-open probe budget is spent. It is transient: a later retry may
// find the breaker closed again.
var ErrOpen = retry.Transient(errors.New("circuit breaker open"))

// Settings tunes a breaker.
type Settings struct {
	// Name identifies the guarded dependency in logs.
	Name string
	// FailureThreshold is the number of consecutive failures within Window
	// that opens the breaker.
	FailureThreshold int
	// Window is the rolling window for counting failures.
	Window time.Duration
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the half-open probe budget.
	Probes int
	// OnStateChange, when set, observes every transition. Called outside
	// the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// Breaker guards one downstream dependency. Safe for concurrent use.
type Breaker struct {
	settings Settings
	nowFunc  func() time.Time

	mu         sync.Mutex
	state      State
	failures   []time.Time
	openedAt   time.Time
	probesUsed int
}

// New returns a closed breaker.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Probes <= 0 {
		settings.Probes = 1
	}
	return &Breaker{settings: settings, nowFunc: time.Now}
}

// State returns the current state, applying a pending open→half-open
// transition if the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.nowFunc().Sub(b.openedAt) >= b.settings.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Do runs fn if the breaker admits the call and records the outcome.
// When the call is rejected, fn is never invoked and ErrOpen is returned.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.nowFunc().Sub(b.openedAt) < b.settings.Cooldown {
			return false
		}
		b.transition(HalfOpen)
		b.probesUsed = 1
		return true
	case HalfOpen:
		if b.probesUsed >= b.settings.Probes {
			return false
		}
		b.probesUsed++
		return true
	}
	return false
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()

	switch b.state {
	case HalfOpen:
		if err != nil {
			b.openedAt = now
			b.transition(Open)
			return
		}
		b.failures = b.failures[:0]
		b.transition(Closed)

	case Closed:
		if err == nil {
			b.failures = b.failures[:0]
			return
		}
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.settings.FailureThreshold {
			b.openedAt = now
			b.transition(Open)
		}
	}
}

// prune drops failures that fell out of the rolling window.
func (b *Breaker) prune(now time.Time) {
	if b.settings.Window <= 0 {
		return
	}
	cutoff := now.Add(-b.settings.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if hook := b.settings.OnStateChange; hook != nil {
		go hook(b.settings.Name, from, to)
	}
}
