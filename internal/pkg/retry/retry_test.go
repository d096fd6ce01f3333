package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

func TestScheduleBounds(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

	schedule := p.Schedule()
	require.Len(t, schedule, 4)

	caps := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond, // capped at MaxDelay
	}
	for i, d := range schedule {
		assert.GreaterOrEqual(t, d, caps[i]/2, "delay %d below jitter floor", i)
		assert.Less(t, d, caps[i], "delay %d above cap", i)
	}
}

func TestScheduleSingleAttempt(t *testing.T) {
	assert.Empty(t, Policy{MaxAttempts: 1}.Schedule())
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoNonTransientFailsImmediately(t *testing.T) {
	declined := errors.New("card declined")
	calls := 0
	err := Do(context.Background(), testPolicy, func(ctx context.Context) error {
		calls++
		return declined
	})
	assert.ErrorIs(t, err, declined)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	timeout := Transient(errors.New("timeout"))
	calls := 0
	err := Do(context.Background(), testPolicy, func(ctx context.Context) error {
		calls++
		return timeout
	})
	require.Error(t, err)
	assert.Equal(t, testPolicy.MaxAttempts, calls)
	assert.True(t, IsTransient(err))
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(ctx context.Context) error {
			calls++
			return Transient(errors.New("timeout"))
		})
	}()

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestTransientMarker(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsTransient(Transient(base)), "marker survives wrapping")
	assert.ErrorIs(t, Transient(base), base)
	assert.Nil(t, Transient(nil))
}
