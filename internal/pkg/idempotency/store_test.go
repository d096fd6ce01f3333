package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(docstore.New(client, ""), 48*time.Hour, 2*time.Minute), mr
}

func TestBeginClaimsExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	claim, err := store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
	require.NotNil(t, claim)

	_, err = store.Begin(ctx, "payment-service", "evt-1")
	assert.ErrorIs(t, err, ErrDuplicate)

	// A different consumer group has its own dedup space.
	_, err = store.Begin(ctx, "shipping-service", "evt-1")
	require.NoError(t, err)
}

func TestConcurrentBeginSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	const claimants = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Begin(ctx, "inventory-service", "evt-7"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
}

func TestDoneStoresResultSummary(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	claim, err := store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
	require.NoError(t, claim.Done(ctx, "published payment.authorized"))

	_, err = store.Begin(ctx, "payment-service", "evt-1")
	assert.ErrorIs(t, err, ErrDuplicate)

	rec, err := store.Lookup(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, "published payment.authorized", rec.ResultSummary)
}

func TestReleaseAllowsReprocessing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	claim, err := store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
	require.NoError(t, claim.Release(ctx))

	// Redelivery is fresh again.
	_, err = store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
}

func TestAbandonedClaimExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)

	// Consumer crashed between claim and completion; after the claim TTL
	// the partition is not wedged.
	mr.FastForward(3 * time.Minute)

	_, err = store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
}

func TestCompletedRecordExpiresAfterRetention(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	claim, err := store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
	require.NoError(t, claim.Done(ctx, "ok"))

	mr.FastForward(49 * time.Hour)

	// Past the retention window the duplicate is treated as new. This is
	// the documented residual risk, not a bug.
	_, err = store.Begin(ctx, "payment-service", "evt-1")
	require.NoError(t, err)
}
