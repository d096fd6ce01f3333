package saga

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
)

func newTestRepository(t *testing.T) *StoreRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRepository(docstore.New(client, ""))
}

func TestCreateAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, NewState("order-1")))

	got, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, got.Status)
	assert.EqualValues(t, 1, got.Version)

	err = repo.Create(ctx, NewState("order-1"))
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestGetMissingSaga(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Get(context.Background(), "order-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsStaleWriter(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, NewState("order-1")))

	// Two services read the same version; only the first write wins.
	a, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)

	readVersion := a.Version
	require.NoError(t, a.ApplyEvent(event.TypeOrderCreated, "e1"))
	require.NoError(t, repo.Save(ctx, a, readVersion))

	require.NoError(t, b.ApplyEvent(event.TypeOrderCreated, "e1"))
	err = repo.Save(ctx, b, readVersion)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The loser re-reads and sees the winner's transition.
	fresh, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInventoryReserving, fresh.Status)
	assert.Contains(t, fresh.History, "e1")
}

func TestSaveMissingSaga(t *testing.T) {
	repo := newTestRepository(t)

	s := NewState("order-ghost")
	err := repo.Save(context.Background(), s, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
