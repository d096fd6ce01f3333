package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
)

// Repository persists saga state in the shared document store, keyed by
// order id. All writes are guarded: Create is a conditional insert and Save
// is a versioned compare-and-set.
type Repository interface {
	// Create inserts a fresh record; ErrVersionConflict if one exists.
	Create(ctx context.Context, state *State) error
	// Get loads the record; ErrNotFound if the saga has not started.
	Get(ctx context.Context, orderID string) (*State, error)
	// Save writes the record only if the stored version still equals
	// expectedVersion; ErrVersionConflict otherwise.
	Save(ctx context.Context, state *State, expectedVersion int64) error
}

// StoreRepository implements Repository on a docstore.
type StoreRepository struct {
	docs docstore.Store
}

// NewRepository returns a document-store-backed Repository.
func NewRepository(docs docstore.Store) *StoreRepository {
	return &StoreRepository{docs: docs}
}

func stateKey(orderID string) string {
	return "saga:" + orderID
}

func (r *StoreRepository) Create(ctx context.Context, state *State) error {
	err := r.docs.Insert(ctx, stateKey(state.OrderID), state, 0)
	if errors.Is(err, docstore.ErrExists) {
		return fmt.Errorf("%w: saga %s already started", ErrVersionConflict, state.OrderID)
	}
	if err != nil {
		return fmt.Errorf("saga: create %s: %w", state.OrderID, err)
	}
	return nil
}

func (r *StoreRepository) Get(ctx context.Context, orderID string) (*State, error) {
	var state State
	err := r.docs.Get(ctx, stateKey(orderID), &state)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("saga: get %s: %w", orderID, err)
	}
	return &state, nil
}

func (r *StoreRepository) Save(ctx context.Context, state *State, expectedVersion int64) error {
	err := r.docs.Update(ctx, stateKey(state.OrderID), expectedVersion, state)
	switch {
	case errors.Is(err, docstore.ErrConflict):
		return fmt.Errorf("%w: saga %s moved past version %d", ErrVersionConflict, state.OrderID, expectedVersion)
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, state.OrderID)
	case err != nil:
		return fmt.Errorf("saga: save %s: %w", state.OrderID, err)
	}
	return nil
}
