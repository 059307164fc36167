package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/logging"
)

func seed(t *testing.T, m *MemoryLedger, storeID, id string, qty int) {
	t.Helper()
	require.NoError(t, m.CreateListing(context.Background(), &Listing{
		ID:       id,
		StoreID:  storeID,
		Name:     id,
		Price:    decimal.NewFromInt(5),
		Quantity: qty,
		IsActive: true,
	}))
}

func quantity(t *testing.T, m *MemoryLedger, id string) int {
	t.Helper()
	l, err := m.GetListing(context.Background(), id)
	require.NoError(t, err)
	return l.Quantity
}

func TestNoOverselling(t *testing.T) {
	for _, attempts := range []int{20, 45} {
		m := NewMemoryLedger(logging.Discard())
		seed(t, m, "s1", "hot", 20)

		var ok, short int64
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := m.ReserveAndCommit(context.Background(), Cuts{"s1": {"hot": 1}})
				switch {
				case err == nil:
					atomic.AddInt64(&ok, 1)
				case errors.Is(err, apperr.ErrInsufficientStock):
					atomic.AddInt64(&short, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 20, ok)
		assert.EqualValues(t, attempts-20, short)
		assert.Equal(t, 0, quantity(t, m, "hot"))
	}
}

func TestReservationIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(logging.Discard())
	seed(t, m, "s1", "A", 10)
	seed(t, m, "s1", "B", 1)

	err := m.ReserveAndCommit(ctx, Cuts{"s1": {"A": 2, "B": 5}})
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	var short *apperr.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "B", short.ListingID)
	assert.Equal(t, 5, short.Requested)
	assert.Equal(t, 1, short.Available)

	assert.Equal(t, 10, quantity(t, m, "A"))
	assert.Equal(t, 1, quantity(t, m, "B"))
}

func TestReservationAcrossStores(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(logging.Discard())
	seed(t, m, "s1", "a1", 3)
	seed(t, m, "s2", "b1", 3)

	require.NoError(t, m.ReserveAndCommit(ctx, Cuts{"s1": {"a1": 2}, "s2": {"b1": 3}}))
	assert.Equal(t, 1, quantity(t, m, "a1"))
	assert.Equal(t, 0, quantity(t, m, "b1"))

	err := m.ReserveAndCommit(ctx, Cuts{"s2": {"a1": 1}})
	assert.ErrorIs(t, err, apperr.ErrListingNotFound, "listing is filed under another store")

	err = m.ReserveAndCommit(ctx, Cuts{"s1": {"ghost": 1}})
	assert.ErrorIs(t, err, apperr.ErrListingNotFound)

	err = m.ReserveAndCommit(ctx, Cuts{"s1": {"a1": 0}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.ErrorIs(t, m.ReserveAndCommit(ctx, Cuts{}), apperr.ErrInvalidArgument)
}

func TestReleaseAndRestock(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(logging.Discard())
	seed(t, m, "s1", "A", 4)
	seed(t, m, "s1", "B", 4)

	cuts := Cuts{"s1": {"A": 3, "B": 1}}
	require.NoError(t, m.ReserveAndCommit(ctx, cuts))
	require.NoError(t, m.Release(ctx, cuts))
	assert.Equal(t, 4, quantity(t, m, "A"))
	assert.Equal(t, 4, quantity(t, m, "B"))

	require.NoError(t, m.ReserveAndCommit(ctx, cuts))
	require.NoError(t, m.DeleteListing(ctx, "B"))
	require.NoError(t, m.Release(ctx, cuts), "release tolerates deleted listings")
	assert.Equal(t, 4, quantity(t, m, "A"))

	require.NoError(t, m.Restock(ctx, "A", 6))
	assert.Equal(t, 10, quantity(t, m, "A"))
	assert.ErrorIs(t, m.Restock(ctx, "A", 0), apperr.ErrInvalidArgument)
	assert.ErrorIs(t, m.Restock(ctx, "B", 1), apperr.ErrListingNotFound)
}

func TestClosedStoreListingsCannotBeReserved(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(logging.Discard())
	seed(t, m, "s1", "A", 4)
	seed(t, m, "s2", "B", 4)

	require.NoError(t, m.SetStoreActive(ctx, "s1", false))
	err := m.ReserveAndCommit(ctx, Cuts{"s1": {"A": 1}, "s2": {"B": 1}})
	assert.ErrorIs(t, err, apperr.ErrStoreClosed)
	assert.Equal(t, 4, quantity(t, m, "B"))

	require.NoError(t, m.SetStoreActive(ctx, "s1", true))
	assert.NoError(t, m.ReserveAndCommit(ctx, Cuts{"s1": {"A": 1}}))
}

func TestOverlappingReservationsDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(logging.Discard())
	seed(t, m, "s1", "A", 1000)
	seed(t, m, "s1", "B", 1000)
	seed(t, m, "s2", "C", 1000)

	sets := []Cuts{
		{"s1": {"A": 1, "B": 1}},
		{"s1": {"B": 1, "A": 1}, "s2": {"C": 1}},
		{"s2": {"C": 1}, "s1": {"A": 1}},
	}
	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func(c Cuts) {
			defer wg.Done()
			assert.NoError(t, m.ReserveAndCommit(ctx, c))
			assert.NoError(t, m.Release(ctx, c))
		}(sets[i%len(sets)])
	}
	wg.Wait()

	assert.Equal(t, 1000, quantity(t, m, "A"))
	assert.Equal(t, 1000, quantity(t, m, "B"))
	assert.Equal(t, 1000, quantity(t, m, "C"))
}

func TestListingCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger(logging.Discard())
	seed(t, m, "s1", "A", 4)
	seed(t, m, "s1", "B", 4)
	seed(t, m, "s2", "C", 4)

	assert.ErrorIs(t, m.CreateListing(ctx, &Listing{ID: "A", StoreID: "s1"}), apperr.ErrAlreadyExists)

	listings, err := m.ListByStore(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, listings, 2)

	l := *listings[0]
	l.Name = "renamed"
	l.Quantity = 999
	require.NoError(t, m.UpdateDetails(ctx, &l))
	got, err := m.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 4, got.Quantity, "detail updates never touch stock")

	require.NoError(t, m.SetQuantity(ctx, "C", 0))
	assert.Equal(t, 0, quantity(t, m, "C"))
	assert.ErrorIs(t, m.SetQuantity(ctx, "C", -1), apperr.ErrInvalidArgument)
	assert.ErrorIs(t, m.DeleteListing(ctx, "Z"), apperr.ErrListingNotFound)
}
