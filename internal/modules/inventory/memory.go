package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// entry guards one listing. Stock operations hold entry locks in listing id
// order, so checkouts over disjoint listings never contend.
type entry struct {
	mu      sync.Mutex
	listing Listing
}

// MemoryLedger keeps listings and stock in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     logrus.FieldLogger
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(log logrus.FieldLogger) *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*entry), log: log}
}

var _ Ledger = (*MemoryLedger)(nil)

func listingNotFound(id string) error {
	return fmt.Errorf("%w: %s", apperr.ErrListingNotFound, id)
}

// lockCuts resolves and locks the entries of cuts in order. The caller must
// call the returned unlock.
func (m *MemoryLedger) lockCuts(cuts []cut) ([]*entry, func(), error) {
	m.mu.RLock()
	entries := make([]*entry, len(cuts))
	for i, c := range cuts {
		e, ok := m.entries[c.listingID]
		if !ok {
			m.mu.RUnlock()
			return nil, nil, listingNotFound(c.listingID)
		}
		entries[i] = e
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
	}
	unlock := func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}
	return entries, unlock, nil
}

func (m *MemoryLedger) ReserveAndCommit(ctx context.Context, cuts Cuts) error {
	flat, err := cuts.flatten()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, unlock, err := m.lockCuts(flat)
	if err != nil {
		return err
	}
	defer unlock()

	for i, c := range flat {
		l := &entries[i].listing
		if l.StoreID != c.storeID {
			return fmt.Errorf("%w: %s in store %s", apperr.ErrListingNotFound, c.listingID, c.storeID)
		}
		if !l.IsActive {
			return fmt.Errorf("%w: listing %s of store %s is inactive", apperr.ErrStoreClosed, c.listingID, c.storeID)
		}
		if l.Quantity < c.qty {
			return &apperr.InsufficientStockError{
				StoreID:   c.storeID,
				ListingID: c.listingID,
				Requested: c.qty,
				Available: l.Quantity,
			}
		}
	}
	now := time.Now().UTC()
	for i, c := range flat {
		entries[i].listing.Quantity -= c.qty
		entries[i].listing.UpdatedAt = now
	}
	return nil
}

func (m *MemoryLedger) Release(ctx context.Context, cuts Cuts) error {
	flat, err := cuts.flatten()
	if err != nil {
		return err
	}

	// A listing deleted since the reservation has nothing to give back to.
	m.mu.RLock()
	present := flat[:0:0]
	for _, c := range flat {
		if _, ok := m.entries[c.listingID]; ok {
			present = append(present, c)
		} else {
			m.log.WithField("listing_id", c.listingID).Warn("release skipped for missing listing")
		}
	}
	m.mu.RUnlock()
	if len(present) == 0 {
		return nil
	}

	entries, unlock, err := m.lockCuts(present)
	if err != nil {
		return err
	}
	defer unlock()
	now := time.Now().UTC()
	for i, c := range present {
		entries[i].listing.Quantity += c.qty
		entries[i].listing.UpdatedAt = now
	}
	return nil
}

func (m *MemoryLedger) Restock(ctx context.Context, listingID string, delta int) error {
	if delta <= 0 {
		return apperr.Invalid("restock delta must be > 0, got %d", delta)
	}
	e, err := m.entry(listingID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listing.Quantity += delta
	e.listing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) entry(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, listingNotFound(id)
	}
	return e, nil
}

func (m *MemoryLedger) CreateListing(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[l.ID]; ok {
		return fmt.Errorf("%w: listing %s", apperr.ErrAlreadyExists, l.ID)
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	m.entries[l.ID] = &entry{listing: *l}
	return nil
}

func (m *MemoryLedger) GetListing(ctx context.Context, id string) (*Listing, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.listing
	return &cp, nil
}

func (m *MemoryLedger) ListByStore(ctx context.Context, storeID string) ([]*Listing, error) {
	m.mu.RLock()
	all := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	m.mu.RUnlock()

	var out []*Listing
	for _, e := range all {
		e.mu.Lock()
		if e.listing.StoreID == storeID {
			cp := e.listing
			out = append(out, &cp)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryLedger) UpdateDetails(ctx context.Context, l *Listing) error {
	e, err := m.entry(l.ID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listing.Name = l.Name
	e.listing.Category = l.Category
	e.listing.Description = l.Description
	e.listing.Price = l.Price
	e.listing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) SetQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return apperr.Invalid("quantity must be >= 0, got %d", qty)
	}
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listing.Quantity = qty
	e.listing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryLedger) SetStoreActive(ctx context.Context, storeID string, active bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		e.mu.Lock()
		if e.listing.StoreID == storeID {
			e.listing.IsActive = active
		}
		e.mu.Unlock()
	}
	return nil
}

func (m *MemoryLedger) DeleteListing(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return listingNotFound(id)
	}
	delete(m.entries, id)
	return nil
}
