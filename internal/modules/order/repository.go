package order

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Repository defines purchase history storage.
type Repository interface {
	// CreatePurchase persists a purchase with all its store bags atomically.
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchase(ctx context.Context, id string) (*Purchase, error)
	// ListByUser returns a buyer's purchases, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Purchase, error)
	// ListByStore returns the sales of one store, newest first.
	ListByStore(ctx context.Context, storeID string) ([]*Sale, error)
}

type memoryRepo struct {
	mu        sync.RWMutex
	purchases map[string]*Purchase
}

func NewMemoryRepository() Repository {
	return &memoryRepo{purchases: make(map[string]*Purchase)}
}

func (r *memoryRepo) CreatePurchase(_ context.Context, p *Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.purchases[p.ID]; ok {
		return fmt.Errorf("%w: purchase %s", apperr.ErrAlreadyExists, p.ID)
	}
	cp := *p
	r.purchases[p.ID] = &cp
	return nil
}

func (r *memoryRepo) GetPurchase(_ context.Context, id string) (*Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.purchases[id]
	if !ok {
		return nil, fmt.Errorf("%w: purchase %s", apperr.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) ListByUser(_ context.Context, userID string) ([]*Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Purchase
	for _, p := range r.purchases {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) ListByStore(_ context.Context, storeID string) ([]*Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Sale
	for _, p := range r.purchases {
		for _, sp := range p.Stores {
			if sp.StoreID == storeID {
				out = append(out, &Sale{PurchaseID: p.ID, UserID: p.UserID, StorePurchase: sp, CreatedAt: p.CreatedAt})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
