package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

type memoryRepo struct {
	mu     sync.RWMutex
	stores map[string]*Store
	byName map[string]string
}

// NewMemoryRepository keeps stores in process memory. Names compare case-insensitively.
func NewMemoryRepository() Repository {
	return &memoryRepo{stores: make(map[string]*Store), byName: make(map[string]string)}
}

func nameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *memoryRepo) CreateStore(_ context.Context, s *Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[s.ID]; ok {
		return fmt.Errorf("%w: store %s", apperr.ErrAlreadyExists, s.ID)
	}
	if _, ok := r.byName[nameKey(s.Name)]; ok {
		return fmt.Errorf("%w: store named %q", apperr.ErrAlreadyExists, s.Name)
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	r.stores[s.ID] = &cp
	r.byName[nameKey(s.Name)] = s.ID
	return nil
}

func (r *memoryRepo) GetStore(_ context.Context, id string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: store %s", apperr.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r *memoryRepo) GetStoreByName(_ context.Context, name string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[nameKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: store named %q", apperr.ErrNotFound, name)
	}
	cp := *r.stores[id]
	return &cp, nil
}

func (r *memoryRepo) ListStores(_ context.Context) ([]*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[id]
	if !ok {
		return fmt.Errorf("%w: store %s", apperr.ErrNotFound, id)
	}
	s.IsActive = active
	s.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) DeleteStore(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[id]
	if !ok {
		return fmt.Errorf("%w: store %s", apperr.ErrNotFound, id)
	}
	delete(r.byName, nameKey(s.Name))
	delete(r.stores, id)
	return nil
}
