package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Repository persists one policy Document per store.
type Repository interface {
	SaveDocument(ctx context.Context, storeID string, doc Document) error
	LoadDocument(ctx context.Context, storeID string) (Document, error)
	DeleteDocument(ctx context.Context, storeID string) error
}

type memoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryRepository keeps documents in process memory.
func NewMemoryRepository() Repository {
	return &memoryRepository{docs: make(map[string]Document)}
}

func (r *memoryRepository) SaveDocument(_ context.Context, storeID string, doc Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[storeID] = doc
	return nil
}

func (r *memoryRepository) LoadDocument(_ context.Context, storeID string) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[storeID]
	if !ok {
		return Document{}, fmt.Errorf("%w: policies of store %s", apperr.ErrNotFound, storeID)
	}
	return doc, nil
}

func (r *memoryRepository) DeleteDocument(_ context.Context, storeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, storeID)
	return nil
}
