package roles

import (
	"context"
	"sync"
)

// Journal persists a store's appointment forest. A mutation is published only
// after SaveAssignments succeeds.
type Journal interface {
	SaveAssignments(ctx context.Context, storeID string, rows []Assignment) error
	DeleteAssignments(ctx context.Context, storeID string) error
}

// Repository is a Journal that can also load what it saved.
type Repository interface {
	Journal
	LoadAssignments(ctx context.Context, storeID string) ([]Assignment, error)
}

// NopJournal keeps role state in memory only.
type NopJournal struct{}

func (NopJournal) SaveAssignments(context.Context, string, []Assignment) error { return nil }

func (NopJournal) DeleteAssignments(context.Context, string) error { return nil }

type memoryRepository struct {
	mu   sync.Mutex
	rows map[string][]Assignment
}

// NewMemoryRepository keeps assignments in process memory, for runs without a database.
func NewMemoryRepository() Repository {
	return &memoryRepository{rows: make(map[string][]Assignment)}
}

func (m *memoryRepository) SaveAssignments(_ context.Context, storeID string, rows []Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[storeID] = cloneAssignments(rows)
	return nil
}

func (m *memoryRepository) DeleteAssignments(_ context.Context, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, storeID)
	return nil
}

func (m *memoryRepository) LoadAssignments(_ context.Context, storeID string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAssignments(m.rows[storeID]), nil
}

func cloneAssignments(rows []Assignment) []Assignment {
	if rows == nil {
		return nil
	}
	out := make([]Assignment, len(rows))
	for i, a := range rows {
		out[i] = a
		out[i].Permissions = append([]Permission(nil), a.Permissions...)
	}
	return out
}
