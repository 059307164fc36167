package notification

import (
	"context"
	"sort"
	"sync"
)

// Repository queues notifications for users with no live session.
type Repository interface {
	Enqueue(ctx context.Context, n *Notification) error
	// Pending lists queued notifications oldest first without removing them.
	Pending(ctx context.Context, userID string) ([]*Notification, error)
	// Take removes and returns every queued notification, oldest first.
	Take(ctx context.Context, userID string) ([]*Notification, error)
}

type memoryRepo struct {
	mu     sync.Mutex
	queued map[string][]*Notification
}

func NewMemoryRepository() Repository {
	return &memoryRepo{queued: make(map[string][]*Notification)}
}

func (r *memoryRepo) Enqueue(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.queued[n.UserID] = append(r.queued[n.UserID], &cp)
	return nil
}

func (r *memoryRepo) Pending(_ context.Context, userID string) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Notification, 0, len(r.queued[userID]))
	for _, n := range r.queued[userID] {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryRepo) Take(_ context.Context, userID string) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queued[userID]
	delete(r.queued, userID)
	return out, nil
}

func oldestFirst(ns []*Notification) {
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.Before(ns[j].CreatedAt) })
}
