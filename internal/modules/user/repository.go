package user

import (
	"context"
	"fmt"
	"sync"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Repository defines user data storage. Emails are matched case-insensitively.
type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}

type memoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
}

func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]*User), byEmail: make(map[string]*User)}
}

func (r *memoryRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := normalizeEmail(user.Email)
	if _, ok := r.byEmail[email]; ok {
		return fmt.Errorf("%w: email %s", apperr.ErrAlreadyExists, user.Email)
	}
	cp := *user
	r.byID[user.ID.String()] = &cp
	r.byEmail[email] = &cp
	return nil
}

func (r *memoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, email)
	}
	cp := *u
	return &cp, nil
}

func (r *memoryRepository) GetUserByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}
