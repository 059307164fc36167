package store

import "context"

// Repository defines data access for store records.
type Repository interface {
	CreateStore(ctx context.Context, s *Store) error
	GetStore(ctx context.Context, id string) (*Store, error)
	GetStoreByName(ctx context.Context, name string) (*Store, error)
	ListStores(ctx context.Context) ([]*Store, error)
	SetActive(ctx context.Context, id string, active bool) error
	DeleteStore(ctx context.Context, id string) error
}
