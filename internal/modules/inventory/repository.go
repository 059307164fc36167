package inventory

import "context"

// Stock is the concurrent stock counter of every listing.
type Stock interface {
	// ReserveAndCommit deducts every cut or none. It fails with an
	// *apperr.InsufficientStockError naming the first short listing in id order.
	ReserveAndCommit(ctx context.Context, cuts Cuts) error
	// Release gives back what an earlier ReserveAndCommit took.
	Release(ctx context.Context, cuts Cuts) error
	// Restock adds delta > 0 units to one listing.
	Restock(ctx context.Context, listingID string, delta int) error
}

// Repository defines listing data storage. Detail updates never touch quantity.
type Repository interface {
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id string) (*Listing, error)
	ListByStore(ctx context.Context, storeID string) ([]*Listing, error)
	UpdateDetails(ctx context.Context, l *Listing) error
	SetQuantity(ctx context.Context, id string, qty int) error
	SetStoreActive(ctx context.Context, storeID string, active bool) error
	DeleteListing(ctx context.Context, id string) error
}

// Ledger is both the listing store and its stock counter.
type Ledger interface {
	Stock
	Repository
}
