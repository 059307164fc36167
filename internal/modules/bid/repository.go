package bid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// errStale reports an update based on a version that is no longer current.
var errStale = errors.New("bid: record changed concurrently")

// Repository defines bid and auction storage. Updates are compare-and-swap on
// Version: they fail with errStale unless the stored version still matches,
// and bump it on success.
type Repository interface {
	// CreateBid fails with ErrAlreadyExists while the buyer has an open bid on the listing.
	CreateBid(ctx context.Context, b *Bid) error
	GetBid(ctx context.Context, id string) (*Bid, error)
	UpdateBid(ctx context.Context, b *Bid) error
	// ListBidsByStore and ListBidsByUser return newest first.
	ListBidsByStore(ctx context.Context, storeID string) ([]*Bid, error)
	ListBidsByUser(ctx context.Context, userID string) ([]*Bid, error)

	// CreateAuction fails with ErrAlreadyExists while the listing has a live auction.
	CreateAuction(ctx context.Context, a *Auction) error
	GetAuction(ctx context.Context, id string) (*Auction, error)
	UpdateAuction(ctx context.Context, a *Auction) error
	ListAuctionsByStore(ctx context.Context, storeID string) ([]*Auction, error)
	// ListDue returns open auctions whose end is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*Auction, error)
}

type memoryRepo struct {
	mu       sync.RWMutex
	bids     map[string]*Bid
	auctions map[string]*Auction
}

func NewMemoryRepository() Repository {
	return &memoryRepo{bids: make(map[string]*Bid), auctions: make(map[string]*Auction)}
}

func (r *memoryRepo) CreateBid(_ context.Context, b *Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bids[b.ID]; ok {
		return fmt.Errorf("%w: bid %s", apperr.ErrAlreadyExists, b.ID)
	}
	for _, other := range r.bids {
		if other.ListingID == b.ListingID && other.UserID == b.UserID && other.Status.Open() {
			return fmt.Errorf("%w: user %s already bids on listing %s", apperr.ErrAlreadyExists, b.UserID, b.ListingID)
		}
	}
	r.bids[b.ID] = b.clone()
	return nil
}

func (r *memoryRepo) GetBid(_ context.Context, id string) (*Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bids[id]
	if !ok {
		return nil, fmt.Errorf("%w: bid %s", apperr.ErrNotFound, id)
	}
	return b.clone(), nil
}

func (r *memoryRepo) UpdateBid(_ context.Context, b *Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bids[b.ID]
	if !ok {
		return fmt.Errorf("%w: bid %s", apperr.ErrNotFound, b.ID)
	}
	if cur.Version != b.Version {
		return fmt.Errorf("%w: bid %s", errStale, b.ID)
	}
	next := b.clone()
	next.Version++
	r.bids[b.ID] = next
	b.Version = next.Version
	return nil
}

func (r *memoryRepo) ListBidsByStore(_ context.Context, storeID string) ([]*Bid, error) {
	return r.listBids(func(b *Bid) bool { return b.StoreID == storeID }), nil
}

func (r *memoryRepo) ListBidsByUser(_ context.Context, userID string) ([]*Bid, error) {
	return r.listBids(func(b *Bid) bool { return b.UserID == userID }), nil
}

func (r *memoryRepo) listBids(match func(*Bid) bool) []*Bid {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Bid
	for _, b := range r.bids {
		if match(b) {
			out = append(out, b.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memoryRepo) CreateAuction(_ context.Context, a *Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.auctions[a.ID]; ok {
		return fmt.Errorf("%w: auction %s", apperr.ErrAlreadyExists, a.ID)
	}
	for _, other := range r.auctions {
		if other.ListingID == a.ListingID && other.Status.Live() {
			return fmt.Errorf("%w: listing %s is already auctioned", apperr.ErrAlreadyExists, a.ListingID)
		}
	}
	r.auctions[a.ID] = a.clone()
	return nil
}

func (r *memoryRepo) GetAuction(_ context.Context, id string) (*Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", apperr.ErrNotFound, id)
	}
	return a.clone(), nil
}

func (r *memoryRepo) UpdateAuction(_ context.Context, a *Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.auctions[a.ID]
	if !ok {
		return fmt.Errorf("%w: auction %s", apperr.ErrNotFound, a.ID)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("%w: auction %s", errStale, a.ID)
	}
	next := a.clone()
	next.Version++
	r.auctions[a.ID] = next
	a.Version = next.Version
	return nil
}

func (r *memoryRepo) ListAuctionsByStore(_ context.Context, storeID string) ([]*Auction, error) {
	return r.listAuctions(func(a *Auction) bool { return a.StoreID == storeID }), nil
}

func (r *memoryRepo) ListDue(_ context.Context, now time.Time) ([]*Auction, error) {
	return r.listAuctions(func(a *Auction) bool { return a.Status == AuctionOpen && !a.EndsAt.After(now) }), nil
}

func (r *memoryRepo) listAuctions(match func(*Auction) bool) []*Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Auction
	for _, a := range r.auctions {
		if match(a) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
