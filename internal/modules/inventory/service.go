package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
)

// Service defines listing business logic. Authorization happens in the store
// module before these calls are made.
type Service interface {
	// Listing operations
	AddListing(ctx context.Context, storeID string, req AddListingRequest) (*Listing, error)
	GetListing(ctx context.Context, id string) (*Listing, error)
	ListListings(ctx context.Context, storeID string) ([]*Listing, error)
	EditListing(ctx context.Context, id string, req EditListingRequest) (*Listing, error)
	RemoveListing(ctx context.Context, id string) error

	// Stock operations
	SetQuantity(ctx context.Context, id string, qty int) error
	Restock(ctx context.Context, id string, delta int) error
	SetStoreActive(ctx context.Context, storeID string, active bool) error

	// Lookup snapshots a store's listings for policy evaluation.
	Lookup(ctx context.Context, storeID string) (policy.MapLookup, error)
}

type service struct {
	ledger Ledger
	log    logrus.FieldLogger
}

// NewService creates a new listing service over ledger.
func NewService(ledger Ledger, log logrus.FieldLogger) Service {
	return &service{ledger: ledger, log: log}
}

func (s *service) AddListing(ctx context.Context, storeID string, req AddListingRequest) (*Listing, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, apperr.Invalid("store_id is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	productID := req.ProductID
	if productID == "" {
		productID = uuid.NewString()
	}
	l := &Listing{
		ID:          uuid.NewString(),
		StoreID:     storeID,
		ProductID:   productID,
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
		IsActive:    true,
	}
	if err := s.ledger.CreateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	s.log.WithFields(logrus.Fields{"store_id": storeID, "listing_id": l.ID}).Info("listing added")
	return l, nil
}

func (s *service) GetListing(ctx context.Context, id string) (*Listing, error) {
	return s.ledger.GetListing(ctx, id)
}

func (s *service) ListListings(ctx context.Context, storeID string) ([]*Listing, error) {
	return s.ledger.ListByStore(ctx, storeID)
}

func (s *service) EditListing(ctx context.Context, id string, req EditListingRequest) (*Listing, error) {
	l, err := s.ledger.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.Apply(l); err != nil {
		return nil, err
	}
	if err := s.ledger.UpdateDetails(ctx, l); err != nil {
		return nil, fmt.Errorf("update listing %s: %w", id, err)
	}
	return s.ledger.GetListing(ctx, id)
}

func (s *service) RemoveListing(ctx context.Context, id string) error {
	if err := s.ledger.DeleteListing(ctx, id); err != nil {
		return err
	}
	s.log.WithField("listing_id", id).Info("listing removed")
	return nil
}

func (s *service) SetQuantity(ctx context.Context, id string, qty int) error {
	return s.ledger.SetQuantity(ctx, id, qty)
}

func (s *service) Restock(ctx context.Context, id string, delta int) error {
	if err := s.ledger.Restock(ctx, id, delta); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"listing_id": id, "delta": delta}).Debug("listing restocked")
	return nil
}

func (s *service) SetStoreActive(ctx context.Context, storeID string, active bool) error {
	return s.ledger.SetStoreActive(ctx, storeID, active)
}

func (s *service) Lookup(ctx context.Context, storeID string) (policy.MapLookup, error) {
	listings, err := s.ledger.ListByStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	lookup := make(policy.MapLookup, len(listings))
	for _, l := range listings {
		lookup[l.ID] = policy.Product{
			ListingID: l.ID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Category:  l.Category,
			Price:     l.Price,
		}
	}
	return lookup, nil
}
