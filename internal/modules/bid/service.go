package bid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/metrics"
	"github.com/georgemunganga/marketplace/internal/modules/inventory"
	"github.com/georgemunganga/marketplace/internal/modules/order"
	"github.com/georgemunganga/marketplace/internal/modules/roles"
	"github.com/georgemunganga/marketplace/internal/modules/store"
)

// Service defines negotiated sales. Store-side calls are authorized against
// the store's role ledger: owners, plus managers granted APPROVE_BIDS.
type Service interface {
	// Bids
	SubmitBid(ctx context.Context, userID string, req SubmitBidRequest) (*Bid, error)
	ApproveBid(ctx context.Context, bidID, approverID string) (*Bid, error)
	RejectBid(ctx context.Context, bidID, approverID string) (*Bid, error)
	CounterBid(ctx context.Context, bidID, approverID string, price decimal.Decimal) (*Bid, error)
	AcceptCounter(ctx context.Context, bidID, userID string) (*Bid, error)
	DeclineCounter(ctx context.Context, bidID, userID string) (*Bid, error)
	// PurchaseBid buys one unit at the approved price.
	PurchaseBid(ctx context.Context, bidID, userID string, req PurchaseRequest) (*order.Purchase, error)
	GetBid(ctx context.Context, bidID, requesterID string) (*Bid, error)
	MyBids(ctx context.Context, userID string) ([]*Bid, error)
	StoreBids(ctx context.Context, storeID, requesterID string) ([]*Bid, error)

	// Auctions
	OpenAuction(ctx context.Context, requesterID string, req OpenAuctionRequest) (*Auction, error)
	PlaceOffer(ctx context.Context, auctionID, userID string, price decimal.Decimal) (*AuctionStatusView, error)
	AuctionStatus(ctx context.Context, auctionID string) (*AuctionStatusView, error)
	// CloseDue settles every auction past its end and returns how many it closed.
	CloseDue(ctx context.Context) (int, error)
	// PurchaseAuction lets the winner buy the unit at the winning price.
	PurchaseAuction(ctx context.Context, auctionID, userID string, req PurchaseRequest) (*order.Purchase, error)
	StoreAuctions(ctx context.Context, storeID, requesterID string) ([]*Auction, error)
}

// Ledgers hands out the role ledger of a store.
type Ledgers interface {
	Get(storeID string) (*roles.Ledger, error)
}

// Listings resolves the listing a bid or auction is about.
type Listings interface {
	GetListing(ctx context.Context, id string) (*inventory.Listing, error)
}

// Buyer settles a negotiated price through the checkout saga.
type Buyer interface {
	Buy(ctx context.Context, userID string, req order.DirectPurchase) (*order.Purchase, error)
}

// Deps are the collaborators of the bid service.
type Deps struct {
	Roles    Ledgers
	Listings Listings
	Orders   Buyer
	Repo     Repository
	Notifier store.Notifier
	Log      logrus.FieldLogger
}

// MinAuctionLength is the shortest auction that can be opened.
const MinAuctionLength = time.Second

// maxAttempts bounds the retries of a version-checked update.
const maxAttempts = 5

type service struct {
	roles    Ledgers
	listings Listings
	orders   Buyer
	repo     Repository
	notifier store.Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService creates the bid and auction service.
func NewService(d Deps) Service {
	if d.Notifier == nil {
		d.Notifier = store.NopNotifier{}
	}
	return &service{
		roles:    d.Roles,
		listings: d.Listings,
		orders:   d.Orders,
		repo:     d.Repo,
		notifier: d.Notifier,
		log:      d.Log,
		now:      time.Now,
	}
}

func (s *service) SubmitBid(ctx context.Context, userID string, req SubmitBidRequest) (*Bid, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: bidding needs a signed-in buyer", apperr.ErrNotAuthorized)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	l, listing, err := s.biddable(ctx, req.StoreID, req.ListingID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &Bid{
		ID:         uuid.NewString(),
		StoreID:    req.StoreID,
		ListingID:  req.ListingID,
		UserID:     userID,
		Price:      req.Price,
		Approvers:  l.BidApprovers(),
		ApprovedBy: []string{},
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateBid(ctx, b); err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("bid", "submitted")
	s.log.WithFields(logrus.Fields{"bid_id": b.ID, "store_id": b.StoreID, "listing_id": b.ListingID, "user_id": userID}).
		Info("bid submitted")
	s.notifyAll(ctx, b.Approvers, "new bid of %s on %s in store %s", b.Price.StringFixed(2), listing.Name, b.StoreID)
	return b, nil
}

func (s *service) ApproveBid(ctx context.Context, bidID, approverID string) (*Bid, error) {
	b, err := s.mutateBid(ctx, bidID, func(b *Bid) error {
		l, err := s.approver(b, approverID)
		if err != nil {
			return err
		}
		if b.Status != StatusPending {
			return stateError("bid", b.ID, b.Status)
		}
		if !b.approvedBy(approverID) {
			b.ApprovedBy = append(b.ApprovedBy, approverID)
		}
		if s.signedOff(b, l) {
			b.Status = StatusApproved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if b.Status == StatusApproved {
		metrics.RecordNegotiation("bid", "approved")
		s.log.WithField("bid_id", b.ID).Info("bid approved")
		s.notifier.Notify(ctx, b.UserID, fmt.Sprintf("your bid %s was approved at %s", b.ID, b.Price.StringFixed(2)))
	}
	return b, nil
}

// signedOff reports whether everyone on the bid who may still approve bids has approved it.
func (s *service) signedOff(b *Bid, l *roles.Ledger) bool {
	for _, id := range b.Approvers {
		if l.HasPermission(id, roles.PermissionApproveBids) && !b.approvedBy(id) {
			return false
		}
	}
	return true
}

func (s *service) RejectBid(ctx context.Context, bidID, approverID string) (*Bid, error) {
	b, err := s.mutateBid(ctx, bidID, func(b *Bid) error {
		if _, err := s.approver(b, approverID); err != nil {
			return err
		}
		if b.Status != StatusPending && b.Status != StatusCountered {
			return stateError("bid", b.ID, b.Status)
		}
		b.Status = StatusRejected
		b.CounterPrice = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("bid", "rejected")
	s.log.WithFields(logrus.Fields{"bid_id": b.ID, "rejected_by": approverID}).Info("bid rejected")
	s.notifier.Notify(ctx, b.UserID, fmt.Sprintf("your bid %s was rejected", b.ID))
	return b, nil
}

func (s *service) CounterBid(ctx context.Context, bidID, approverID string, price decimal.Decimal) (*Bid, error) {
	if err := positive("counter offer", price); err != nil {
		return nil, err
	}
	b, err := s.mutateBid(ctx, bidID, func(b *Bid) error {
		if _, err := s.approver(b, approverID); err != nil {
			return err
		}
		if b.Status != StatusPending {
			return stateError("bid", b.ID, b.Status)
		}
		b.Status = StatusCountered
		b.CounterPrice = &price
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("bid", "countered")
	s.notifier.Notify(ctx, b.UserID, fmt.Sprintf("store %s counters your bid %s with %s", b.StoreID, b.ID, price.StringFixed(2)))
	return b, nil
}

func (s *service) AcceptCounter(ctx context.Context, bidID, userID string) (*Bid, error) {
	b, err := s.mutateBid(ctx, bidID, func(b *Bid) error {
		if b.UserID != userID {
			return fmt.Errorf("%w: bid %s", apperr.ErrNotFound, b.ID)
		}
		if b.Status != StatusCountered || b.CounterPrice == nil {
			return stateError("bid", b.ID, b.Status)
		}
		b.Price = *b.CounterPrice
		b.CounterPrice = nil
		b.Status = StatusApproved
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("bid", "counter_accepted")
	s.notifyAll(ctx, b.Approvers, "bid %s: buyer accepted the counter offer of %s", b.ID, b.Price.StringFixed(2))
	return b, nil
}

func (s *service) DeclineCounter(ctx context.Context, bidID, userID string) (*Bid, error) {
	b, err := s.mutateBid(ctx, bidID, func(b *Bid) error {
		if b.UserID != userID {
			return fmt.Errorf("%w: bid %s", apperr.ErrNotFound, b.ID)
		}
		if b.Status != StatusCountered {
			return stateError("bid", b.ID, b.Status)
		}
		b.Status = StatusRejected
		b.CounterPrice = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("bid", "counter_declined")
	s.notifyAll(ctx, b.Approvers, "bid %s: buyer declined the counter offer", b.ID)
	return b, nil
}

func (s *service) PurchaseBid(ctx context.Context, bidID, userID string, req PurchaseRequest) (*order.Purchase, error) {
	b, err := s.mutateBid(ctx, bidID, func(b *Bid) error {
		if b.UserID != userID {
			return fmt.Errorf("%w: bid %s", apperr.ErrNotFound, b.ID)
		}
		if b.Status != StatusApproved {
			return stateError("bid", b.ID, b.Status)
		}
		b.Status = StatusPaying
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"bid_id": b.ID, "user_id": userID})

	p, err := s.buy(ctx, userID, b.StoreID, b.ListingID, b.Price, req)
	undo := context.WithoutCancel(ctx)
	if err != nil {
		if _, rerr := s.mutateBid(undo, b.ID, func(b *Bid) error {
			b.Status = StatusApproved
			return nil
		}); rerr != nil {
			log.WithError(rerr).Error("reopen bid after failed purchase")
		}
		return nil, err
	}
	if _, err := s.mutateBid(undo, b.ID, func(b *Bid) error {
		b.Status = StatusPurchased
		b.PurchaseID = p.ID
		return nil
	}); err != nil {
		log.WithError(err).WithField("purchase_id", p.ID).Error("mark bid purchased")
	}
	metrics.RecordNegotiation("bid", "purchased")
	log.WithField("purchase_id", p.ID).Info("bid purchased")
	return p, nil
}

func (s *service) GetBid(ctx context.Context, bidID, requesterID string) (*Bid, error) {
	b, err := s.repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if b.UserID == requesterID {
		return b, nil
	}
	if l, err := s.roles.Get(b.StoreID); err == nil && l.HasPermission(requesterID, roles.PermissionApproveBids) {
		return b, nil
	}
	return nil, fmt.Errorf("%w: bid %s", apperr.ErrNotFound, bidID)
}

func (s *service) MyBids(ctx context.Context, userID string) ([]*Bid, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	return s.repo.ListBidsByUser(ctx, userID)
}

func (s *service) StoreBids(ctx context.Context, storeID, requesterID string) ([]*Bid, error) {
	if err := s.requireApprover(storeID, requesterID); err != nil {
		return nil, err
	}
	return s.repo.ListBidsByStore(ctx, storeID)
}

func (s *service) OpenAuction(ctx context.Context, requesterID string, req OpenAuctionRequest) (*Auction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireApprover(req.StoreID, requesterID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if req.EndsAt.Sub(now) < MinAuctionLength {
		return nil, apperr.Invalid("auction must end at least %s from now", MinAuctionLength)
	}
	if _, err := s.listing(ctx, req.StoreID, req.ListingID); err != nil {
		return nil, err
	}

	a := &Auction{
		ID:            uuid.NewString(),
		StoreID:       req.StoreID,
		ListingID:     req.ListingID,
		OpenedBy:      requesterID,
		StartingPrice: req.StartingPrice,
		EndsAt:        req.EndsAt.UTC(),
		Offers:        []Offer{},
		Status:        AuctionOpen,
		WinningPrice:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateAuction(ctx, a); err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("auction", "opened")
	s.log.WithFields(logrus.Fields{"auction_id": a.ID, "store_id": a.StoreID, "listing_id": a.ListingID, "ends_at": a.EndsAt}).
		Info("auction opened")
	return a, nil
}

func (s *service) PlaceOffer(ctx context.Context, auctionID, userID string, price decimal.Decimal) (*AuctionStatusView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: offers need a signed-in buyer", apperr.ErrNotAuthorized)
	}
	if err := positive("offer", price); err != nil {
		return nil, err
	}
	var outbid []string
	a, err := s.mutateAuction(ctx, auctionID, func(a *Auction) error {
		if l, err := s.roles.Get(a.StoreID); err == nil {
			if _, staff := l.RoleOf(userID); staff {
				return fmt.Errorf("%w: staff of store %s cannot bid on its auctions", apperr.ErrNotAuthorized, a.StoreID)
			}
		}
		now := s.now()
		if a.Status != AuctionOpen || !now.Before(a.EndsAt) {
			return fmt.Errorf("%w: auction %s has ended", apperr.ErrInvalidState, a.ID)
		}
		if price.LessThan(a.StartingPrice) {
			return apperr.Invalid("offer %s is below the starting price %s", price, a.StartingPrice)
		}
		if best, ok := a.Highest(); ok && !price.GreaterThan(best.Price) {
			return apperr.Invalid("offer %s must beat the current %s", price, best.Price)
		}
		outbid = outbid[:0]
		seen := map[string]bool{userID: true}
		for _, o := range a.Offers {
			if !seen[o.UserID] {
				seen[o.UserID] = true
				outbid = append(outbid, o.UserID)
			}
		}
		a.Offers = append(a.Offers, Offer{UserID: userID, Price: price, CreatedAt: now.UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordNegotiation("auction", "offer")
	s.notifyAll(ctx, outbid, "auction %s: a new offer of %s beats yours", a.ID, price.StringFixed(2))
	return s.view(a), nil
}

func (s *service) AuctionStatus(ctx context.Context, auctionID string) (*AuctionStatusView, error) {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return s.view(a), nil
}

func (s *service) view(a *Auction) *AuctionStatusView {
	v := &AuctionStatusView{
		AuctionID:     a.ID,
		Status:        a.Status,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.StartingPrice,
		Offers:        len(a.Offers),
	}
	if best, ok := a.Highest(); ok {
		v.CurrentPrice = best.Price
	}
	if left := a.EndsAt.Sub(s.now()); left > 0 && a.Status == AuctionOpen {
		v.TimeLeftMS = left.Milliseconds()
	}
	return v
}

func (s *service) CloseDue(ctx context.Context) (int, error) {
	due, err := s.repo.ListDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, a := range due {
		if err := s.close(ctx, a.ID); err != nil {
			if errors.Is(err, apperr.ErrInvalidState) {
				continue
			}
			s.log.WithError(err).WithField("auction_id", a.ID).Error("close auction")
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *service) close(ctx context.Context, auctionID string) error {
	a, err := s.mutateAuction(ctx, auctionID, func(a *Auction) error {
		if a.Status != AuctionOpen || s.now().Before(a.EndsAt) {
			return stateError("auction", a.ID, a.Status)
		}
		best, ok := a.Highest()
		if !ok {
			a.Status = AuctionUnsold
			return nil
		}
		a.Status = AuctionWon
		a.WinnerID = best.UserID
		a.WinningPrice = best.Price
		return nil
	})
	if err != nil {
		return err
	}

	log := s.log.WithField("auction_id", a.ID)
	if a.Status == AuctionUnsold {
		metrics.RecordNegotiation("auction", "unsold")
		log.Info("auction closed with no offers")
		return nil
	}
	metrics.RecordNegotiation("auction", "won")
	log.WithFields(logrus.Fields{"winner_id": a.WinnerID, "price": a.WinningPrice.String()}).Info("auction closed")
	s.notifier.Notify(ctx, a.WinnerID,
		fmt.Sprintf("you won auction %s in store %s at %s", a.ID, a.StoreID, a.WinningPrice.StringFixed(2)))
	notified := map[string]bool{a.WinnerID: true}
	for _, o := range a.Offers {
		if !notified[o.UserID] {
			notified[o.UserID] = true
			s.notifier.Notify(ctx, o.UserID,
				fmt.Sprintf("auction %s in store %s closed at %s, your offer did not win", a.ID, a.StoreID, a.WinningPrice.StringFixed(2)))
		}
	}
	return nil
}

func (s *service) PurchaseAuction(ctx context.Context, auctionID, userID string, req PurchaseRequest) (*order.Purchase, error) {
	a, err := s.mutateAuction(ctx, auctionID, func(a *Auction) error {
		if a.Status != AuctionWon {
			return stateError("auction", a.ID, a.Status)
		}
		if a.WinnerID != userID {
			return fmt.Errorf("%w: only the winner of auction %s may buy", apperr.ErrNotAuthorized, a.ID)
		}
		a.Status = AuctionPaying
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"auction_id": a.ID, "user_id": userID})

	p, err := s.buy(ctx, userID, a.StoreID, a.ListingID, a.WinningPrice, req)
	undo := context.WithoutCancel(ctx)
	if err != nil {
		if _, rerr := s.mutateAuction(undo, a.ID, func(a *Auction) error {
			a.Status = AuctionWon
			return nil
		}); rerr != nil {
			log.WithError(rerr).Error("reopen auction after failed purchase")
		}
		return nil, err
	}
	if _, err := s.mutateAuction(undo, a.ID, func(a *Auction) error {
		a.Status = AuctionSold
		a.PurchaseID = p.ID
		return nil
	}); err != nil {
		log.WithError(err).WithField("purchase_id", p.ID).Error("mark auction sold")
	}
	metrics.RecordNegotiation("auction", "sold")
	log.WithField("purchase_id", p.ID).Info("auction purchased")
	return p, nil
}

func (s *service) StoreAuctions(ctx context.Context, storeID, requesterID string) ([]*Auction, error) {
	if err := s.requireApprover(storeID, requesterID); err != nil {
		return nil, err
	}
	return s.repo.ListAuctionsByStore(ctx, storeID)
}

// biddable checks that userID may bid on listingID of storeID.
func (s *service) biddable(ctx context.Context, storeID, listingID, userID string) (*roles.Ledger, *inventory.Listing, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return nil, nil, err
	}
	if _, staff := l.RoleOf(userID); staff {
		return nil, nil, fmt.Errorf("%w: staff of store %s cannot bid on its listings", apperr.ErrNotAuthorized, storeID)
	}
	listing, err := s.listing(ctx, storeID, listingID)
	if err != nil {
		return nil, nil, err
	}
	return l, listing, nil
}

// listing resolves an active, in-stock listing of storeID.
func (s *service) listing(ctx context.Context, storeID, listingID string) (*inventory.Listing, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.StoreID != storeID {
		return nil, fmt.Errorf("%w: listing %s in store %s", apperr.ErrListingNotFound, listingID, storeID)
	}
	if !listing.IsActive {
		return nil, fmt.Errorf("%w: store %s", apperr.ErrStoreClosed, storeID)
	}
	if listing.Quantity < 1 {
		return nil, &apperr.InsufficientStockError{StoreID: storeID, ListingID: listingID, Requested: 1, Available: 0}
	}
	return listing, nil
}

func (s *service) buy(ctx context.Context, userID, storeID, listingID string, price decimal.Decimal, req PurchaseRequest) (*order.Purchase, error) {
	name := listingID
	if listing, err := s.listings.GetListing(ctx, listingID); err == nil {
		name = listing.Name
	}
	return s.orders.Buy(ctx, userID, order.DirectPurchase{
		StoreID:   storeID,
		ListingID: listingID,
		Name:      name,
		Quantity:  1,
		UnitPrice: price,
		Payment:   req.Payment,
		Shipment:  req.Shipment,
	})
}

// approver checks that userID is asked to approve b and still may.
func (s *service) approver(b *Bid, userID string) (*roles.Ledger, error) {
	l, err := s.roles.Get(b.StoreID)
	if err != nil {
		return nil, err
	}
	if !b.requires(userID) || !l.HasPermission(userID, roles.PermissionApproveBids) {
		return nil, fmt.Errorf("%w: user %s is not an approver of bid %s", apperr.ErrNotAuthorized, userID, b.ID)
	}
	return l, nil
}

func (s *service) requireApprover(storeID, userID string) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if !l.HasPermission(userID, roles.PermissionApproveBids) {
		return fmt.Errorf("%w: user %s cannot manage bids of store %s", apperr.ErrNotAuthorized, userID, storeID)
	}
	return nil
}

func (s *service) mutateBid(ctx context.Context, id string, change func(*Bid) error) (*Bid, error) {
	for attempt := 1; ; attempt++ {
		b, err := s.repo.GetBid(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := change(b); err != nil {
			return nil, err
		}
		b.UpdatedAt = s.now().UTC()
		err = s.repo.UpdateBid(ctx, b)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, errStale) {
			return nil, err
		}
		if attempt == maxAttempts {
			return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidState, err)
		}
	}
}

func (s *service) mutateAuction(ctx context.Context, id string, change func(*Auction) error) (*Auction, error) {
	for attempt := 1; ; attempt++ {
		a, err := s.repo.GetAuction(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := change(a); err != nil {
			return nil, err
		}
		a.UpdatedAt = s.now().UTC()
		err = s.repo.UpdateAuction(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, errStale) {
			return nil, err
		}
		if attempt == maxAttempts {
			return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidState, err)
		}
	}
}

func stateError(what, id string, status interface{}) error {
	return fmt.Errorf("%w: %s %s is %s", apperr.ErrInvalidState, what, id, status)
}

func (s *service) notifyAll(ctx context.Context, userIDs []string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	for _, id := range userIDs {
		s.notifier.Notify(ctx, id, msg)
	}
}
