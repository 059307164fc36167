// Package bid runs negotiated sales: price offers that the store's approvers
// accept, reject or counter, and timed auctions won by the highest offer.
package bid

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/modules/payment"
)

// Status is where a bid is in its negotiation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCountered Status = "COUNTERED"
	StatusApproved  Status = "APPROVED"
	StatusPaying    Status = "PAYING"
	StatusPurchased Status = "PURCHASED"
	StatusRejected  Status = "REJECTED"
)

// Open reports whether the bid still blocks a new bid by the same buyer on the same listing.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusCountered || s == StatusApproved || s == StatusPaying
}

// Bid is a buyer's price offer for one unit of a listing. Approvers is fixed
// when the bid is submitted: the store's owners plus every manager allowed to
// approve bids at that moment.
type Bid struct {
	ID           string           `json:"id"`
	StoreID      string           `json:"store_id"`
	ListingID    string           `json:"listing_id"`
	UserID       string           `json:"user_id"`
	Price        decimal.Decimal  `json:"price"`
	Approvers    []string         `json:"approvers"`
	ApprovedBy   []string         `json:"approved_by"`
	Status       Status           `json:"status"`
	CounterPrice *decimal.Decimal `json:"counter_price,omitempty"`
	PurchaseID   string           `json:"purchase_id,omitempty"`
	Version      int              `json:"-"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (b *Bid) clone() *Bid {
	cp := *b
	cp.Approvers = append([]string(nil), b.Approvers...)
	cp.ApprovedBy = append([]string(nil), b.ApprovedBy...)
	if b.CounterPrice != nil {
		price := *b.CounterPrice
		cp.CounterPrice = &price
	}
	return &cp
}

func (b *Bid) approvedBy(userID string) bool {
	for _, id := range b.ApprovedBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bid) requires(userID string) bool {
	for _, id := range b.Approvers {
		if id == userID {
			return true
		}
	}
	return false
}

// AuctionStatus is where an auction is in its life.
type AuctionStatus string

const (
	AuctionOpen   AuctionStatus = "OPEN"
	AuctionWon    AuctionStatus = "WON"
	AuctionPaying AuctionStatus = "PAYING"
	AuctionSold   AuctionStatus = "SOLD"
	AuctionUnsold AuctionStatus = "UNSOLD"
)

// Live reports whether the auction still holds its listing.
func (s AuctionStatus) Live() bool {
	return s == AuctionOpen || s == AuctionWon || s == AuctionPaying
}

// Offer is one price placed in an auction.
type Offer struct {
	UserID    string          `json:"user_id"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Auction sells one unit of a listing to the highest offer placed before EndsAt.
type Auction struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	ListingID     string          `json:"listing_id"`
	OpenedBy      string          `json:"opened_by"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	EndsAt        time.Time       `json:"ends_at"`
	Offers        []Offer         `json:"offers"`
	Status        AuctionStatus   `json:"status"`
	WinnerID      string          `json:"winner_id,omitempty"`
	WinningPrice  decimal.Decimal `json:"winning_price"`
	PurchaseID    string          `json:"purchase_id,omitempty"`
	Version       int             `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (a *Auction) clone() *Auction {
	cp := *a
	cp.Offers = append([]Offer(nil), a.Offers...)
	return &cp
}

// Highest returns the best offer so far, if any.
func (a *Auction) Highest() (Offer, bool) {
	if len(a.Offers) == 0 {
		return Offer{}, false
	}
	best := a.Offers[0]
	for _, o := range a.Offers[1:] {
		if o.Price.GreaterThan(best.Price) {
			best = o
		}
	}
	return best, true
}

// AuctionStatusView is the public summary of an auction.
type AuctionStatusView struct {
	AuctionID     string          `json:"auction_id"`
	Status        AuctionStatus   `json:"status"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Offers        int             `json:"offers"`
	TimeLeftMS    int64           `json:"time_left_ms"`
}

// SubmitBidRequest opens a negotiation on one listing.
type SubmitBidRequest struct {
	StoreID   string          `json:"store_id"`
	ListingID string          `json:"listing_id"`
	Price     decimal.Decimal `json:"price"`
}

func (r SubmitBidRequest) Validate() error {
	if strings.TrimSpace(r.StoreID) == "" || strings.TrimSpace(r.ListingID) == "" {
		return apperr.Invalid("store_id and listing_id are required")
	}
	return positive("bid", r.Price)
}

// CounterRequest carries the price a store proposes instead of the bid.
type CounterRequest struct {
	Price decimal.Decimal `json:"price"`
}

// OpenAuctionRequest puts one unit of a listing up for auction.
type OpenAuctionRequest struct {
	StoreID       string          `json:"store_id"`
	ListingID     string          `json:"listing_id"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	EndsAt        time.Time       `json:"ends_at"`
}

func (r OpenAuctionRequest) Validate() error {
	if strings.TrimSpace(r.StoreID) == "" || strings.TrimSpace(r.ListingID) == "" {
		return apperr.Invalid("store_id and listing_id are required")
	}
	if r.StartingPrice.IsNegative() {
		return apperr.Invalid("starting price must be >= 0, got %s", r.StartingPrice)
	}
	return nil
}

// OfferRequest is a price placed in an auction.
type OfferRequest struct {
	Price decimal.Decimal `json:"price"`
}

// PurchaseRequest says how the buyer pays for and receives a settled bid or auction.
type PurchaseRequest struct {
	Payment  payment.PaymentDetails  `json:"payment"`
	Shipment payment.ShipmentDetails `json:"shipment"`
}

func positive(what string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return apperr.Invalid("%s must be a positive amount, got %s", what, v)
	}
	return nil
}
