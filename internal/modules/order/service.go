// Package order runs the checkout saga and keeps purchase history.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/metrics"
	"github.com/georgemunganga/marketplace/internal/modules/inventory"
	"github.com/georgemunganga/marketplace/internal/modules/payment"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
	"github.com/georgemunganga/marketplace/internal/modules/store"
)

// Service defines checkout and purchase history.
type Service interface {
	// Checkout quotes every bag, reserves the stock of all of them at once,
	// charges the buyer and books the delivery. A failure after the
	// reservation undoes every step already taken.
	Checkout(ctx context.Context, userID string, req CheckoutRequest) (*Purchase, error)

	// GetPurchase returns one of the buyer's own purchases.
	GetPurchase(ctx context.Context, userID, purchaseID string) (*Purchase, error)

	// History returns every purchase of userID, newest first.
	History(ctx context.Context, userID string) ([]*Purchase, error)

	// StoreHistory returns the sales of a store. Only its owners may see them.
	StoreHistory(ctx context.Context, storeID, requesterID string) ([]*Sale, error)

	// Buy settles one line at a price agreed outside the store's policies,
	// such as an approved bid or a won auction. It reserves, charges, ships
	// and records the sale with the same compensation as Checkout.
	Buy(ctx context.Context, userID string, req DirectPurchase) (*Purchase, error)
}

// Stores is the part of the store coordinator checkout relies on.
type Stores interface {
	Quote(ctx context.Context, storeID string, cart policy.Cart) (*store.Quote, error)
	Owners(ctx context.Context, storeID string) ([]string, error)
}

// Deps are the collaborators of the checkout service.
type Deps struct {
	Stores    Stores
	Stock     inventory.Stock
	Payments  payment.PaymentGateway
	Shipments payment.ShipmentGateway
	Purchases Repository
	Notifier  store.Notifier
	Log       logrus.FieldLogger
}

type service struct {
	stores    Stores
	stock     inventory.Stock
	payments  payment.PaymentGateway
	shipments payment.ShipmentGateway
	purchases Repository
	notifier  store.Notifier
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewService creates a new checkout service.
func NewService(d Deps) Service {
	n := d.Notifier
	if n == nil {
		n = store.NopNotifier{}
	}
	return &service{
		stores:    d.Stores,
		stock:     d.Stock,
		payments:  d.Payments,
		shipments: d.Shipments,
		purchases: d.Purchases,
		notifier:  n,
		log:       d.Log,
		now:       time.Now,
	}
}

// Checkout outcomes as recorded in metrics.
const (
	resultCompleted         = "completed"
	resultInvalid           = "invalid"
	resultRejected          = "rejected"
	resultInsufficientStock = "insufficient_stock"
	resultPaymentFailed     = "payment_failed"
	resultShipmentFailed    = "shipment_failed"
	resultPersistFailed     = "persist_failed"
	resultError             = "error"
)

func (s *service) Checkout(ctx context.Context, userID string, req CheckoutRequest) (p *Purchase, err error) {
	start := s.now()
	result := resultError
	defer func() { metrics.RecordCheckout(result, time.Since(start)) }()

	if userID == "" {
		return nil, fmt.Errorf("%w: checkout needs a signed-in buyer", apperr.ErrNotAuthorized)
	}
	if err := req.Validate(); err != nil {
		result = resultInvalid
		return nil, err
	}
	log := s.log.WithField("user_id", userID)

	// ── 1. quote every bag ────────────────────────────────────────────────────
	storeIDs := make([]string, 0, len(req.Bags))
	for id := range req.Bags {
		storeIDs = append(storeIDs, id)
	}
	sort.Strings(storeIDs)

	p = &Purchase{ID: uuid.NewString(), UserID: userID, Subtotal: decimal.Zero, Discount: decimal.Zero, Total: decimal.Zero}
	cuts := inventory.Cuts{}
	for _, storeID := range storeIDs {
		q, err := s.stores.Quote(ctx, storeID, req.Bags[storeID])
		if err != nil {
			if errors.Is(err, apperr.ErrPurchaseRejected) {
				result = resultRejected
			} else if errors.Is(err, apperr.ErrInvalidArgument) {
				result = resultInvalid
			}
			return nil, fmt.Errorf("quote store %s: %w", storeID, err)
		}
		for _, l := range q.Lines {
			cuts.Add(storeID, l.Product.ListingID, l.Quantity)
		}
		p.Stores = append(p.Stores, StorePurchase{
			StoreID:  storeID,
			Lines:    linesOf(q.Lines),
			Subtotal: q.Subtotal,
			Discount: q.Discount,
			Total:    q.Total,
		})
		p.Subtotal = p.Subtotal.Add(q.Subtotal)
		p.Discount = p.Discount.Add(q.Discount)
		p.Total = p.Total.Add(q.Total)
	}

	result, err = s.settle(ctx, log, p, cuts, req.Payment, req.Shipment)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"purchase_id": p.ID, "total": p.Total.String(), "stores": len(p.Stores)}).
		Info("checkout completed")
	return p, nil
}

func (s *service) Buy(ctx context.Context, userID string, req DirectPurchase) (p *Purchase, err error) {
	start := s.now()
	result := resultError
	defer func() { metrics.RecordCheckout(result, time.Since(start)) }()

	if userID == "" {
		return nil, fmt.Errorf("%w: buying needs a signed-in buyer", apperr.ErrNotAuthorized)
	}
	if err := req.Validate(); err != nil {
		result = resultInvalid
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "store_id": req.StoreID, "listing_id": req.ListingID})

	total := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	p = &Purchase{
		ID:     uuid.NewString(),
		UserID: userID,
		Stores: []StorePurchase{{
			StoreID: req.StoreID,
			Lines: []Line{{
				ListingID: req.ListingID,
				Name:      req.Name,
				Quantity:  req.Quantity,
				UnitPrice: req.UnitPrice,
				LineTotal: total,
			}},
			Subtotal: total,
			Discount: decimal.Zero,
			Total:    total,
		}},
		Subtotal: total,
		Discount: decimal.Zero,
		Total:    total,
	}
	cuts := inventory.Cuts{}
	cuts.Add(req.StoreID, req.ListingID, req.Quantity)

	result, err = s.settle(ctx, log, p, cuts, req.Payment, req.Shipment)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"purchase_id": p.ID, "total": p.Total.String()}).Info("direct purchase completed")
	return p, nil
}

// settle runs every step after pricing: reserve, charge, ship, persist and
// tell the owners. It returns the metrics outcome along with any error.
func (s *service) settle(ctx context.Context, log logrus.FieldLogger, p *Purchase, cuts inventory.Cuts,
	pay payment.PaymentDetails, ship payment.ShipmentDetails) (string, error) {
	// ── 2. reserve stock of all bags at once ──────────────────────────────────
	if err := s.stock.ReserveAndCommit(ctx, cuts); err != nil {
		if errors.Is(err, apperr.ErrInsufficientStock) {
			metrics.RecordReservation("insufficient")
			return resultInsufficientStock, err
		}
		metrics.RecordReservation("error")
		return resultError, err
	}
	metrics.RecordReservation("ok")

	// Compensation must run even when the caller has gone away.
	undo := context.WithoutCancel(ctx)

	// ── 3. charge ─────────────────────────────────────────────────────────────
	var err error
	p.TransactionID, err = s.payments.Charge(ctx, pay, p.Total)
	if err != nil {
		log.WithError(err).Warn("payment failed, releasing stock")
		s.release(undo, log, cuts)
		return resultPaymentFailed, fmt.Errorf("%w: %w", apperr.ErrPaymentFailed, err)
	}

	// ── 4. ship ───────────────────────────────────────────────────────────────
	p.TrackingID, err = s.shipments.Ship(ctx, ship)
	if err != nil {
		log.WithError(err).Warn("shipment failed, cancelling payment and releasing stock")
		s.cancelPayment(undo, log, p.TransactionID)
		s.release(undo, log, cuts)
		return resultShipmentFailed, fmt.Errorf("%w: %w", apperr.ErrShipmentFailed, err)
	}

	// ── 5. persist ────────────────────────────────────────────────────────────
	p.CreatedAt = s.now().UTC()
	if err := s.purchases.CreatePurchase(ctx, p); err != nil {
		log.WithError(err).Error("persist purchase failed, undoing checkout")
		if cerr := s.shipments.Cancel(undo, p.TrackingID); cerr != nil {
			log.WithError(cerr).WithField("tracking_id", p.TrackingID).Error("cancel shipment")
		}
		s.cancelPayment(undo, log, p.TransactionID)
		s.release(undo, log, cuts)
		return resultPersistFailed, fmt.Errorf("persist purchase: %w", err)
	}

	// ── 6. tell the owners ────────────────────────────────────────────────────
	for _, sp := range p.Stores {
		owners, err := s.stores.Owners(ctx, sp.StoreID)
		if err != nil {
			log.WithError(err).WithField("store_id", sp.StoreID).Warn("list owners for sale notification")
			continue
		}
		msg := fmt.Sprintf("purchase %s in store %s: %d item(s), total %s", p.ID, sp.StoreID, units(sp.Lines), sp.Total.StringFixed(2))
		for _, o := range owners {
			s.notifier.Notify(ctx, o, msg)
		}
	}
	return resultCompleted, nil
}

func (s *service) GetPurchase(ctx context.Context, userID, purchaseID string) (*Purchase, error) {
	p, err := s.purchases.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		// Other buyers' purchases are indistinguishable from missing ones.
		return nil, fmt.Errorf("%w: purchase %s", apperr.ErrNotFound, purchaseID)
	}
	return p, nil
}

func (s *service) History(ctx context.Context, userID string) ([]*Purchase, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	return s.purchases.ListByUser(ctx, userID)
}

func (s *service) StoreHistory(ctx context.Context, storeID, requesterID string) ([]*Sale, error) {
	owners, err := s.stores.Owners(ctx, storeID)
	if err != nil {
		return nil, err
	}
	for _, o := range owners {
		if o == requesterID {
			return s.purchases.ListByStore(ctx, storeID)
		}
	}
	return nil, fmt.Errorf("%w: only owners see the sales of store %s", apperr.ErrNotAuthorized, storeID)
}

// ── compensation ─────────────────────────────────────────────────────────────

func (s *service) release(ctx context.Context, log logrus.FieldLogger, cuts inventory.Cuts) {
	if err := s.stock.Release(ctx, cuts); err != nil {
		log.WithError(err).Error("release reserved stock")
	}
}

func (s *service) cancelPayment(ctx context.Context, log logrus.FieldLogger, transactionID string) {
	if err := s.payments.Cancel(ctx, transactionID); err != nil {
		log.WithError(err).WithField("transaction_id", transactionID).Error("cancel payment")
	}
}

func units(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
