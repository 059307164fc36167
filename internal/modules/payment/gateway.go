package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// PaymentGateway is the provider-agnostic interface every payment adapter implements.
type PaymentGateway interface {
	// Charge takes amount from the card and returns the provider transaction id.
	Charge(ctx context.Context, details PaymentDetails, amount decimal.Decimal) (string, error)
	// Cancel reverses a previous charge.
	Cancel(ctx context.Context, transactionID string) error
}

// ShipmentGateway books and cancels deliveries.
type ShipmentGateway interface {
	// Ship books a delivery and returns the provider tracking id.
	Ship(ctx context.Context, details ShipmentDetails) (string, error)
	Cancel(ctx context.Context, trackingID string) error
}

// ── Sandbox payment ──────────────────────────────────────────────────────────
// Accepts every valid card and remembers what it charged so cancellations of
// unknown transactions fail like a real provider would.

type SandboxPayment struct {
	mu      sync.Mutex
	charged map[string]decimal.Decimal
	log     logrus.FieldLogger
}

func NewSandboxPayment(log logrus.FieldLogger) *SandboxPayment {
	return &SandboxPayment{charged: make(map[string]decimal.Decimal), log: log}
}

func (g *SandboxPayment) Charge(ctx context.Context, details PaymentDetails, amount decimal.Decimal) (string, error) {
	if err := details.Validate(); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", apperr.Invalid("amount must be greater than 0")
	}

	// Sandbox stub: simulate immediate settlement
	ref := fmt.Sprintf("PAY-%s-%04d", time.Now().Format("20060102150405"), rand.Intn(10000))

	g.mu.Lock()
	g.charged[ref] = amount
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{"transaction_id": ref, "card": details.Masked(), "amount": amount.String()}).
		Info("sandbox payment charged")
	return ref, nil
}

func (g *SandboxPayment) Cancel(ctx context.Context, transactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.charged[transactionID]; !ok {
		return fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, transactionID)
	}
	delete(g.charged, transactionID)
	g.log.WithField("transaction_id", transactionID).Info("sandbox payment cancelled")
	return nil
}

// Charged reports whether transactionID is a live, uncancelled charge.
func (g *SandboxPayment) Charged(transactionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.charged[transactionID]
	return ok
}

// ── Sandbox shipment ─────────────────────────────────────────────────────────

type SandboxShipment struct {
	mu     sync.Mutex
	booked map[string]ShipmentDetails
	log    logrus.FieldLogger
}

func NewSandboxShipment(log logrus.FieldLogger) *SandboxShipment {
	return &SandboxShipment{booked: make(map[string]ShipmentDetails), log: log}
}

func (g *SandboxShipment) Ship(ctx context.Context, details ShipmentDetails) (string, error) {
	if err := details.Validate(); err != nil {
		return "", err
	}

	// Sandbox stub: every address is deliverable
	ref := fmt.Sprintf("SHP-%s-%04d", time.Now().Format("20060102150405"), rand.Intn(10000))

	g.mu.Lock()
	g.booked[ref] = details
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{"tracking_id": ref, "country": details.Country}).Info("sandbox shipment booked")
	return ref, nil
}

func (g *SandboxShipment) Cancel(ctx context.Context, trackingID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.booked[trackingID]; !ok {
		return fmt.Errorf("%w: shipment %s", apperr.ErrNotFound, trackingID)
	}
	delete(g.booked, trackingID)
	g.log.WithField("tracking_id", trackingID).Info("sandbox shipment cancelled")
	return nil
}
