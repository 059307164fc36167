package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Actions understood by the external payment and shipment services.
const (
	actionHandshake    = "handshake"
	actionPay          = "pay"
	actionCancelPay    = "cancel_pay"
	actionSupply       = "supply"
	actionCancelSupply = "cancel_supply"

	statusOK = "OK"
)

// ErrHandshake is returned when the provider does not answer the handshake.
var ErrHandshake = errors.New("provider handshake failed")

// RejectedError is a provider answer that was not OK.
type RejectedError struct {
	Action  string
	Status  string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s rejected (status %q): %s", e.Action, e.Status, e.Message)
	}
	return fmt.Sprintf("%s rejected (status %q)", e.Action, e.Status)
}

// reply is the single response shape every action returns.
type reply struct {
	TransactionID string `json:"transaction_id"`
	ErrorMessage  string `json:"error_message"`
	Status        string `json:"status"`
}

func (r reply) ok() bool { return r.Status == statusOK }

// client posts JSON action requests to one provider URL.
type client struct {
	url  string
	http *http.Client
	log  logrus.FieldLogger
}

func newClient(url string, timeout time.Duration, log logrus.FieldLogger) *client {
	return &client{url: url, http: &http.Client{Timeout: timeout}, log: log}
}

func (c *client) call(ctx context.Context, action string, body interface{}) (reply, error) {
	var out reply
	raw, err := json.Marshal(body)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("%s: provider answered HTTP %d", action, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%s: decode reply: %w", action, err)
	}
	return out, nil
}

func (c *client) handshake(ctx context.Context) error {
	r, err := c.call(ctx, actionHandshake, map[string]string{"action_type": actionHandshake})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if !r.ok() {
		return fmt.Errorf("%w: status %q", ErrHandshake, r.Status)
	}
	return nil
}

// cancel sends a cancel action for id and fails unless the provider says OK.
func (c *client) cancel(ctx context.Context, action, id string) error {
	r, err := c.call(ctx, action, map[string]string{"action_type": action, "transaction_id": id})
	if err != nil {
		return err
	}
	if !r.ok() {
		return &RejectedError{Action: action, Status: r.Status, Message: r.ErrorMessage}
	}
	return nil
}

// ── External payment ─────────────────────────────────────────────────────────

type payRequest struct {
	ActionType string  `json:"action_type"`
	Currency   string  `json:"currency"`
	Amount     float64 `json:"amount"`
	CardNumber string  `json:"card_number"`
	Month      string  `json:"month"`
	Year       string  `json:"year"`
	Holder     string  `json:"holder"`
	CCV        string  `json:"ccv"`
	ID         string  `json:"id"`
}

type externalPayment struct{ c *client }

// NewExternalPayment returns a PaymentGateway that talks to the provider at url.
func NewExternalPayment(url string, timeout time.Duration, log logrus.FieldLogger) PaymentGateway {
	return &externalPayment{c: newClient(url, timeout, log.WithField("gateway", "payment"))}
}

func (g *externalPayment) Charge(ctx context.Context, details PaymentDetails, amount decimal.Decimal) (string, error) {
	if err := details.Validate(); err != nil {
		return "", err
	}
	if err := g.c.handshake(ctx); err != nil {
		return "", err
	}

	currency := details.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	id := details.HolderID
	if id == "" {
		id = uuid.NewString()
	}
	r, err := g.c.call(ctx, actionPay, payRequest{
		ActionType: actionPay,
		Currency:   currency,
		Amount:     amount.InexactFloat64(),
		CardNumber: details.CardNumber,
		Month:      details.Month,
		Year:       details.Year,
		Holder:     details.Holder,
		CCV:        details.CCV,
		ID:         id,
	})
	if err != nil {
		return "", err
	}
	if !r.ok() || strings.TrimSpace(r.TransactionID) == "" {
		return "", &RejectedError{Action: actionPay, Status: r.Status, Message: r.ErrorMessage}
	}

	g.c.log.WithFields(logrus.Fields{"transaction_id": r.TransactionID, "card": details.Masked()}).Info("payment charged")
	return r.TransactionID, nil
}

func (g *externalPayment) Cancel(ctx context.Context, transactionID string) error {
	if err := g.c.cancel(ctx, actionCancelPay, transactionID); err != nil {
		return err
	}
	g.c.log.WithField("transaction_id", transactionID).Info("payment cancelled")
	return nil
}

// ── External shipment ────────────────────────────────────────────────────────

type supplyRequest struct {
	ActionType string `json:"action_type"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Zip        string `json:"zip"`
}

type externalShipment struct{ c *client }

// NewExternalShipment returns a ShipmentGateway that talks to the provider at url.
func NewExternalShipment(url string, timeout time.Duration, log logrus.FieldLogger) ShipmentGateway {
	return &externalShipment{c: newClient(url, timeout, log.WithField("gateway", "shipment"))}
}

func (g *externalShipment) Ship(ctx context.Context, details ShipmentDetails) (string, error) {
	if err := details.Validate(); err != nil {
		return "", err
	}
	if err := g.c.handshake(ctx); err != nil {
		return "", err
	}
	r, err := g.c.call(ctx, actionSupply, supplyRequest{
		ActionType: actionSupply,
		Name:       details.Name,
		Address:    details.Address,
		City:       details.City,
		Country:    details.Country,
		Zip:        details.Zip,
	})
	if err != nil {
		return "", err
	}
	if !r.ok() || strings.TrimSpace(r.TransactionID) == "" {
		return "", &RejectedError{Action: actionSupply, Status: r.Status, Message: r.ErrorMessage}
	}

	g.c.log.WithField("tracking_id", r.TransactionID).Info("shipment booked")
	return r.TransactionID, nil
}

func (g *externalShipment) Cancel(ctx context.Context, trackingID string) error {
	if err := g.c.cancel(ctx, actionCancelSupply, trackingID); err != nil {
		return err
	}
	g.c.log.WithField("tracking_id", trackingID).Info("shipment cancelled")
	return nil
}
