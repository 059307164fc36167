// Package payment charges buyers and books deliveries through external
// providers on behalf of the checkout saga.
package payment

import (
	"strings"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// PaymentDetails is the card a checkout is charged against.
type PaymentDetails struct {
	Currency   string `json:"currency"`
	CardNumber string `json:"card_number"`
	Month      string `json:"month"`
	Year       string `json:"year"`
	Holder     string `json:"holder"`
	CCV        string `json:"ccv"`
	HolderID   string `json:"id"`
}

// Validate checks that every field the provider needs is present.
func (p PaymentDetails) Validate() error {
	switch {
	case strings.TrimSpace(p.CardNumber) == "":
		return apperr.Invalid("card_number is required")
	case p.Month == "" || p.Year == "":
		return apperr.Invalid("card expiry month and year are required")
	case strings.TrimSpace(p.Holder) == "":
		return apperr.Invalid("holder is required")
	case p.CCV == "":
		return apperr.Invalid("ccv is required")
	}
	return nil
}

// Masked returns the card number with all but the last four digits hidden.
func (p PaymentDetails) Masked() string {
	n := strings.TrimSpace(p.CardNumber)
	if len(n) <= 4 {
		return "****"
	}
	return "****" + n[len(n)-4:]
}

// ShipmentDetails is the delivery address of a checkout.
type ShipmentDetails struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	Zip     string `json:"zip"`
}

func (s ShipmentDetails) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return apperr.Invalid("shipment name is required")
	case strings.TrimSpace(s.Address) == "":
		return apperr.Invalid("shipment address is required")
	case strings.TrimSpace(s.City) == "":
		return apperr.Invalid("shipment city is required")
	case strings.TrimSpace(s.Country) == "":
		return apperr.Invalid("shipment country is required")
	case strings.TrimSpace(s.Zip) == "":
		return apperr.Invalid("shipment zip is required")
	}
	return nil
}

// DefaultCurrency is charged when PaymentDetails.Currency is empty.
const DefaultCurrency = "USD"
