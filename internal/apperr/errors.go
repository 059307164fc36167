// Package apperr holds the error taxonomy shared by the marketplace modules.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w", err) to add context.
var (
	ErrNotAuthorized     = errors.New("market: not authorized")
	ErrDuplicateRole     = errors.New("market: role already held")
	ErrNotFound          = errors.New("market: not found")
	ErrListingNotFound   = errors.New("market: listing not found")
	ErrInvalidArgument   = errors.New("market: invalid argument")
	ErrInsufficientStock = errors.New("market: insufficient stock")
	ErrUnknownPolicyType = errors.New("market: unknown policy type")
	ErrFounderProtected  = errors.New("market: founder cannot be removed")
	ErrAlreadyExists     = errors.New("market: already exists")
	ErrStoreClosed       = errors.New("market: store is closed")
	ErrPurchaseRejected  = errors.New("market: purchase rejected by store policy")
	ErrPaymentFailed     = errors.New("market: payment failed")
	ErrShipmentFailed    = errors.New("market: shipment failed")
	ErrInvalidState      = errors.New("market: not allowed in current state")
)

// InsufficientStockError names the first listing found short during a reservation.
type InsufficientStockError struct {
	StoreID   string
	ListingID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("market: insufficient stock for listing %s in store %s: requested %d, available %d",
		e.ListingID, e.StoreID, e.Requested, e.Available)
}

// Is reports ErrInsufficientStock as the matching sentinel.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Violation describes one purchase policy that rejected a cart.
type Violation struct {
	Policy string `json:"policy"`
	Reason string `json:"reason"`
}

// PurchaseRejectedError carries every failing purchase policy of a store.
type PurchaseRejectedError struct {
	StoreID    string
	Violations []Violation
}

func (e *PurchaseRejectedError) Error() string {
	reasons := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		reasons = append(reasons, v.Policy+": "+v.Reason)
	}
	return fmt.Sprintf("market: purchase rejected by store %s: %s", e.StoreID, strings.Join(reasons, "; "))
}

// Is reports ErrPurchaseRejected as the matching sentinel.
func (e *PurchaseRejectedError) Is(target error) bool { return target == ErrPurchaseRejected }

// Invalid builds an ErrInvalidArgument with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsNotFound returns true for both store-level and listing-level lookups.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrListingNotFound)
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrFounderProtected):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateRole), errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrStoreClosed),
		errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnknownPolicyType):
		return http.StatusBadRequest
	case errors.Is(err, ErrPurchaseRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrShipmentFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
