package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/metrics"
	"github.com/georgemunganga/marketplace/internal/modules/inventory"
	"github.com/georgemunganga/marketplace/internal/modules/policy"
	"github.com/georgemunganga/marketplace/internal/modules/roles"
)

// Notifier delivers a message to a user, reporting whether a live session took it.
// It is only called after the change it reports has committed.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) bool
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) bool { return false }

// Service coordinates store governance, policies and listings. Every
// management call names the acting user, who is authorized against the
// store's role ledger first.
type Service interface {
	// Store lifecycle
	CreateStore(ctx context.Context, founderID string, req CreateStoreRequest) (*Store, error)
	GetStore(ctx context.Context, id string) (*Store, error)
	GetStoreByName(ctx context.Context, name string) (*Store, error)
	ListStores(ctx context.Context) ([]*Store, error)
	OpenStore(ctx context.Context, storeID, requesterID string) error
	CloseStore(ctx context.Context, storeID, requesterID string) error
	RemoveStore(ctx context.Context, storeID, requesterID string) error

	// Appointments
	AppointOwner(ctx context.Context, storeID, appointerID, userID string) error
	AppointManager(ctx context.Context, storeID, appointerID, userID string) error
	GrantPermission(ctx context.Context, storeID, ownerID, managerID string, p roles.Permission) error
	RevokePermission(ctx context.Context, storeID, ownerID, managerID string, p roles.Permission) error
	RemoveOwner(ctx context.Context, storeID, requesterID, ownerID string) (roles.Removal, error)
	RemoveManager(ctx context.Context, storeID, requesterID, managerID string) error
	Staff(ctx context.Context, storeID, requesterID string) ([]roles.StaffMember, error)
	PermissionsOf(ctx context.Context, storeID, requesterID, managerID string) ([]roles.Permission, error)
	Owners(ctx context.Context, storeID string) ([]string, error)

	// Listings
	AddListing(ctx context.Context, storeID, requesterID string, req inventory.AddListingRequest) (*inventory.Listing, error)
	EditListing(ctx context.Context, storeID, requesterID, listingID string, req inventory.EditListingRequest) (*inventory.Listing, error)
	RemoveListing(ctx context.Context, storeID, requesterID, listingID string) error
	SetQuantity(ctx context.Context, storeID, requesterID, listingID string, qty int) error
	Restock(ctx context.Context, storeID, requesterID, listingID string, delta int) error

	// Policies
	Policies(ctx context.Context, storeID, requesterID string) (policy.Document, error)
	AddPurchasePolicy(ctx context.Context, storeID, requesterID string, rec policy.PurchaseRecord) error
	RemovePurchasePolicy(ctx context.Context, storeID, requesterID string, rec policy.PurchaseRecord) error
	AddDiscount(ctx context.Context, storeID, requesterID string, rec policy.DiscountRecord) (int, error)
	RemoveDiscount(ctx context.Context, storeID, requesterID string, index int) error
	SetDiscountCombination(ctx context.Context, storeID, requesterID, mode string) error

	// Quote prices one store bag, failing with *apperr.PurchaseRejectedError
	// when a purchase policy rejects it.
	Quote(ctx context.Context, storeID string, cart policy.Cart) (*Quote, error)

	// Load rebuilds role ledgers and policy handlers from storage.
	Load(ctx context.Context) error
}

// Deps are the collaborators of the store service.
type Deps struct {
	Stores Repository
	Roles  *roles.Registry
	// Assignments is read by Load. Nil means roles live in memory only.
	Assignments roles.Repository
	Policies    policy.Repository
	Listings    inventory.Service
	Notifier    Notifier
	Log         logrus.FieldLogger
}

// policyState holds the published handler of one store. Edits are serialized
// by mu; checkouts read current without locking.
type policyState struct {
	mu      sync.Mutex
	current atomic.Pointer[policy.Handler]
}

type service struct {
	stores      Repository
	roles       *roles.Registry
	assignments roles.Repository
	policies    policy.Repository
	listings    inventory.Service
	notifier    Notifier
	log         logrus.FieldLogger

	mu     sync.RWMutex
	states map[string]*policyState
}

// NewService creates the store coordinator.
func NewService(d Deps) Service {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	return &service{
		stores:      d.Stores,
		roles:       d.Roles,
		assignments: d.Assignments,
		policies:    d.Policies,
		listings:    d.Listings,
		notifier:    d.Notifier,
		log:         d.Log,
		states:      make(map[string]*policyState),
	}
}

// ── store lifecycle ──────────────────────────────────────────────────────────

func (s *service) CreateStore(ctx context.Context, founderID string, req CreateStoreRequest) (*Store, error) {
	if strings.TrimSpace(founderID) == "" {
		return nil, fmt.Errorf("%w: anonymous users cannot open stores", apperr.ErrNotAuthorized)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.stores.GetStoreByName(ctx, req.Name); err == nil {
		return nil, fmt.Errorf("%w: store named %q", apperr.ErrAlreadyExists, req.Name)
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}

	st := &Store{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		FounderID:   founderID,
		IsActive:    true,
	}
	if err := s.stores.CreateStore(ctx, st); err != nil {
		return nil, err
	}
	if _, err := s.roles.Create(ctx, st.ID, founderID); err != nil {
		s.undoCreate(ctx, st.ID, false)
		return nil, err
	}
	h := policy.NewHandler()
	if err := s.policies.SaveDocument(ctx, st.ID, h.Document()); err != nil {
		s.undoCreate(ctx, st.ID, true)
		return nil, fmt.Errorf("save default policies: %w", err)
	}
	s.publish(st.ID, h)

	s.log.WithFields(logrus.Fields{"store_id": st.ID, "user_id": founderID}).Info("store created")
	return st, nil
}

func (s *service) undoCreate(ctx context.Context, storeID string, withRoles bool) {
	if withRoles {
		if err := s.roles.Remove(ctx, storeID); err != nil {
			s.log.WithError(err).WithField("store_id", storeID).Error("undo store roles")
		}
	}
	if err := s.stores.DeleteStore(ctx, storeID); err != nil {
		s.log.WithError(err).WithField("store_id", storeID).Error("undo store record")
	}
}

func (s *service) GetStore(ctx context.Context, id string) (*Store, error) {
	return s.stores.GetStore(ctx, id)
}

func (s *service) GetStoreByName(ctx context.Context, name string) (*Store, error) {
	return s.stores.GetStoreByName(ctx, name)
}

func (s *service) ListStores(ctx context.Context) ([]*Store, error) {
	return s.stores.ListStores(ctx)
}

func (s *service) OpenStore(ctx context.Context, storeID, requesterID string) error {
	return s.setActive(ctx, storeID, requesterID, true)
}

func (s *service) CloseStore(ctx context.Context, storeID, requesterID string) error {
	return s.setActive(ctx, storeID, requesterID, false)
}

func (s *service) setActive(ctx context.Context, storeID, requesterID string, active bool) error {
	l, err := s.requireFounder(storeID, requesterID)
	if err != nil {
		return err
	}
	st, err := s.stores.GetStore(ctx, storeID)
	if err != nil {
		return err
	}
	if st.IsActive == active {
		return nil
	}
	if err := s.listings.SetStoreActive(ctx, storeID, active); err != nil {
		return fmt.Errorf("toggle listings of store %s: %w", storeID, err)
	}
	if err := s.stores.SetActive(ctx, storeID, active); err != nil {
		if rbErr := s.listings.SetStoreActive(ctx, storeID, !active); rbErr != nil {
			s.log.WithError(rbErr).WithField("store_id", storeID).Error("restore listing state")
		}
		return err
	}

	verb := "closed"
	if active {
		verb = "reopened"
	}
	s.log.WithFields(logrus.Fields{"store_id": storeID, "user_id": requesterID}).Infof("store %s", verb)
	s.notifyAll(ctx, staffOf(l), requesterID, fmt.Sprintf("Store %s was %s by its founder", st.Name, verb))
	return nil
}

func (s *service) RemoveStore(ctx context.Context, storeID, requesterID string) error {
	l, err := s.requireFounder(storeID, requesterID)
	if err != nil {
		return err
	}
	st, err := s.stores.GetStore(ctx, storeID)
	if err != nil {
		return err
	}
	recipients := staffOf(l)

	if err := s.listings.SetStoreActive(ctx, storeID, false); err != nil {
		return fmt.Errorf("deactivate listings of store %s: %w", storeID, err)
	}
	if err := s.stores.DeleteStore(ctx, storeID); err != nil {
		return err
	}
	if err := s.roles.Remove(ctx, storeID); err != nil {
		s.log.WithError(err).WithField("store_id", storeID).Error("remove store roles")
	}
	if err := s.policies.DeleteDocument(ctx, storeID); err != nil {
		s.log.WithError(err).WithField("store_id", storeID).Error("remove store policies")
	}
	s.mu.Lock()
	delete(s.states, storeID)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"store_id": storeID, "user_id": requesterID}).Info("store removed")
	s.notifyAll(ctx, recipients, requesterID, fmt.Sprintf("Store %s was removed by its founder", st.Name))
	return nil
}

// ── appointments ─────────────────────────────────────────────────────────────

func (s *service) AppointOwner(ctx context.Context, storeID, appointerID, userID string) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if err := l.AddOwner(ctx, appointerID, userID); err != nil {
		return err
	}
	metrics.RecordRoleChange("add_owner")
	s.notify(ctx, userID, "You were appointed owner of store %s by %s", storeID, appointerID)
	return nil
}

func (s *service) AppointManager(ctx context.Context, storeID, appointerID, userID string) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if err := l.AddManager(ctx, appointerID, userID); err != nil {
		return err
	}
	metrics.RecordRoleChange("add_manager")
	s.notify(ctx, userID, "You were appointed manager of store %s by %s", storeID, appointerID)
	return nil
}

func (s *service) GrantPermission(ctx context.Context, storeID, ownerID, managerID string, p roles.Permission) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if err := l.GrantPermission(ctx, managerID, ownerID, p); err != nil {
		return err
	}
	metrics.RecordRoleChange("grant_permission")
	s.notify(ctx, managerID, "You were granted %s in store %s", p, storeID)
	return nil
}

func (s *service) RevokePermission(ctx context.Context, storeID, ownerID, managerID string, p roles.Permission) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if err := l.RevokePermission(ctx, managerID, ownerID, p); err != nil {
		return err
	}
	metrics.RecordRoleChange("revoke_permission")
	s.notify(ctx, managerID, "Your %s permission in store %s was revoked", p, storeID)
	return nil
}

func (s *service) RemoveOwner(ctx context.Context, storeID, requesterID, ownerID string) (roles.Removal, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return roles.Removal{}, err
	}
	removed, err := l.RemoveOwner(ctx, requesterID, ownerID)
	if err != nil {
		return roles.Removal{}, err
	}
	metrics.RecordRoleChange("remove_owner")
	s.log.WithFields(logrus.Fields{
		"store_id": storeID,
		"user_id":  ownerID,
		"owners":   len(removed.Owners),
		"managers": len(removed.Managers),
	}).Info("owner removed")
	for _, id := range removed.All() {
		s.notify(ctx, id, "You were removed from store %s", storeID)
	}
	return removed, nil
}

func (s *service) RemoveManager(ctx context.Context, storeID, requesterID, managerID string) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if err := l.RemoveManager(ctx, requesterID, managerID); err != nil {
		return err
	}
	metrics.RecordRoleChange("remove_manager")
	s.notify(ctx, managerID, "You were removed as manager of store %s", storeID)
	return nil
}

func (s *service) Staff(_ context.Context, storeID, requesterID string) ([]roles.StaffMember, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return nil, err
	}
	return l.Staff(requesterID)
}

func (s *service) PermissionsOf(_ context.Context, storeID, requesterID, managerID string) ([]roles.Permission, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return nil, err
	}
	return l.PermissionsOf(managerID, requesterID)
}

func (s *service) Owners(_ context.Context, storeID string) ([]string, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return nil, err
	}
	return l.Owners(), nil
}

// ── listings ─────────────────────────────────────────────────────────────────

func (s *service) AddListing(ctx context.Context, storeID, requesterID string, req inventory.AddListingRequest) (*inventory.Listing, error) {
	if err := s.requirePermission(storeID, requesterID, roles.PermissionEditProducts); err != nil {
		return nil, err
	}
	st, err := s.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	l, err := s.listings.AddListing(ctx, storeID, req)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		// New listings of a closed store start inactive like the rest.
		if err := s.listings.SetStoreActive(ctx, storeID, false); err != nil {
			return nil, err
		}
		l.IsActive = false
	}
	return l, nil
}

func (s *service) EditListing(ctx context.Context, storeID, requesterID, listingID string, req inventory.EditListingRequest) (*inventory.Listing, error) {
	if err := s.requireListing(ctx, storeID, requesterID, listingID); err != nil {
		return nil, err
	}
	return s.listings.EditListing(ctx, listingID, req)
}

func (s *service) RemoveListing(ctx context.Context, storeID, requesterID, listingID string) error {
	if err := s.requireListing(ctx, storeID, requesterID, listingID); err != nil {
		return err
	}
	return s.listings.RemoveListing(ctx, listingID)
}

func (s *service) SetQuantity(ctx context.Context, storeID, requesterID, listingID string, qty int) error {
	if err := s.requireListing(ctx, storeID, requesterID, listingID); err != nil {
		return err
	}
	return s.listings.SetQuantity(ctx, listingID, qty)
}

func (s *service) Restock(ctx context.Context, storeID, requesterID, listingID string, delta int) error {
	if err := s.requireListing(ctx, storeID, requesterID, listingID); err != nil {
		return err
	}
	return s.listings.Restock(ctx, listingID, delta)
}

// requireListing checks EDIT_PRODUCTS and that listingID belongs to storeID.
func (s *service) requireListing(ctx context.Context, storeID, requesterID, listingID string) error {
	if err := s.requirePermission(storeID, requesterID, roles.PermissionEditProducts); err != nil {
		return err
	}
	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.StoreID != storeID {
		return fmt.Errorf("%w: %s is not listed in store %s", apperr.ErrListingNotFound, listingID, storeID)
	}
	return nil
}

// ── policies ─────────────────────────────────────────────────────────────────

func (s *service) Policies(_ context.Context, storeID, requesterID string) (policy.Document, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return policy.Document{}, err
	}
	if _, ok := l.RoleOf(requesterID); !ok {
		return policy.Document{}, fmt.Errorf("%w: %s holds no role in store %s", apperr.ErrNotAuthorized, requesterID, storeID)
	}
	h, err := s.handler(storeID)
	if err != nil {
		return policy.Document{}, err
	}
	return h.Document(), nil
}

func (s *service) AddPurchasePolicy(ctx context.Context, storeID, requesterID string, rec policy.PurchaseRecord) error {
	p, err := policy.NewPurchasePolicy(rec)
	if err != nil {
		return err
	}
	return s.editPolicies(ctx, storeID, requesterID, func(h *policy.Handler) error {
		return h.AddPurchasePolicy(p)
	})
}

func (s *service) RemovePurchasePolicy(ctx context.Context, storeID, requesterID string, rec policy.PurchaseRecord) error {
	p, err := policy.NewPurchasePolicy(rec)
	if err != nil {
		return err
	}
	return s.editPolicies(ctx, storeID, requesterID, func(h *policy.Handler) error {
		return h.RemovePurchasePolicy(p)
	})
}

func (s *service) AddDiscount(ctx context.Context, storeID, requesterID string, rec policy.DiscountRecord) (int, error) {
	d, err := policy.NewDiscount(rec)
	if err != nil {
		return 0, err
	}
	var index int
	err = s.editPolicies(ctx, storeID, requesterID, func(h *policy.Handler) error {
		i, err := h.AddDiscount(d)
		index = i
		return err
	})
	return index, err
}

func (s *service) RemoveDiscount(ctx context.Context, storeID, requesterID string, index int) error {
	return s.editPolicies(ctx, storeID, requesterID, func(h *policy.Handler) error {
		return h.RemoveDiscount(index)
	})
}

func (s *service) SetDiscountCombination(ctx context.Context, storeID, requesterID, mode string) error {
	return s.editPolicies(ctx, storeID, requesterID, func(h *policy.Handler) error {
		return h.SetCombination(policy.Combination(mode))
	})
}

// editPolicies applies edit to a clone of the store's handler, persists the
// result and only then publishes it.
func (s *service) editPolicies(ctx context.Context, storeID, requesterID string, edit func(*policy.Handler) error) error {
	if err := s.requirePermission(storeID, requesterID, roles.PermissionEditPolicies); err != nil {
		return err
	}
	ps, err := s.state(storeID)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	next := ps.current.Load().Clone()
	if err := edit(next); err != nil {
		return err
	}
	if err := s.policies.SaveDocument(ctx, storeID, next.Document()); err != nil {
		return fmt.Errorf("save policies of store %s: %w", storeID, err)
	}
	ps.current.Store(next)
	s.log.WithFields(logrus.Fields{"store_id": storeID, "user_id": requesterID}).Debug("policies updated")
	return nil
}

// ── quote ────────────────────────────────────────────────────────────────────

func (s *service) Quote(ctx context.Context, storeID string, cart policy.Cart) (*Quote, error) {
	st, err := s.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, fmt.Errorf("%w: %s", apperr.ErrStoreClosed, st.Name)
	}
	if len(cart.Items) == 0 {
		return nil, apperr.Invalid("bag of store %s is empty", storeID)
	}
	if err := cart.Validate(); err != nil {
		return nil, err
	}
	h, err := s.handler(storeID)
	if err != nil {
		return nil, err
	}
	lookup, err := s.listings.Lookup(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := h.CheckPurchase(storeID, cart, lookup); err != nil {
		return nil, err
	}
	lines, err := policy.Resolve(cart, lookup)
	if err != nil {
		return nil, err
	}
	subtotal := policy.Subtotal(lines)
	discount := h.CalculateDiscount(cart, lines)
	return &Quote{
		StoreID:  storeID,
		Lines:    lines,
		Subtotal: subtotal,
		Discount: discount,
		Total:    subtotal.Sub(discount),
	}, nil
}

// ── load ─────────────────────────────────────────────────────────────────────

func (s *service) Load(ctx context.Context) error {
	stores, err := s.stores.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	for _, st := range stores {
		if err := s.loadRoles(ctx, st); err != nil {
			return err
		}
		if err := s.loadPolicies(ctx, st.ID); err != nil {
			return err
		}
	}
	s.log.WithField("stores", len(stores)).Info("store state loaded")
	return nil
}

func (s *service) loadRoles(ctx context.Context, st *Store) error {
	var rows []roles.Assignment
	if s.assignments != nil {
		var err error
		if rows, err = s.assignments.LoadAssignments(ctx, st.ID); err != nil {
			return fmt.Errorf("load roles of store %s: %w", st.ID, err)
		}
	}
	if len(rows) == 0 {
		_, err := s.roles.Create(ctx, st.ID, st.FounderID)
		return err
	}
	if _, err := s.roles.Restore(st.ID, st.FounderID, rows); err != nil {
		return fmt.Errorf("restore roles of store %s: %w", st.ID, err)
	}
	return nil
}

func (s *service) loadPolicies(ctx context.Context, storeID string) error {
	doc, err := s.policies.LoadDocument(ctx, storeID)
	if apperr.IsNotFound(err) {
		h := policy.NewHandler()
		if err := s.policies.SaveDocument(ctx, storeID, h.Document()); err != nil {
			return err
		}
		s.publish(storeID, h)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load policies of store %s: %w", storeID, err)
	}
	h, err := policy.FromDocument(doc)
	if err != nil {
		return fmt.Errorf("decode policies of store %s: %w", storeID, err)
	}
	s.publish(storeID, h)
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *service) publish(storeID string, h *policy.Handler) {
	ps := &policyState{}
	ps.current.Store(h)
	s.mu.Lock()
	s.states[storeID] = ps
	s.mu.Unlock()
}

func (s *service) state(storeID string) (*policyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.states[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: store %s", apperr.ErrNotFound, storeID)
	}
	return ps, nil
}

func (s *service) handler(storeID string) (*policy.Handler, error) {
	ps, err := s.state(storeID)
	if err != nil {
		return nil, err
	}
	return ps.current.Load(), nil
}

func (s *service) requireFounder(storeID, requesterID string) (*roles.Ledger, error) {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return nil, err
	}
	if l.Founder() != requesterID {
		return nil, fmt.Errorf("%w: only the founder of store %s may do this", apperr.ErrNotAuthorized, storeID)
	}
	return l, nil
}

func (s *service) requirePermission(storeID, requesterID string, p roles.Permission) error {
	l, err := s.roles.Get(storeID)
	if err != nil {
		return err
	}
	if !l.HasPermission(requesterID, p) {
		return fmt.Errorf("%w: %s lacks %s in store %s", apperr.ErrNotAuthorized, requesterID, p, storeID)
	}
	return nil
}

func staffOf(l *roles.Ledger) []string {
	return append(l.Owners(), l.Managers()...)
}

func (s *service) notify(ctx context.Context, userID, format string, args ...interface{}) {
	if !s.notifier.Notify(ctx, userID, fmt.Sprintf(format, args...)) {
		s.log.WithField("user_id", userID).Debug("notification queued for offline user")
	}
}

func (s *service) notifyAll(ctx context.Context, userIDs []string, except, message string) {
	for _, id := range userIDs {
		if id != except {
			s.notify(ctx, id, "%s", message)
		}
	}
}
