package roles

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// state is the appointment forest of one store, keyed by user id.
// Ledger never mutates a published state; it clones, edits and swaps.
type state struct {
	roles           map[string]Role
	appointedBy     map[string]string
	ownerChildren   map[string][]string
	managerChildren map[string][]string
	permissions     map[string]map[Permission]struct{}
}

func newState(founderID string) *state {
	return &state{
		roles:           map[string]Role{founderID: RoleFounder},
		appointedBy:     map[string]string{},
		ownerChildren:   map[string][]string{founderID: nil},
		managerChildren: map[string][]string{founderID: nil},
		permissions:     map[string]map[Permission]struct{}{},
	}
}

func (s *state) clone() *state {
	next := &state{
		roles:           make(map[string]Role, len(s.roles)),
		appointedBy:     make(map[string]string, len(s.appointedBy)),
		ownerChildren:   make(map[string][]string, len(s.ownerChildren)),
		managerChildren: make(map[string][]string, len(s.managerChildren)),
		permissions:     make(map[string]map[Permission]struct{}, len(s.permissions)),
	}
	for k, v := range s.roles {
		next.roles[k] = v
	}
	for k, v := range s.appointedBy {
		next.appointedBy[k] = v
	}
	for k, v := range s.ownerChildren {
		next.ownerChildren[k] = append([]string(nil), v...)
	}
	for k, v := range s.managerChildren {
		next.managerChildren[k] = append([]string(nil), v...)
	}
	for k, set := range s.permissions {
		cp := make(map[Permission]struct{}, len(set))
		for p := range set {
			cp[p] = struct{}{}
		}
		next.permissions[k] = cp
	}
	return next
}

func (s *state) isOwner(userID string) bool { return s.roles[userID].IsOwner() }

func (s *state) isManager(userID string) bool { return s.roles[userID] == RoleManager }

// Ledger is the appointment forest of one store. Mutations are serialized by a
// per-store lock; readers see either the state before or after a mutation.
type Ledger struct {
	mu      sync.RWMutex
	storeID string
	founder string
	st      *state
	journal Journal
	log     logrus.FieldLogger
	// removed is set under mu once the store is destroyed; every later mutation fails.
	removed bool
}

func newLedger(storeID, founderID string, st *state, journal Journal, log logrus.FieldLogger) *Ledger {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Ledger{
		storeID: storeID,
		founder: founderID,
		st:      st,
		journal: journal,
		log:     log.WithField("store_id", storeID),
	}
}

// live fails once the ledger's store has been removed. Callers hold l.mu.
func (l *Ledger) live() error {
	if l.removed {
		return fmt.Errorf("%w: store %s was removed", apperr.ErrNotFound, l.storeID)
	}
	return nil
}

// commit persists next through the journal and publishes it. Callers hold l.mu.
func (l *Ledger) commit(ctx context.Context, next *state) error {
	if err := l.journal.SaveAssignments(ctx, l.storeID, snapshotOf(l.founder, next)); err != nil {
		return fmt.Errorf("persist roles of store %s: %w", l.storeID, err)
	}
	l.st = next
	return nil
}

// StoreID returns the store this ledger belongs to.
func (l *Ledger) StoreID() string { return l.storeID }

// Founder returns the immutable founder id.
func (l *Ledger) Founder() string { return l.founder }

// AddOwner appoints newOwnerID as an owner on behalf of appointerID.
func (l *Ledger) AddOwner(ctx context.Context, appointerID, newOwnerID string) error {
	return l.appoint(ctx, appointerID, newOwnerID, RoleOwner)
}

// AddManager appoints newManagerID as a manager with no permissions.
func (l *Ledger) AddManager(ctx context.Context, appointerID, newManagerID string) error {
	return l.appoint(ctx, appointerID, newManagerID, RoleManager)
}

func (l *Ledger) appoint(ctx context.Context, appointerID, userID string, role Role) error {
	if err := requireID("appointer id", appointerID); err != nil {
		return err
	}
	if err := requireID("user id", userID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.live(); err != nil {
		return err
	}
	if !l.st.isOwner(appointerID) {
		return notOwner(l.storeID, appointerID)
	}
	if held, ok := l.st.roles[userID]; ok {
		return fmt.Errorf("%w: user %s is already %s of store %s", apperr.ErrDuplicateRole, userID, held, l.storeID)
	}

	next := l.st.clone()
	next.roles[userID] = role
	next.appointedBy[userID] = appointerID
	switch role {
	case RoleOwner:
		next.ownerChildren[appointerID] = append(next.ownerChildren[appointerID], userID)
		next.ownerChildren[userID] = nil
		next.managerChildren[userID] = nil
	case RoleManager:
		next.managerChildren[appointerID] = append(next.managerChildren[appointerID], userID)
		next.permissions[userID] = map[Permission]struct{}{}
	}
	if err := l.commit(ctx, next); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"user_id": userID, "appointed_by": appointerID, "role": role}).Info("role appointed")
	return nil
}

// GrantPermission adds p to managerID. Only the manager's own appointer may do it.
func (l *Ledger) GrantPermission(ctx context.Context, managerID, requesterID string, p Permission) error {
	return l.changePermission(ctx, managerID, requesterID, p, true)
}

// RevokePermission removes p from managerID. Only the manager's own appointer may do it.
func (l *Ledger) RevokePermission(ctx context.Context, managerID, requesterID string, p Permission) error {
	return l.changePermission(ctx, managerID, requesterID, p, false)
}

func (l *Ledger) changePermission(ctx context.Context, managerID, requesterID string, p Permission, grant bool) error {
	p, err := ParsePermission(string(p))
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.live(); err != nil {
		return err
	}
	if !l.st.isManager(managerID) {
		return fmt.Errorf("%w: user %s is not a manager of store %s", apperr.ErrNotFound, managerID, l.storeID)
	}
	if l.st.appointedBy[managerID] != requesterID {
		return fmt.Errorf("%w: user %s did not appoint manager %s", apperr.ErrNotAuthorized, requesterID, managerID)
	}
	if _, has := l.st.permissions[managerID][p]; has == grant {
		return nil
	}

	next := l.st.clone()
	if grant {
		next.permissions[managerID][p] = struct{}{}
	} else {
		delete(next.permissions[managerID], p)
	}
	if err := l.commit(ctx, next); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"user_id": managerID, "permission": p, "granted": grant}).Info("manager permission changed")
	return nil
}

// RemoveOwner removes targetID and, depth first, every owner and manager it
// transitively appointed. Only targetID's direct appointer may do it.
func (l *Ledger) RemoveOwner(ctx context.Context, requesterID, targetID string) (Removal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.live(); err != nil {
		return Removal{}, err
	}
	if targetID == l.founder {
		return Removal{}, fmt.Errorf("%w: %s founded store %s", apperr.ErrFounderProtected, targetID, l.storeID)
	}
	if !l.st.isOwner(requesterID) {
		return Removal{}, notOwner(l.storeID, requesterID)
	}
	if l.st.roles[targetID] != RoleOwner {
		return Removal{}, fmt.Errorf("%w: user %s is not an owner of store %s", apperr.ErrNotFound, targetID, l.storeID)
	}
	if l.st.appointedBy[targetID] != requesterID {
		return Removal{}, fmt.Errorf("%w: user %s did not appoint owner %s", apperr.ErrNotAuthorized, requesterID, targetID)
	}

	var removed Removal
	l.collect(targetID, &removed)

	next := l.st.clone()
	parent := next.appointedBy[targetID]
	next.ownerChildren[parent] = without(next.ownerChildren[parent], targetID)
	for _, id := range removed.Owners {
		delete(next.roles, id)
		delete(next.appointedBy, id)
		delete(next.ownerChildren, id)
		delete(next.managerChildren, id)
	}
	for _, id := range removed.Managers {
		delete(next.roles, id)
		delete(next.appointedBy, id)
		delete(next.permissions, id)
	}
	if err := l.commit(ctx, next); err != nil {
		return Removal{}, err
	}
	l.log.WithFields(logrus.Fields{
		"user_id":          targetID,
		"removed_by":       requesterID,
		"removed_owners":   len(removed.Owners),
		"removed_managers": len(removed.Managers),
	}).Info("owner removed")
	return removed, nil
}

// collect walks the subtree rooted at ownerID, children before their appointer.
func (l *Ledger) collect(ownerID string, out *Removal) {
	for _, child := range l.st.ownerChildren[ownerID] {
		l.collect(child, out)
	}
	out.Managers = append(out.Managers, l.st.managerChildren[ownerID]...)
	out.Owners = append(out.Owners, ownerID)
}

// RemoveManager removes managerID. Only the manager's appointer may do it.
func (l *Ledger) RemoveManager(ctx context.Context, requesterID, managerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.live(); err != nil {
		return err
	}
	if !l.st.isOwner(requesterID) {
		return notOwner(l.storeID, requesterID)
	}
	if !l.st.isManager(managerID) {
		return fmt.Errorf("%w: user %s is not a manager of store %s", apperr.ErrNotFound, managerID, l.storeID)
	}
	parent := l.st.appointedBy[managerID]
	if parent != requesterID {
		return fmt.Errorf("%w: user %s did not appoint manager %s", apperr.ErrNotAuthorized, requesterID, managerID)
	}

	next := l.st.clone()
	next.managerChildren[parent] = without(next.managerChildren[parent], managerID)
	delete(next.roles, managerID)
	delete(next.appointedBy, managerID)
	delete(next.permissions, managerID)
	if err := l.commit(ctx, next); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"user_id": managerID, "removed_by": requesterID}).Info("manager removed")
	return nil
}

// RoleOf returns the role userID holds, if any.
func (l *Ledger) RoleOf(userID string) (Role, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.st.roles[userID]
	return r, ok
}

// IsOwner is true for owners and the founder.
func (l *Ledger) IsOwner(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.isOwner(userID)
}

// IsManager is true only for managers.
func (l *Ledger) IsManager(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.isManager(userID)
}

// HasPermission is true for any owner, or for a manager explicitly granted p.
func (l *Ledger) HasPermission(userID string, p Permission) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.st.isOwner(userID) {
		return true
	}
	_, ok := l.st.permissions[userID][p]
	return ok
}

// PermissionsOf returns managerID's permissions. Visible to the manager and to owners.
func (l *Ledger) PermissionsOf(managerID, requesterID string) ([]Permission, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if requesterID != managerID && !l.st.isOwner(requesterID) {
		return nil, fmt.Errorf("%w: user %s cannot view permissions of %s", apperr.ErrNotAuthorized, requesterID, managerID)
	}
	if !l.st.isManager(managerID) {
		return nil, fmt.Errorf("%w: user %s is not a manager of store %s", apperr.ErrNotFound, managerID, l.storeID)
	}
	return sortedPermissions(l.st.permissions[managerID]), nil
}

// AppointerOf returns who appointed userID. The founder has no appointer.
func (l *Ledger) AppointerOf(userID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.st.appointedBy[userID]
	return a, ok
}

// Owners returns the founder and every owner, sorted.
func (l *Ledger) Owners() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.usersWith(func(r Role) bool { return r.IsOwner() })
}

// Managers returns every manager, sorted.
func (l *Ledger) Managers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.usersWith(func(r Role) bool { return r == RoleManager })
}

// BidApprovers returns owners plus managers holding APPROVE_BIDS.
func (l *Ledger) BidApprovers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := l.st.usersWith(func(r Role) bool { return r.IsOwner() })
	for _, m := range l.st.usersWith(func(r Role) bool { return r == RoleManager }) {
		if _, ok := l.st.permissions[m][PermissionApproveBids]; ok {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Staff lists every position in the store. Only owners may ask.
func (l *Ledger) Staff(requesterID string) ([]StaffMember, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.st.isOwner(requesterID) {
		return nil, notOwner(l.storeID, requesterID)
	}
	ids := l.st.usersWith(func(Role) bool { return true })
	out := make([]StaffMember, 0, len(ids))
	for _, id := range ids {
		m := StaffMember{UserID: id, Role: l.st.roles[id], AppointedBy: l.st.appointedBy[id]}
		if m.Role == RoleManager {
			m.Permissions = sortedPermissions(l.st.permissions[id])
		}
		out = append(out, m)
	}
	return out, nil
}

// Snapshot returns the persisted form of the forest.
func (l *Ledger) Snapshot() []Assignment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return snapshotOf(l.founder, l.st)
}

func (s *state) usersWith(match func(Role) bool) []string {
	var out []string
	for id, r := range s.roles {
		if match(r) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// snapshotOf orders rows so every appointer precedes its appointees.
func snapshotOf(founderID string, s *state) []Assignment {
	rows := make([]Assignment, 0, len(s.roles))
	var walk func(owner string)
	walk = func(owner string) {
		rows = append(rows, Assignment{UserID: owner, Role: s.roles[owner], AppointedBy: s.appointedBy[owner]})
		for _, m := range s.managerChildren[owner] {
			rows = append(rows, Assignment{
				UserID:      m,
				Role:        RoleManager,
				AppointedBy: owner,
				Permissions: sortedPermissions(s.permissions[m]),
			})
		}
		for _, child := range s.ownerChildren[owner] {
			walk(child)
		}
	}
	walk(founderID)
	return rows
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
