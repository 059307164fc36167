package roles

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Registry owns the ledgers of every store.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]*Ledger
	journal Journal
	log     logrus.FieldLogger
}

// NewRegistry creates an empty registry. A nil journal keeps roles in memory only.
func NewRegistry(journal Journal, log logrus.FieldLogger) *Registry {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Registry{
		ledgers: make(map[string]*Ledger),
		journal: journal,
		log:     log,
	}
}

// Create initializes the ledger of a new store with founderID as its founder.
func (r *Registry) Create(ctx context.Context, storeID, founderID string) (*Ledger, error) {
	if err := requireID("store id", storeID); err != nil {
		return nil, err
	}
	if err := requireID("founder id", founderID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ledgers[storeID]; ok {
		return nil, fmt.Errorf("%w: roles of store %s", apperr.ErrAlreadyExists, storeID)
	}
	st := newState(founderID)
	if err := r.journal.SaveAssignments(ctx, storeID, snapshotOf(founderID, st)); err != nil {
		return nil, fmt.Errorf("persist founder of store %s: %w", storeID, err)
	}
	l := newLedger(storeID, founderID, st, r.journal, r.log)
	r.ledgers[storeID] = l
	return l, nil
}

// Get returns the ledger of storeID.
func (r *Registry) Get(storeID string) (*Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.ledgers[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: roles of store %s", apperr.ErrNotFound, storeID)
	}
	return l, nil
}

// Remove destroys the ledger of storeID together with its persisted rows.
func (r *Registry) Remove(ctx context.Context, storeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.ledgers[storeID]
	if !ok {
		return fmt.Errorf("%w: roles of store %s", apperr.ErrNotFound, storeID)
	}

	// Retire the ledger before its rows go, so a holder of l cannot write them back.
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = true
	if err := r.journal.DeleteAssignments(ctx, storeID); err != nil {
		l.removed = false
		return fmt.Errorf("delete roles of store %s: %w", storeID, err)
	}
	delete(r.ledgers, storeID)
	return nil
}

// Restore rebuilds a ledger from persisted rows without writing them back.
func (r *Registry) Restore(storeID, founderID string, rows []Assignment) (*Ledger, error) {
	st, err := rebuild(storeID, founderID, rows)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ledgers[storeID]; ok {
		return nil, fmt.Errorf("%w: roles of store %s", apperr.ErrAlreadyExists, storeID)
	}
	l := newLedger(storeID, founderID, st, r.journal, r.log)
	r.ledgers[storeID] = l
	return l, nil
}

// rebuild checks the forest invariant: every row except the founder names an
// appointer that is an owner and appears earlier in the forest.
func rebuild(storeID, founderID string, rows []Assignment) (*state, error) {
	st := newState(founderID)
	pending := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		if row.UserID == founderID {
			if row.Role != RoleFounder {
				return nil, apperr.Invalid("store %s: founder %s stored as %s", storeID, founderID, row.Role)
			}
			continue
		}
		if row.Role == RoleFounder {
			return nil, apperr.Invalid("store %s: second founder %s", storeID, row.UserID)
		}
		pending = append(pending, row)
	}

	// Rows may arrive in any order; attach whatever has a placed appointer until stuck.
	for len(pending) > 0 {
		progressed := false
		rest := pending[:0]
		for _, row := range pending {
			if !st.isOwner(row.AppointedBy) {
				rest = append(rest, row)
				continue
			}
			if _, dup := st.roles[row.UserID]; dup {
				return nil, fmt.Errorf("%w: store %s lists %s twice", apperr.ErrDuplicateRole, storeID, row.UserID)
			}
			st.roles[row.UserID] = row.Role
			st.appointedBy[row.UserID] = row.AppointedBy
			switch row.Role {
			case RoleOwner:
				st.ownerChildren[row.AppointedBy] = append(st.ownerChildren[row.AppointedBy], row.UserID)
				st.ownerChildren[row.UserID] = nil
				st.managerChildren[row.UserID] = nil
			case RoleManager:
				st.managerChildren[row.AppointedBy] = append(st.managerChildren[row.AppointedBy], row.UserID)
				set := make(map[Permission]struct{}, len(row.Permissions))
				for _, p := range row.Permissions {
					parsed, err := ParsePermission(string(p))
					if err != nil {
						return nil, err
					}
					set[parsed] = struct{}{}
				}
				st.permissions[row.UserID] = set
			default:
				return nil, apperr.Invalid("store %s: unknown role %q for %s", storeID, row.Role, row.UserID)
			}
			progressed = true
		}
		pending = rest
		if !progressed {
			return nil, apperr.Invalid("store %s: %d roles are not reachable from founder %s", storeID, len(pending), founderID)
		}
	}
	return st, nil
}
