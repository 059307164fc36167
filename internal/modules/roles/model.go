package roles

import (
	"fmt"
	"sort"
	"strings"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

// Permission is one capability an owner can delegate to a manager.
type Permission string

const (
	PermissionViewOnly     Permission = "VIEW_ONLY"
	PermissionEditProducts Permission = "EDIT_PRODUCTS"
	PermissionEditPolicies Permission = "EDIT_POLICIES"
	PermissionApproveBids  Permission = "APPROVE_BIDS"
)

// AllPermissions lists every grantable permission in display order.
var AllPermissions = []Permission{
	PermissionViewOnly,
	PermissionEditProducts,
	PermissionEditPolicies,
	PermissionApproveBids,
}

// ParsePermission accepts a permission name in any case.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllPermissions {
		if p == known {
			return p, nil
		}
	}
	return "", apperr.Invalid("unknown permission %q", s)
}

// Role is the kind of appointment a user holds in a store.
type Role string

const (
	RoleFounder Role = "FOUNDER"
	RoleOwner   Role = "OWNER"
	RoleManager Role = "MANAGER"
)

// IsOwner is true for owners and the founder.
func (r Role) IsOwner() bool { return r == RoleFounder || r == RoleOwner }

// Assignment is one persisted row of a store's appointment forest.
type Assignment struct {
	UserID      string       `json:"user_id"`
	Role        Role         `json:"role"`
	AppointedBy string       `json:"appointed_by,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// StaffMember describes one position in a store as seen by an owner.
// Permissions is nil for owners and the founder, who hold every capability.
type StaffMember struct {
	UserID      string       `json:"user_id"`
	Role        Role         `json:"role"`
	AppointedBy string       `json:"appointed_by,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// Removal reports everyone a cascading owner removal took out of the store.
type Removal struct {
	Owners   []string `json:"owners"`
	Managers []string `json:"managers"`
}

// All returns removed owners followed by removed managers.
func (r Removal) All() []string {
	out := make([]string, 0, len(r.Owners)+len(r.Managers))
	out = append(out, r.Owners...)
	return append(out, r.Managers...)
}

func sortedPermissions(set map[Permission]struct{}) []Permission {
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	order := make(map[Permission]int, len(AllPermissions))
	for i, p := range AllPermissions {
		order[p] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Invalid("%s is required", field)
	}
	return nil
}

func notOwner(storeID, userID string) error {
	return fmt.Errorf("%w: user %s is not an owner of store %s", apperr.ErrNotAuthorized, userID, storeID)
}
