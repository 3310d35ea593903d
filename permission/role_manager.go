package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role is a user's role within their tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

var ErrUnknownRole = errors.New("unknown role")

// ParseRole converts a stored role string. Matching is case-insensitive.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// RoleManager maps roles to their granted permission sets.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[Role]Set
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[Role]Set),
	}
}

// RegisterRole grants permissionNames to role.
func (rm *RoleManager) RegisterRole(role Role, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if role == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[role]; exists {
		return errors.New("role already registered")
	}

	set, err := NewSet(rm.registry, permissionNames...)
	if err != nil {
		return err
	}
	rm.roles[role] = set
	return nil
}

// Permissions returns the set granted to role.
func (rm *RoleManager) Permissions(role Role) (Set, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	set, ok := rm.roles[role]
	return set, ok
}

// Effective returns the role's grant plus any extra per-user permissions.
func (rm *RoleManager) Effective(role Role, extra Set) Set {
	base, _ := rm.Permissions(role)
	return base.Union(extra)
}

// Registry returns the registry backing the role sets.
func (rm *RoleManager) Registry() *Registry {
	return rm.registry
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}

// DefaultRoles returns a frozen manager with the product role grants.
func DefaultRoles(reg *Registry) *RoleManager {
	rm := NewRoleManager(reg)
	grants := map[Role][]string{
		RoleOwner:  {PagesRead, PagesWrite, LinksRead, LinksWrite, AnalyticsRead, CompanyManage, SubAccountsManage, BillingManage},
		RoleAdmin:  {PagesRead, PagesWrite, LinksRead, LinksWrite, AnalyticsRead, CompanyManage, SubAccountsManage},
		RoleEditor: {PagesRead, PagesWrite, LinksRead, LinksWrite, AnalyticsRead},
		RoleViewer: {PagesRead, LinksRead},
	}
	for role, perms := range grants {
		if err := rm.RegisterRole(role, perms); err != nil {
			panic(err)
		}
	}
	rm.Freeze()
	return rm
}
