package permission

import (
	"errors"
	"sync"
)

const maxBits = 64

var (
	ErrRegistryFrozen     = errors.New("registry frozen")
	ErrUnknownPermission  = errors.New("unknown permission")
	ErrPermissionExists   = errors.New("permission already registered")
	ErrPermissionOverflow = errors.New("permission limit exceeded")
)

// Registry maps permission names to bit positions within a Mask64.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// Register assigns the next available bit to name. Must be called before
// [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, ErrPermissionExists
	}

	nextBit := len(r.nameToBit)
	if nextBit >= maxBits {
		return -1, ErrPermissionOverflow
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name
	return nextBit, nil
}

// Bit returns the bit index for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission registered at bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Product permissions known to the default registry.
const (
	PagesRead         = "pages:read"
	PagesWrite        = "pages:write"
	LinksRead         = "links:read"
	LinksWrite        = "links:write"
	AnalyticsRead     = "analytics:read"
	CompanyManage     = "company:manage"
	SubAccountsManage = "subaccounts:manage"
	BillingManage     = "billing:manage"
)

// DefaultRegistry returns a frozen registry holding the product permissions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{
		PagesRead, PagesWrite, LinksRead, LinksWrite,
		AnalyticsRead, CompanyManage, SubAccountsManage, BillingManage,
	} {
		if _, err := r.Register(name); err != nil {
			panic(err)
		}
	}
	r.Freeze()
	return r
}
