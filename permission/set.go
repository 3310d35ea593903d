package permission

import (
	"fmt"
	"sort"
)

// Set is an immutable set of permissions drawn from one Registry.
type Set struct {
	reg  *Registry
	mask Mask64
}

// NewSet builds a Set from permission names. Unknown names are rejected.
func NewSet(reg *Registry, names ...string) (Set, error) {
	s := Set{reg: reg}
	for _, name := range names {
		bit, ok := reg.Bit(name)
		if !ok {
			return Set{}, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}
		s.mask.Set(bit)
	}
	return s, nil
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	if s.reg == nil {
		return false
	}
	bit, ok := s.reg.Bit(name)
	return ok && s.mask.Has(bit)
}

// Union returns the permissions present in either set.
func (s Set) Union(other Set) Set {
	reg := s.reg
	if reg == nil {
		reg = other.reg
	}
	return Set{reg: reg, mask: s.mask | other.mask}
}

// Len returns the number of permissions in the set.
func (s Set) Len() int {
	n := 0
	for m := s.mask.Raw(); m != 0; m &= m - 1 {
		n++
	}
	return n
}

// Names returns the sorted permission names for serialization.
func (s Set) Names() []string {
	if s.reg == nil {
		return nil
	}
	names := make([]string, 0, s.Len())
	for bit := 0; bit < maxBits; bit++ {
		if !s.mask.Has(bit) {
			continue
		}
		if name, ok := s.reg.Name(bit); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
