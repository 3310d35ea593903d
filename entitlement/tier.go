package entitlement

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is an ordered subscription level.
type Tier int

const (
	TierFree Tier = iota
	TierPro
	TierPremium
	TierEnterprise
)

var ErrUnknownTier = errors.New("unknown tier")

var tierNames = [...]string{"free", "pro", "premium", "enterprise"}

// Tiers lists every tier in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierPro, TierPremium, TierEnterprise}
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

func (t Tier) Valid() bool {
	return t >= TierFree && t <= TierEnterprise
}

// Paid reports whether t is above the free tier.
func (t Tier) Paid() bool {
	return t > TierFree && t.Valid()
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return TierFree, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownTier
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
