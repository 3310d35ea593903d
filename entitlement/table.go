package entitlement

import (
	"errors"
	"fmt"
	"sort"
)

// Unlimited marks a limit without an upper bound.
const Unlimited = -1

// Feature names gated by tier.
const (
	FeatureCustomDomain      = "custom_domain"
	FeatureRemoveBranding    = "remove_branding"
	FeatureAdvancedAnalytics = "advanced_analytics"
	FeatureScheduling        = "link_scheduling"
	FeatureAPIAccess         = "api_access"
	FeatureTeamMembers       = "team_members"
	FeatureSSO               = "sso"
	FeaturePrioritySupport   = "priority_support"
)

// Limit names gated by tier.
const (
	LimitPages          = "pages"
	LimitLinksPerPage   = "links_per_page"
	LimitTeamMembers    = "team_members"
	LimitSubAccounts    = "sub_accounts"
	LimitAPICallsPerDay = "api_calls_per_day"
	LimitAPICallsPerMin = "api_calls_per_minute"
	LimitAnalyticsDays  = "analytics_retention_days"
	LimitCustomDomains  = "custom_domains"
)

var ErrInvalidTable = errors.New("invalid entitlement table")

// TierSpec declares the capabilities of one tier for NewTable.
type TierSpec struct {
	Features []string
	Limits   map[string]int
}

type capabilities struct {
	features map[string]struct{}
	limits   map[string]int
}

// Table is an immutable tier to capability lookup. All methods are safe for
// concurrent use.
type Table struct {
	version string
	tiers   map[Tier]capabilities
}

// NewTable copies specs into a Table. Every tier must be present and
// limits must be non-negative or Unlimited.
func NewTable(version string, specs map[Tier]TierSpec) (*Table, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: empty version", ErrInvalidTable)
	}
	t := &Table{version: version, tiers: make(map[Tier]capabilities, len(specs))}
	for _, tier := range Tiers() {
		spec, ok := specs[tier]
		if !ok {
			return nil, fmt.Errorf("%w: missing tier %s", ErrInvalidTable, tier)
		}
		caps := capabilities{
			features: make(map[string]struct{}, len(spec.Features)),
			limits:   make(map[string]int, len(spec.Limits)),
		}
		for _, f := range spec.Features {
			caps.features[f] = struct{}{}
		}
		for name, v := range spec.Limits {
			if v < Unlimited {
				return nil, fmt.Errorf("%w: limit %s=%d for %s", ErrInvalidTable, name, v, tier)
			}
			caps.limits[name] = v
		}
		t.tiers[tier] = caps
	}
	return t, nil
}

// Version identifies the table revision, surfaced in entitlement responses.
func (t *Table) Version() string {
	return t.version
}

// Has reports whether tier includes feature.
func (t *Table) Has(tier Tier, feature string) bool {
	_, ok := t.tiers[tier].features[feature]
	return ok
}

// Limit returns the numeric limit for name, Unlimited, or false if the tier
// does not define it.
func (t *Table) Limit(tier Tier, name string) (int, bool) {
	v, ok := t.tiers[tier].limits[name]
	return v, ok
}

// Allows reports whether one more unit fits when current units are in use.
// Undefined limits deny.
func (t *Table) Allows(tier Tier, name string, current int) bool {
	v, ok := t.Limit(tier, name)
	if !ok {
		return false
	}
	return v == Unlimited || current < v
}

// Features returns the sorted feature names of tier.
func (t *Table) Features(tier Tier) []string {
	caps := t.tiers[tier]
	out := make([]string, 0, len(caps.features))
	for f := range caps.features {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Limits returns a copy of tier's limits.
func (t *Table) Limits(tier Tier) map[string]int {
	caps := t.tiers[tier]
	out := make(map[string]int, len(caps.limits))
	for k, v := range caps.limits {
		out[k] = v
	}
	return out
}

// MinimumTier returns the lowest tier that includes feature.
func (t *Table) MinimumTier(feature string) (Tier, bool) {
	for _, tier := range Tiers() {
		if t.Has(tier, feature) {
			return tier, true
		}
	}
	return TierFree, false
}

// DefaultTable returns the product capability table.
func DefaultTable() *Table {
	t, err := NewTable("2024-06", map[Tier]TierSpec{
		TierFree: {
			Limits: map[string]int{
				LimitPages: 1, LimitLinksPerPage: 10, LimitTeamMembers: 0, LimitSubAccounts: 0,
				LimitAPICallsPerDay: 0, LimitAPICallsPerMin: 0, LimitAnalyticsDays: 7, LimitCustomDomains: 0,
			},
		},
		TierPro: {
			Features: []string{FeatureRemoveBranding, FeatureScheduling, FeatureAdvancedAnalytics},
			Limits: map[string]int{
				LimitPages: 5, LimitLinksPerPage: 50, LimitTeamMembers: 0, LimitSubAccounts: 0,
				LimitAPICallsPerDay: 1000, LimitAPICallsPerMin: 30, LimitAnalyticsDays: 90, LimitCustomDomains: 1,
			},
		},
		TierPremium: {
			Features: []string{
				FeatureRemoveBranding, FeatureScheduling, FeatureAdvancedAnalytics,
				FeatureCustomDomain, FeatureAPIAccess, FeatureTeamMembers,
			},
			Limits: map[string]int{
				LimitPages: 25, LimitLinksPerPage: Unlimited, LimitTeamMembers: 5, LimitSubAccounts: 10,
				LimitAPICallsPerDay: 10000, LimitAPICallsPerMin: 120, LimitAnalyticsDays: 365, LimitCustomDomains: 5,
			},
		},
		TierEnterprise: {
			Features: []string{
				FeatureRemoveBranding, FeatureScheduling, FeatureAdvancedAnalytics,
				FeatureCustomDomain, FeatureAPIAccess, FeatureTeamMembers,
				FeatureSSO, FeaturePrioritySupport,
			},
			Limits: map[string]int{
				LimitPages: Unlimited, LimitLinksPerPage: Unlimited, LimitTeamMembers: Unlimited, LimitSubAccounts: Unlimited,
				LimitAPICallsPerDay: Unlimited, LimitAPICallsPerMin: 600, LimitAnalyticsDays: Unlimited, LimitCustomDomains: Unlimited,
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}
