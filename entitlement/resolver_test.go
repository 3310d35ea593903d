package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t time.Time) *time.Time { return &t }

func TestResolveCancelledPremiumKeepsAccessUntilPeriodEnd(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	sub := Subscription{Tier: TierPremium, Status: StatusCancelled, AccessUntil: at(now.Add(24 * time.Hour))}
	res := Resolve(sub, now)
	assert.Equal(t, TierPremium, res.EffectiveTier)
	assert.True(t, res.HasAccess)
	require.NotNil(t, res.AccessUntil)
	assert.Equal(t, now.Add(24*time.Hour), *res.AccessUntil)
	assert.Equal(t, ReasonCancelledInPeriod, res.Reason)

	sub.AccessUntil = at(now.Add(-24 * time.Hour))
	res = Resolve(sub, now)
	assert.Equal(t, TierFree, res.EffectiveTier)
	assert.False(t, res.HasAccess)
	assert.Nil(t, res.AccessUntil)
	assert.Equal(t, TierPremium, res.RawTier, "raw tier must be preserved")
}

func TestResolveRules(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := at(now.Add(-time.Hour))
	future := at(now.Add(time.Hour))

	cases := []struct {
		name   string
		sub    Subscription
		want   Tier
		reason string
	}{
		{"free stays free", Subscription{Tier: TierFree, Status: StatusExpired}, TierFree, ReasonFreeTier},
		{"active pro", Subscription{Tier: TierPro, Status: StatusActive}, TierPro, ReasonActive},
		{"active with future expiry", Subscription{Tier: TierEnterprise, Status: StatusActive, ExpiresAt: future}, TierEnterprise, ReasonActive},
		{"active expired", Subscription{Tier: TierPro, Status: StatusActive, ExpiresAt: past}, TierFree, ReasonExpired},
		{"expiry exactly now", Subscription{Tier: TierPro, Status: StatusActive, ExpiresAt: at(now)}, TierFree, ReasonExpired},
		{"suspended", Subscription{Tier: TierPremium, Status: StatusSuspended, ExpiresAt: future}, TierFree, ReasonInactiveStatus},
		{"expired status", Subscription{Tier: TierPremium, Status: StatusExpired}, TierFree, ReasonInactiveStatus},
		{"trial running", Subscription{Tier: TierPremium, Status: StatusTrial, TrialEndsAt: future}, TierPremium, ReasonTrial},
		{"trial ended", Subscription{Tier: TierPremium, Status: StatusTrial, TrialEndsAt: past}, TierFree, ReasonTrialEnded},
		{"cancelled falls back to billing date", Subscription{Tier: TierPro, Status: StatusCancelled, NextBillingDate: future}, TierPro, ReasonCancelledInPeriod},
		{"cancelled without period", Subscription{Tier: TierPro, Status: StatusCancelled}, TierFree, ReasonCancelledNoPeriod},
		{"access-until wins over billing date", Subscription{Tier: TierPro, Status: StatusCancelled, AccessUntil: past, NextBillingDate: future}, TierFree, ReasonCancelledEnded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(tc.sub, now)
			assert.Equal(t, tc.want, res.EffectiveTier)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, tc.sub.Tier, res.RawTier)
			assert.Equal(t, tc.want == tc.sub.Tier, res.HasAccess)
		})
	}
}

func TestResolveGracePeriod(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sub := Subscription{Tier: TierPro, Status: StatusActive, ExpiresAt: at(now.Add(-2 * time.Hour))}

	assert.Equal(t, TierFree, Resolver{}.Resolve(sub, now).EffectiveTier)

	res := Resolver{GracePeriod: 6 * time.Hour}.Resolve(sub, now)
	assert.Equal(t, TierPro, res.EffectiveTier)
	require.NotNil(t, res.AccessUntil)
	assert.Equal(t, now.Add(4*time.Hour), *res.AccessUntil)
}

func TestResolveRawParseFailureIsFree(t *testing.T) {
	now := time.Now()
	res, err := Resolver{}.ResolveRaw(RawSubscription{Tier: "platinum", Status: "active"}, now)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "tier", perr.Field)
	assert.Equal(t, TierFree, res.EffectiveTier)
	assert.Equal(t, ReasonUnparseable, res.Reason)

	res, err = Resolver{}.ResolveRaw(RawSubscription{Tier: "pro", Status: "active", ExpiresAt: "yesterday"}, now)
	require.Error(t, err)
	assert.Equal(t, TierFree, res.EffectiveTier)
}

func TestParseSubscriptionRoundTrip(t *testing.T) {
	raw := RawSubscription{
		Tier:            "Premium",
		Status:          "canceled",
		BillingCycle:    "yearly",
		StartedAt:       "2024-01-01T00:00:00Z",
		NextBillingDate: "2025-01-01T00:00:00Z",
		CancelledAt:     "2024-05-01T10:00:00Z",
	}
	sub, err := ParseSubscription(raw)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, sub.Tier)
	assert.Equal(t, StatusCancelled, sub.Status)
	assert.Equal(t, CycleYearly, sub.Cycle)
	assert.Nil(t, sub.AccessUntil)
	require.NotNil(t, sub.NextBillingDate)

	back := sub.Raw()
	assert.Equal(t, "premium", back.Tier)
	assert.Equal(t, "cancelled", back.Status)
	assert.Equal(t, "2025-01-01T00:00:00Z", back.NextBillingDate)
	assert.Empty(t, back.ExpiresAt)
}

func TestParseSubscriptionDefaults(t *testing.T) {
	sub, err := ParseSubscription(RawSubscription{})
	require.NoError(t, err)
	assert.Equal(t, TierFree, sub.Tier)
	assert.Equal(t, StatusActive, sub.Status)
}
