package linkAuth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/rate"
)

func upgrade(t *testing.T, env *testEnv, userID string, tier entitlement.Tier, next time.Time) Entitlement {
	t.Helper()
	res, err := env.engine.ApplyBillingUpdate(context.Background(), userID, BillingUpdate{
		Kind:            entitlement.UpdateUpgrade,
		Tier:            tier,
		Cycle:           entitlement.CycleMonthly,
		NextBillingDate: &next,
	})
	if err != nil {
		t.Fatalf("upgrade to %s failed: %v", tier, err)
	}
	return res
}

func TestNewAccountResolvesToFree(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	res, err := env.engine.Entitlement(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("Entitlement failed: %v", err)
	}
	if res.EffectiveTier != entitlement.TierFree || !res.HasAccess {
		t.Fatalf("expected free with access, got %+v", res)
	}

	_, err = env.engine.RequireFeature(ctx, alice.User.ID, entitlement.FeatureCustomDomain)
	if !errors.Is(err, ErrFeatureForbidden) {
		t.Fatalf("expected ErrFeatureForbidden, got %v", err)
	}
	if KindOf(err) != KindForbidden {
		t.Fatalf("expected forbidden kind, got %s", KindOf(err))
	}

	if _, err := env.engine.Entitlement(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpgradeGrantsFeatures(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	res := upgrade(t, env, alice.User.ID, entitlement.TierPremium, env.clock.Now().Add(30*24*time.Hour))
	if res.EffectiveTier != entitlement.TierPremium {
		t.Fatalf("expected premium, got %s", res.EffectiveTier)
	}
	if _, err := env.engine.RequireFeature(ctx, alice.User.ID, entitlement.FeatureCustomDomain); err != nil {
		t.Fatalf("expected custom domains on premium, got %v", err)
	}
	if _, err := env.engine.RequireFeature(ctx, alice.User.ID, entitlement.FeatureSSO); !errors.Is(err, ErrFeatureForbidden) {
		t.Fatalf("expected sso to stay enterprise-only, got %v", err)
	}

	_, err := env.engine.ApplyBillingUpdate(ctx, alice.User.ID, BillingUpdate{Kind: entitlement.UpdateUpgrade, Tier: entitlement.TierPro})
	if !errors.Is(err, ErrInvalidBilling) {
		t.Fatalf("expected ErrInvalidBilling for upgrade to a lower tier, got %v", err)
	}
}

func TestCancelledSubscriptionKeepsAccessUntilPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	periodEnd := env.clock.Now().Add(30 * 24 * time.Hour)
	upgrade(t, env, alice.User.ID, entitlement.TierPremium, periodEnd)

	res, err := env.engine.ApplyBillingUpdate(ctx, alice.User.ID, BillingUpdate{Kind: entitlement.UpdateCancel})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if res.Status != entitlement.StatusCancelled || res.EffectiveTier != entitlement.TierPremium {
		t.Fatalf("expected cancelled premium, got %+v", res)
	}
	if res.AccessUntil == nil || !res.AccessUntil.Equal(periodEnd) {
		t.Fatalf("expected access until %v, got %v", periodEnd, res.AccessUntil)
	}

	env.clock.Set(periodEnd.Add(-24 * time.Hour))
	res, err = env.engine.Entitlement(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("Entitlement failed: %v", err)
	}
	if res.EffectiveTier != entitlement.TierPremium || !res.HasAccess {
		t.Fatalf("expected premium a day before period end, got %+v", res)
	}

	env.clock.Set(periodEnd.Add(24 * time.Hour))
	res, err = env.engine.Entitlement(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("Entitlement failed: %v", err)
	}
	if res.EffectiveTier != entitlement.TierFree || res.HasAccess {
		t.Fatalf("expected free without access a day after period end, got %+v", res)
	}
	if res.RawTier != entitlement.TierPremium {
		t.Fatalf("expected raw tier to stay premium, got %s", res.RawTier)
	}
}

func TestRefreshCarriesCurrentTier(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	upgrade(t, env, alice.User.ID, entitlement.TierPro, env.clock.Now().Add(30*24*time.Hour))

	pair, err := env.engine.Refresh(ctx, alice.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	id, err := env.engine.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if id.Tier != "pro" {
		t.Fatalf("expected pro in refreshed token, got %s", id.Tier)
	}
}

func TestCheckLimit(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	if err := env.engine.CheckLimit(ctx, alice.User.ID, entitlement.LimitPages, 0); err != nil {
		t.Fatalf("expected first page to be allowed, got %v", err)
	}
	err := env.engine.CheckLimit(ctx, alice.User.ID, entitlement.LimitPages, 1)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	upgrade(t, env, alice.User.ID, entitlement.TierEnterprise, env.clock.Now().Add(30*24*time.Hour))
	if err := env.engine.CheckLimit(ctx, alice.User.ID, entitlement.LimitPages, 1_000_000); err != nil {
		t.Fatalf("expected unlimited pages on enterprise, got %v", err)
	}
}

func TestThrottleAPIEnforcesTierAndWindows(t *testing.T) {
	base := entitlement.DefaultTable()
	specs := map[entitlement.Tier]entitlement.TierSpec{}
	for _, tier := range entitlement.Tiers() {
		specs[tier] = entitlement.TierSpec{Features: base.Features(tier), Limits: base.Limits(tier)}
	}
	premium := specs[entitlement.TierPremium]
	premium.Limits[entitlement.LimitAPICallsPerMin] = 2
	premium.Limits[entitlement.LimitAPICallsPerDay] = 3
	table, err := entitlement.NewTable("test", specs)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	env := newTestEnvWithTable(t, testConfig(), table)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	if _, err := env.engine.ThrottleAPI(ctx, "k1", alice.User.ID); !errors.Is(err, ErrFeatureForbidden) {
		t.Fatalf("expected free tier to be refused API access, got %v", err)
	}

	upgrade(t, env, alice.User.ID, entitlement.TierPremium, env.clock.Now().Add(30*24*time.Hour))

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ThrottleAPI(ctx, "k1", alice.User.ID); err != nil {
			t.Fatalf("call %d: expected admission, got %v", i+1, err)
		}
	}
	_, err = env.engine.ThrottleAPI(ctx, "k1", alice.User.ID)
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.Scope != rate.APIKeyScope("k1") {
		t.Fatalf("expected per-key minute limit, got %v", err)
	}

	// a second key has its own minute window but shares the daily budget
	if _, err := env.engine.ThrottleAPI(ctx, "k2", alice.User.ID); err != nil {
		t.Fatalf("expected k2 to be admitted, got %v", err)
	}
	_, err = env.engine.ThrottleAPI(ctx, "k2", alice.User.ID)
	if !errors.As(err, &rl) || rl.Scope != rate.APIUserScope(alice.User.ID) {
		t.Fatalf("expected per-user daily limit, got %v", err)
	}
}

func TestThrottleAPISkipsUnlimitedWindows(t *testing.T) {
	base := entitlement.DefaultTable()
	specs := map[entitlement.Tier]entitlement.TierSpec{}
	for _, tier := range entitlement.Tiers() {
		specs[tier] = entitlement.TierSpec{Features: base.Features(tier), Limits: base.Limits(tier)}
	}
	premium := specs[entitlement.TierPremium]
	premium.Limits[entitlement.LimitAPICallsPerMin] = 2
	premium.Limits[entitlement.LimitAPICallsPerDay] = entitlement.Unlimited
	enterprise := specs[entitlement.TierEnterprise]
	enterprise.Limits[entitlement.LimitAPICallsPerMin] = entitlement.Unlimited
	enterprise.Limits[entitlement.LimitAPICallsPerDay] = entitlement.Unlimited
	table, err := entitlement.NewTable("test", specs)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	cfg := testConfig()
	cfg.RateLimits.APIKeyPerMinute = 1
	cfg.RateLimits.APIUserPerDay = 1
	env := newTestEnvWithTable(t, cfg, table)
	ctx := context.Background()
	next := env.clock.Now().Add(30 * 24 * time.Hour)

	alice := env.signup(t, "alice@example.com", "alice")
	upgrade(t, env, alice.User.ID, entitlement.TierPremium, next)
	for i := 0; i < 2; i++ {
		if _, err := env.engine.ThrottleAPI(ctx, "k1", alice.User.ID); err != nil {
			t.Fatalf("call %d: expected admission, got %v", i+1, err)
		}
	}
	var rl *RateLimitedError
	if _, err := env.engine.ThrottleAPI(ctx, "k1", alice.User.ID); !errors.As(err, &rl) || rl.Scope != rate.APIKeyScope("k1") {
		t.Fatalf("expected the per-key window to stay bounded, got %v", err)
	}
	// no daily window, so the configured quota of one does not apply
	for i := 0; i < 2; i++ {
		if _, err := env.engine.ThrottleAPI(ctx, "k2", alice.User.ID); err != nil {
			t.Fatalf("k2 call %d: expected admission, got %v", i+1, err)
		}
	}

	bob := env.signup(t, "bob@example.com", "bob")
	upgrade(t, env, bob.User.ID, entitlement.TierEnterprise, next)
	for i := 0; i < 5; i++ {
		d, err := env.engine.ThrottleAPI(ctx, "k3", bob.User.ID)
		if err != nil {
			t.Fatalf("call %d: expected unlimited admission, got %v", i+1, err)
		}
		if !d.Allowed || d.Remaining != entitlement.Unlimited {
			t.Fatalf("unexpected decision %+v", d)
		}
	}
}
