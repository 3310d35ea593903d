package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/internal/rate"
)

type EntitlementMetrics struct {
	EntitlementDenied int
	BillingUpdate     int
}

type EntitlementEvents struct {
	Denied         string
	BillingUpdated string
}

type EntitlementErrors struct {
	EngineNotReady   error
	UserNotFound     error
	FeatureForbidden error
	LimitExceeded    error
	InvalidBilling   error
	Unavailable      error
}

// EntitlementDeps captures tier resolution and gating dependencies.
type EntitlementDeps struct {
	Resolver        entitlement.Resolver
	Table           *entitlement.Table
	APIKeyPerMinute int
	APIUserPerDay   int

	Now        func() time.Time
	GetUser    func(context.Context, string) (*accounts.User, error)
	MutateUser func(context.Context, string, func(*accounts.User) error) (*accounts.User, error)

	Limiter        RateLimiter
	NewRateLimited func(scope string, retryAfter time.Duration) error

	MetricInc     func(int)
	EmitAudit     AuditFunc
	EmitRateLimit RateLimitFunc
	Warn          func(string, ...any)

	Metrics EntitlementMetrics
	Events  EntitlementEvents
	Errors  EntitlementErrors
}

// ResolveUser returns the effective entitlement of user at now. A record
// that cannot be parsed resolves to free.
func ResolveUser(user *accounts.User, now time.Time, deps EntitlementDeps) entitlement.Resolution {
	res, err := deps.Resolver.ResolveRaw(user.Subscription, now)
	if err != nil && deps.Warn != nil {
		deps.Warn("linkAuth: unparseable subscription resolved to free", "user_id", user.ID, "error", err)
	}
	return res
}

// RunEntitlement loads userID and resolves its effective tier.
func RunEntitlement(ctx context.Context, userID string, deps EntitlementDeps) (entitlement.Resolution, error) {
	normalizeEntitlementDeps(&deps)
	if deps.GetUser == nil {
		return entitlement.Resolution{}, deps.Errors.EngineNotReady
	}

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return entitlement.Resolution{}, runEntitlementStoreErr(err, deps)
	}
	return ResolveUser(user, deps.Now(), deps), nil
}

// RunRequireFeature fails with FeatureForbidden unless the user's effective
// tier includes feature.
func RunRequireFeature(ctx context.Context, userID, feature string, deps EntitlementDeps) (entitlement.Resolution, error) {
	res, err := RunEntitlement(ctx, userID, deps)
	if err != nil {
		return res, err
	}
	normalizeEntitlementDeps(&deps)

	if deps.Table.Has(res.EffectiveTier, feature) {
		return res, nil
	}

	deps.MetricInc(deps.Metrics.EntitlementDenied)
	deps.EmitAudit(ctx, deps.Events.Denied, false, userID, "", deps.Errors.FeatureForbidden, func() map[string]string {
		meta := map[string]string{
			"feature": feature,
			"tier":    res.EffectiveTier.String(),
			"reason":  res.Reason,
		}
		if lowest, ok := deps.Table.MinimumTier(feature); ok {
			meta["required_tier"] = lowest.String()
		}
		return meta
	})
	return res, fmt.Errorf("%w: %s", deps.Errors.FeatureForbidden, feature)
}

// RunCheckLimit fails with LimitExceeded when one more unit of limit would
// exceed the user's tier allowance given current usage.
func RunCheckLimit(ctx context.Context, userID, limit string, current int, deps EntitlementDeps) error {
	res, err := RunEntitlement(ctx, userID, deps)
	if err != nil {
		return err
	}
	normalizeEntitlementDeps(&deps)

	if deps.Table.Allows(res.EffectiveTier, limit, current) {
		return nil
	}

	deps.MetricInc(deps.Metrics.EntitlementDenied)
	deps.EmitAudit(ctx, deps.Events.Denied, false, userID, "", deps.Errors.LimitExceeded, func() map[string]string {
		allowed, _ := deps.Table.Limit(res.EffectiveTier, limit)
		return map[string]string{
			"limit":   limit,
			"tier":    res.EffectiveTier.String(),
			"allowed": fmt.Sprint(allowed),
			"current": fmt.Sprint(current),
		}
	})
	return fmt.Errorf("%w: %s", deps.Errors.LimitExceeded, limit)
}

// RunApplyBillingUpdate applies a billing-provider update to the stored
// subscription and returns the new resolution.
func RunApplyBillingUpdate(ctx context.Context, userID string, upd entitlement.BillingUpdate, deps EntitlementDeps) (entitlement.Resolution, error) {
	normalizeEntitlementDeps(&deps)
	if deps.MutateUser == nil {
		return entitlement.Resolution{}, deps.Errors.EngineNotReady
	}

	now := deps.Now()
	var previous string
	user, err := deps.MutateUser(ctx, userID, func(u *accounts.User) error {
		sub, err := entitlement.ParseSubscription(u.Subscription)
		if err != nil {
			sub = entitlement.Free(now)
		}
		previous = sub.Tier.String()
		next, err := entitlement.Apply(sub, upd, now)
		if err != nil {
			return err
		}
		u.Subscription = next.Raw()
		return nil
	})
	if err != nil {
		if errors.Is(err, entitlement.ErrInvalidUpdate) {
			deps.EmitAudit(ctx, deps.Events.BillingUpdated, false, userID, "", err, func() map[string]string {
				return map[string]string{
					"kind":   string(upd.Kind),
					"reason": "invalid_update",
				}
			})
			return entitlement.Resolution{}, fmt.Errorf("%w: %v", deps.Errors.InvalidBilling, err)
		}
		return entitlement.Resolution{}, runEntitlementStoreErr(err, deps)
	}

	res := ResolveUser(user, now, deps)
	deps.MetricInc(deps.Metrics.BillingUpdate)
	deps.EmitAudit(ctx, deps.Events.BillingUpdated, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"kind":           string(upd.Kind),
			"previous_tier":  previous,
			"raw_tier":       res.RawTier.String(),
			"effective_tier": res.EffectiveTier.String(),
		}
	})
	return res, nil
}

// RunThrottleAPI admits one API call for keyID owned by userID. The user's
// tier must include API access; per-minute (per key) and per-day (per user)
// windows come from the tier table. A window the table marks Unlimited is
// not counted at all; one the table omits falls back to the configured
// quota. When no window is counted the decision reports Remaining as
// entitlement.Unlimited.
func RunThrottleAPI(ctx context.Context, keyID, userID string, deps EntitlementDeps) (rate.Decision, error) {
	res, err := RunRequireFeature(ctx, userID, entitlement.FeatureAPIAccess, deps)
	if err != nil {
		return rate.Decision{}, err
	}
	normalizeEntitlementDeps(&deps)
	if deps.Limiter == nil || deps.NewRateLimited == nil {
		return rate.Decision{}, deps.Errors.EngineNotReady
	}

	windows := []struct {
		scope string
		limit int
		span  time.Duration
	}{
		{rate.APIKeyScope(keyID), tierQuota(deps.Table, res.EffectiveTier, entitlement.LimitAPICallsPerMin, deps.APIKeyPerMinute), time.Minute},
		{rate.APIUserScope(userID), tierQuota(deps.Table, res.EffectiveTier, entitlement.LimitAPICallsPerDay, deps.APIUserPerDay), 24 * time.Hour},
	}

	last := rate.Decision{Allowed: true, Remaining: entitlement.Unlimited}
	for _, w := range windows {
		if w.limit == entitlement.Unlimited {
			continue
		}
		d, err := deps.Limiter.Check(ctx, w.scope, "", w.limit, w.span)
		if err != nil {
			return rate.Decision{}, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		if !d.Allowed {
			deps.EmitRateLimit(ctx, w.scope, userID, d.RetryAfter)
			return d, deps.NewRateLimited(w.scope, d.RetryAfter)
		}
		last = d
	}
	return last, nil
}

// tierQuota returns the table limit for name, entitlement.Unlimited when
// the tier has no bound, or fallback when the table does not list it.
func tierQuota(table *entitlement.Table, tier entitlement.Tier, name string, fallback int) int {
	v, ok := table.Limit(tier, name)
	if !ok {
		return fallback
	}
	return v
}

func runEntitlementStoreErr(err error, deps EntitlementDeps) error {
	if errors.Is(err, accounts.ErrNotFound) {
		return deps.Errors.UserNotFound
	}
	return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
}

func normalizeEntitlementDeps(deps *EntitlementDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Table == nil {
		deps.Table = entitlement.DefaultTable()
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = noopRateLimit
	}
}
