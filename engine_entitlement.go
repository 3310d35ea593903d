package linkAuth

import (
	"context"

	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
)

// Entitlement resolves the effective tier of userID from its stored
// subscription. Every call re-reads the subscription; nothing is cached.
func (e *Engine) Entitlement(ctx context.Context, userID string) (Entitlement, error) {
	return e.flows.Entitlement(ctx, userID)
}

// RequireFeature fails with ErrFeatureForbidden unless the effective tier of
// userID includes feature.
func (e *Engine) RequireFeature(ctx context.Context, userID, feature string) (Entitlement, error) {
	return e.flows.RequireFeature(ctx, userID, feature)
}

// CheckLimit fails with ErrLimitExceeded when creating one more unit of limit
// would exceed the tier allowance, given current units in use.
func (e *Engine) CheckLimit(ctx context.Context, userID, limit string, current int) error {
	return e.flows.CheckLimit(ctx, userID, limit, current)
}

// ApplyBillingUpdate records a subscription change from the billing
// provider and returns the resulting entitlement.
func (e *Engine) ApplyBillingUpdate(ctx context.Context, userID string, upd BillingUpdate) (Entitlement, error) {
	return e.flows.ApplyBillingUpdate(ctx, userID, upd)
}

// ThrottleAPI admits one API request made with keyID on behalf of userID.
// Windows the tier marks entitlement.Unlimited are not counted.
func (e *Engine) ThrottleAPI(ctx context.Context, keyID, userID string) (RateDecision, error) {
	return e.flows.ThrottleAPI(ctx, keyID, userID)
}

func (e *Engine) entitlementFlowDeps() internalflows.EntitlementDeps {
	return internalflows.EntitlementDeps{
		Resolver:        e.resolver,
		Table:           e.table,
		APIKeyPerMinute: e.config.RateLimits.APIKeyPerMinute,
		APIUserPerDay:   e.config.RateLimits.APIUserPerDay,
		Now:             e.now,
		GetUser:         e.users.ByID,
		MutateUser:      e.users.Mutate,
		Limiter:         e.limiter,
		NewRateLimited:  e.newRateLimited,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		Warn:          e.warn,
		Metrics: internalflows.EntitlementMetrics{
			EntitlementDenied: int(MetricEntitlementDenied),
			BillingUpdate:     int(MetricBillingUpdate),
		},
		Events: internalflows.EntitlementEvents{
			Denied:         auditEventEntitlementDenied,
			BillingUpdated: auditEventBillingUpdated,
		},
		Errors: internalflows.EntitlementErrors{
			EngineNotReady:   ErrEngineNotReady,
			UserNotFound:     ErrUserNotFound,
			FeatureForbidden: ErrFeatureForbidden,
			LimitExceeded:    ErrLimitExceeded,
			InvalidBilling:   ErrInvalidBilling,
			Unavailable:      ErrUnavailable,
		},
	}
}
