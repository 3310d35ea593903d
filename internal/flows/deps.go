package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/linkAuth/internal/rate"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login       LoginDeps
	Signup      SignupDeps
	Refresh     RefreshDeps
	Logout      LogoutDeps
	Validate    ValidateDeps
	TwoFactor   TwoFactorDeps
	BackupCode  BackupCodeDeps
	Entitlement EntitlementDeps
	Account     AccountDeps
}

// AuditFunc emits a security event. meta is only evaluated when the event is
// dispatched.
type AuditFunc func(ctx context.Context, event string, success bool, userID, sessionID string, err error, meta func() map[string]string)

// RateLimitFunc reports a rate-limit denial for scope and identifier.
type RateLimitFunc func(ctx context.Context, scope, identifier string, retryAfter time.Duration)

// RateLimiter is the fixed-window counter used by the flows.
type RateLimiter interface {
	Check(ctx context.Context, scope, identifier string, limit int, window time.Duration) (rate.Decision, error)
	Peek(ctx context.Context, scope, identifier string, limit int, window time.Duration) (rate.Decision, error)
	Reset(ctx context.Context, scope, identifier string, window time.Duration) error
}

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopRateLimit(context.Context, string, string, time.Duration) {}

func noopMetric(int) {}

func noopWarn(string, ...any) {}

func noIP(context.Context) string { return "" }

func check(ctx context.Context, l RateLimiter, p rate.Policy, identifier string) (rate.Decision, error) {
	return l.Check(ctx, p.Scope, identifier, p.Limit, p.Window)
}

func peek(ctx context.Context, l RateLimiter, p rate.Policy, identifier string) (rate.Decision, error) {
	return l.Peek(ctx, p.Scope, identifier, p.Limit, p.Window)
}

func reset(ctx context.Context, l RateLimiter, p rate.Policy, identifier string) error {
	return l.Reset(ctx, p.Scope, identifier, p.Window)
}
