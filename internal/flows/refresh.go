package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/refresh"
)

type RefreshMetrics struct {
	RefreshSuccess     int
	RefreshFailure     int
	RefreshRateLimited int
}

type RefreshEvents struct {
	RefreshSuccess string
	RefreshFailure string
}

type RefreshErrors struct {
	EngineNotReady error
	RefreshInvalid error
	Unavailable    error
}

// RefreshDeps captures refresh rotation dependencies.
type RefreshDeps struct {
	FailedIP rate.Policy

	ClientIPFromContext func(context.Context) string

	Consume        func(context.Context, string) (string, error)
	GetUser        func(context.Context, string) (*accounts.User, error)
	IssueTokens    func(context.Context, *accounts.User) (*TokenPair, error)
	Limiter        RateLimiter
	NewRateLimited func(scope string, retryAfter time.Duration) error

	MetricInc     func(int)
	EmitAudit     AuditFunc
	EmitRateLimit RateLimitFunc
	Warn          func(string, ...any)

	Metrics RefreshMetrics
	Events  RefreshEvents
	Errors  RefreshErrors
}

// RunRefresh consumes refreshToken and issues a successor pair with claims
// re-resolved from the user's current state. A consumed, unknown or expired
// token yields the same RefreshInvalid error.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (*TokenPair, error) {
	normalizeRefreshDeps(&deps)
	if deps.Consume == nil ||
		deps.GetUser == nil ||
		deps.IssueTokens == nil ||
		deps.Limiter == nil ||
		deps.NewRateLimited == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if ip != "" {
		d, err := peek(ctx, deps.Limiter, deps.FailedIP, ip)
		if err != nil {
			return nil, runRefreshFailure(ctx, "", "limiter_unavailable", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), deps)
		}
		if !d.Allowed {
			deps.MetricInc(deps.Metrics.RefreshRateLimited)
			deps.EmitRateLimit(ctx, deps.FailedIP.Scope, ip, d.RetryAfter)
			return nil, runRefreshFailure(ctx, "", "rate_limited", deps.NewRateLimited(deps.FailedIP.Scope, d.RetryAfter), deps)
		}
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, runRefreshInvalid(ctx, ip, "", "missing_token", deps)
	}

	userID, err := deps.Consume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrInvalid) {
			return nil, runRefreshInvalid(ctx, ip, "", "invalid_token", deps)
		}
		return nil, runRefreshFailure(ctx, "", "store_unavailable", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), deps)
	}

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, runRefreshInvalid(ctx, ip, userID, "user_not_found", deps)
		}
		return nil, runRefreshFailure(ctx, userID, "user_lookup_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), deps)
	}

	tokens, err := deps.IssueTokens(ctx, user)
	if err != nil {
		return nil, runRefreshFailure(ctx, user.ID, "token_issue_failed", err, deps)
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.RefreshSuccess, true, user.ID, "", nil, nil)
	return tokens, nil
}

// runRefreshInvalid counts the failure against the caller's address.
func runRefreshInvalid(ctx context.Context, ip, userID, reason string, deps RefreshDeps) error {
	if ip != "" {
		d, err := check(ctx, deps.Limiter, deps.FailedIP, ip)
		switch {
		case err != nil:
			deps.Warn("linkAuth: refresh failure counter unavailable")
		case !d.Allowed:
			deps.MetricInc(deps.Metrics.RefreshRateLimited)
			deps.EmitRateLimit(ctx, deps.FailedIP.Scope, ip, d.RetryAfter)
		}
	}
	return runRefreshFailure(ctx, userID, reason, deps.Errors.RefreshInvalid, deps)
}

func runRefreshFailure(ctx context.Context, userID, reason string, err error, deps RefreshDeps) error {
	deps.MetricInc(deps.Metrics.RefreshFailure)
	deps.EmitAudit(ctx, deps.Events.RefreshFailure, false, userID, "", err, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	return err
}

func normalizeRefreshDeps(deps *RefreshDeps) {
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = noIP
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
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
}
