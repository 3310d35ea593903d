package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/stores"
)

// LoginResult is the flow-local login response shape. Exactly one of Tokens
// or SessionID is set.
type LoginResult struct {
	UserID            string
	User              *accounts.User
	Tokens            *TokenPair
	TwoFactorRequired bool
	Method            stores.Method
	SessionID         string
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess           int
	LoginFailure           int
	LoginRateLimited       int
	LoginTwoFactorRequired int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess      string
	LoginFailure      string
	TwoFactorRequired string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidInput       error
	InvalidCredentials error
	Unavailable        error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	UpgradeOnLogin bool
	FailedIP       rate.Policy
	FailedIdentity rate.Policy

	ClientIPFromContext func(context.Context) string

	FindUser        func(context.Context, string) (*accounts.User, error)
	VerifyPassword  func(password, hash, salt string) (bool, error)
	DummyVerify     func(password string)
	NeedsUpgrade    func(hash string) bool
	UpgradePassword func(ctx context.Context, userID, password string) error
	StartChallenge  func(context.Context, *accounts.User) (string, stores.Method, error)
	IssueTokens     func(context.Context, *accounts.User) (*TokenPair, error)
	Limiter         RateLimiter
	NewRateLimited  func(scope string, retryAfter time.Duration) error

	MetricInc     func(int)
	EmitAudit     AuditFunc
	EmitRateLimit RateLimitFunc
	Warn          func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin verifies credentials and either issues tokens or opens a
// two-factor challenge. Tokens are never issued while a second factor is
// enabled for the user.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) (*LoginResult, error) {
	normalizeLoginDeps(&deps)
	if deps.FindUser == nil ||
		deps.VerifyPassword == nil ||
		deps.StartChallenge == nil ||
		deps.IssueTokens == nil ||
		deps.Limiter == nil ||
		deps.NewRateLimited == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", "", deps.Errors.InvalidInput, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "missing_fields",
			}
		})
		return nil, deps.Errors.InvalidInput
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := runLoginGate(ctx, ip, identifier, deps); err != nil {
		return nil, err
	}

	user, err := deps.FindUser(ctx, identifier)
	if err != nil {
		if !errors.Is(err, accounts.ErrNotFound) {
			mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", "", mapped, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
					"reason":     "user_lookup_failed",
				}
			})
			return nil, mapped
		}
		if deps.DummyVerify != nil {
			deps.DummyVerify(password)
		}
		return nil, runLoginFailure(ctx, ip, identifier, "", "user_not_found", deps)
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash, user.PasswordSalt)
	if err != nil || !ok {
		reason := "password_mismatch"
		if err != nil {
			reason = "password_hash_unreadable"
		}
		return nil, runLoginFailure(ctx, ip, identifier, user.ID, reason, deps)
	}

	if err := reset(ctx, deps.Limiter, deps.FailedIdentity, identifier); err != nil {
		deps.Warn("linkAuth: login identity limiter reset failed")
	}
	if ip != "" {
		if err := reset(ctx, deps.Limiter, deps.FailedIP, ip); err != nil {
			deps.Warn("linkAuth: login ip limiter reset failed")
		}
	}

	if deps.UpgradeOnLogin && deps.NeedsUpgrade != nil && deps.UpgradePassword != nil && deps.NeedsUpgrade(user.PasswordHash) {
		if err := deps.UpgradePassword(ctx, user.ID, password); err != nil {
			deps.Warn("linkAuth: password hash upgrade failed")
		}
	}
	password = ""

	if user.TwoFactor.Enabled() {
		sessionID, method, err := deps.StartChallenge(ctx, user)
		if err != nil {
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.ID, "", err, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
					"reason":     "challenge_create_failed",
				}
			})
			return nil, err
		}

		deps.MetricInc(deps.Metrics.LoginTwoFactorRequired)
		deps.EmitAudit(ctx, deps.Events.TwoFactorRequired, true, user.ID, sessionID, nil, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"method":     method.String(),
			}
		})
		return &LoginResult{
			UserID:            user.ID,
			TwoFactorRequired: true,
			Method:            method,
			SessionID:         sessionID,
		}, nil
	}

	tokens, err := deps.IssueTokens(ctx, user)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "token_issue_failed",
			}
		})
		return nil, err
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
		}
	})
	return &LoginResult{UserID: user.ID, User: user, Tokens: tokens}, nil
}

// runLoginGate rejects the attempt when either failure window is already
// full. Store errors fail closed.
func runLoginGate(ctx context.Context, ip, identifier string, deps LoginDeps) error {
	gates := []struct {
		policy rate.Policy
		id     string
	}{
		{deps.FailedIdentity, identifier},
		{deps.FailedIP, ip},
	}
	for _, g := range gates {
		if g.id == "" {
			continue
		}
		d, err := peek(ctx, deps.Limiter, g.policy, g.id)
		if err != nil {
			mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", "", mapped, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
					"reason":     "limiter_unavailable",
				}
			})
			return mapped
		}
		if !d.Allowed {
			return runLoginDenied(ctx, g.policy.Scope, g.id, identifier, "", d.RetryAfter, deps)
		}
	}
	return nil
}

// runLoginFailure counts a failed attempt in both windows and returns the
// uniform credential error, or a rate-limit error if a window just filled.
func runLoginFailure(ctx context.Context, ip, identifier, userID, reason string, deps LoginDeps) error {
	gates := []struct {
		policy rate.Policy
		id     string
	}{
		{deps.FailedIdentity, identifier},
		{deps.FailedIP, ip},
	}
	for _, g := range gates {
		if g.id == "" {
			continue
		}
		d, err := check(ctx, deps.Limiter, g.policy, g.id)
		if err != nil {
			deps.Warn("linkAuth: login failure counter unavailable")
			continue
		}
		if !d.Allowed {
			return runLoginDenied(ctx, g.policy.Scope, g.id, identifier, userID, d.RetryAfter, deps)
		}
	}

	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, "", deps.Errors.InvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return deps.Errors.InvalidCredentials
}

func runLoginDenied(ctx context.Context, scope, key, identifier, userID string, retryAfter time.Duration, deps LoginDeps) error {
	err := deps.NewRateLimited(scope, retryAfter)
	deps.MetricInc(deps.Metrics.LoginRateLimited)
	deps.EmitRateLimit(ctx, scope, key, retryAfter)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, "", err, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     "rate_limited",
			"scope":      scope,
		}
	})
	return err
}

func normalizeLoginDeps(deps *LoginDeps) {
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
