package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/permission"
)

// SignupRequest is the flow-local account creation input.
type SignupRequest struct {
	Email    string
	Username string
	Password string
}

// SignupResult carries the new user id and its first token pair.
type SignupResult struct {
	UserID string
	User   *accounts.User
	Tokens *TokenPair
}

type SignupMetrics struct {
	SignupSuccess     int
	SignupConflict    int
	SignupRateLimited int
}

type SignupEvents struct {
	SignupSuccess string
	SignupFailure string
}

type SignupErrors struct {
	EngineNotReady error
	InvalidInput   error
	WeakPassword   error
	EmailTaken     error
	UsernameTaken  error
	Unavailable    error
}

// SignupDeps captures signup dependencies.
type SignupDeps struct {
	SignupIP    rate.Policy
	DefaultRole permission.Role

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	CheckStrength  func(string) error
	HashPassword   func(string) (hash string, salt string, err error)
	CreateUser     func(context.Context, *accounts.User) error
	IssueTokens    func(context.Context, *accounts.User) (*TokenPair, error)
	Limiter        RateLimiter
	NewRateLimited func(scope string, retryAfter time.Duration) error

	MetricInc     func(int)
	EmitAudit     AuditFunc
	EmitRateLimit RateLimitFunc

	Metrics SignupMetrics
	Events  SignupEvents
	Errors  SignupErrors
}

// RunSignup creates an account and signs it in. Email and username
// uniqueness is enforced by the user repository's conditional inserts, so a
// duplicate surfaces as a conflict rather than a second record.
func RunSignup(ctx context.Context, req SignupRequest, deps SignupDeps) (*SignupResult, error) {
	normalizeSignupDeps(&deps)
	if deps.CheckStrength == nil ||
		deps.HashPassword == nil ||
		deps.CreateUser == nil ||
		deps.IssueTokens == nil ||
		deps.Limiter == nil ||
		deps.NewRateLimited == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := accounts.NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	fail := func(userID, reason string, err error) error {
		deps.EmitAudit(ctx, deps.Events.SignupFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{
				"email":  email,
				"reason": reason,
			}
		})
		return err
	}

	if !plausibleEmail(email) || username == "" || strings.Contains(username, "@") || req.Password == "" {
		return nil, fail("", "invalid_fields", deps.Errors.InvalidInput)
	}

	if ip := deps.ClientIPFromContext(ctx); ip != "" {
		d, err := check(ctx, deps.Limiter, deps.SignupIP, ip)
		if err != nil {
			return nil, fail("", "limiter_unavailable", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err))
		}
		if !d.Allowed {
			deps.MetricInc(deps.Metrics.SignupRateLimited)
			deps.EmitRateLimit(ctx, deps.SignupIP.Scope, ip, d.RetryAfter)
			return nil, fail("", "rate_limited", deps.NewRateLimited(deps.SignupIP.Scope, d.RetryAfter))
		}
	}

	if err := deps.CheckStrength(req.Password); err != nil {
		return nil, fail("", "weak_password", fmt.Errorf("%w: %v", deps.Errors.WeakPassword, err))
	}

	hash, salt, err := deps.HashPassword(req.Password)
	if err != nil {
		return nil, fail("", "hash_failed", fmt.Errorf("hash password: %w", err))
	}

	user := &accounts.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         deps.DefaultRole,
		Subscription: entitlement.Free(deps.Now()).Raw(),
	}

	if err := deps.CreateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, accounts.ErrEmailTaken):
			deps.MetricInc(deps.Metrics.SignupConflict)
			return nil, fail("", "email_taken", deps.Errors.EmailTaken)
		case errors.Is(err, accounts.ErrUsernameTaken):
			deps.MetricInc(deps.Metrics.SignupConflict)
			return nil, fail("", "username_taken", deps.Errors.UsernameTaken)
		default:
			return nil, fail("", "store_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err))
		}
	}

	tokens, err := deps.IssueTokens(ctx, user)
	if err != nil {
		return nil, fail(user.ID, "token_issue_failed", err)
	}

	deps.MetricInc(deps.Metrics.SignupSuccess)
	deps.EmitAudit(ctx, deps.Events.SignupSuccess, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"email":    email,
			"username": accounts.NormalizeUsername(username),
		}
	})
	return &SignupResult{UserID: user.ID, User: user, Tokens: tokens}, nil
}

// plausibleEmail is a shape check only; delivery proves ownership.
func plausibleEmail(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n") && strings.Contains(email[at+1:], ".")
}

func normalizeSignupDeps(deps *SignupDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = noIP
	}
	if deps.DefaultRole == "" {
		deps.DefaultRole = permission.RoleOwner
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
