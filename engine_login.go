package linkAuth

import (
	"context"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/stores"
)

// Login verifies an email or username with its password. When the user has
// a second factor enabled no tokens are issued: the result carries a
// two-factor session id to pass to VerifyTwoFactor.
//
// Unknown users, wrong passwords and unreadable hashes all fail with
// ErrInvalidCredentials; the audit trail records which one it was.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	res, err := e.flows.Login(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	if res.TwoFactorRequired {
		return &LoginResult{
			TwoFactorRequired: true,
			TwoFactorMethod:   twoFactorMethodOf(res.Method),
			SessionID:         res.SessionID,
		}, nil
	}
	return &LoginResult{
		Tokens: tokenPairOf(res.Tokens),
		User:   accountOf(res.User),
	}, nil
}

// Refresh consumes refreshToken and returns a successor pair. A token is
// accepted exactly once.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := e.flows.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return tokenPairOf(pair), nil
}

// Logout revokes refreshToken. Revoking an unknown token succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	return e.flows.Logout(ctx, refreshToken)
}

// LogoutAll revokes every refresh token of userID. Outstanding access tokens
// stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	return e.flows.LogoutAll(ctx, userID)
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	cfg := e.config

	return internalflows.LoginDeps{
		UpgradeOnLogin:      cfg.Password.UpgradeOnLogin,
		FailedIP:            cfg.RateLimits.LoginFailedIP.policy(rate.ScopeLoginFailedIP),
		FailedIdentity:      cfg.RateLimits.LoginFailedIdentity.policy(rate.ScopeLoginFailedIdentity),
		ClientIPFromContext: clientIPFromContext,
		FindUser:            e.users.ByLogin,
		VerifyPassword:      e.verifier.Verify,
		DummyVerify: func(password string) {
			_, _ = e.verifier.Verify(password, e.dummyHash, "")
		},
		NeedsUpgrade:    e.verifier.NeedsUpgrade,
		UpgradePassword: e.upgradePassword,
		StartChallenge: func(ctx context.Context, u *accounts.User) (string, stores.Method, error) {
			return e.flows.StartLoginChallenge(ctx, u)
		},
		IssueTokens:    e.issueTokens,
		Limiter:        e.limiter,
		NewRateLimited: e.newRateLimited,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		Warn:          e.warn,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:           int(MetricLoginSuccess),
			LoginFailure:           int(MetricLoginFailure),
			LoginRateLimited:       int(MetricLoginRateLimited),
			LoginTwoFactorRequired: int(MetricLoginTwoFactorRequired),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess:      auditEventLoginSuccess,
			LoginFailure:      auditEventLoginFailure,
			TwoFactorRequired: auditEventLoginTwoFactorRequired,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidInput:       ErrInvalidInput,
			InvalidCredentials: ErrInvalidCredentials,
			Unavailable:        ErrUnavailable,
		},
	}
}

// upgradePassword rehashes with the current argon2id parameters after a
// successful verification.
func (e *Engine) upgradePassword(ctx context.Context, userID, password string) error {
	hash, salt, err := e.verifier.Hash(password)
	if err != nil {
		return err
	}
	_, err = e.users.Mutate(ctx, userID, func(u *accounts.User) error {
		u.PasswordHash = hash
		u.PasswordSalt = salt
		return nil
	})
	return err
}

func (e *Engine) refreshFlowDeps() internalflows.RefreshDeps {
	return internalflows.RefreshDeps{
		FailedIP:            e.config.RateLimits.RefreshFailedIP.policy(rate.ScopeRefreshFailed),
		ClientIPFromContext: clientIPFromContext,
		Consume:             e.refresh.Consume,
		GetUser:             e.users.ByID,
		IssueTokens:         e.issueTokens,
		Limiter:             e.limiter,
		NewRateLimited:      e.newRateLimited,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		Warn:          e.warn,
		Metrics: internalflows.RefreshMetrics{
			RefreshSuccess:     int(MetricRefreshSuccess),
			RefreshFailure:     int(MetricRefreshFailure),
			RefreshRateLimited: int(MetricRefreshRateLimited),
		},
		Events: internalflows.RefreshEvents{
			RefreshSuccess: auditEventRefreshSuccess,
			RefreshFailure: auditEventRefreshFailure,
		},
		Errors: internalflows.RefreshErrors{
			EngineNotReady: ErrEngineNotReady,
			RefreshInvalid: ErrRefreshInvalid,
			Unavailable:    ErrUnavailable,
		},
	}
}

func (e *Engine) logoutFlowDeps() internalflows.LogoutDeps {
	return internalflows.LogoutDeps{
		Revoke:    e.refresh.Revoke,
		RevokeAll: e.refresh.RevokeAll,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit:    e.emitAudit,
		LogoutMetric: int(MetricLogout),
		LogoutEvent:  auditEventLogout,
		Errors: internalflows.LogoutErrors{
			EngineNotReady: ErrEngineNotReady,
			Unavailable:    ErrUnavailable,
		},
	}
}
