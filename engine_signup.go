package linkAuth

import (
	"context"

	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/password"
	"github.com/MrEthical07/linkAuth/permission"
)

// Signup creates an account on the free tier and signs it in. A duplicate
// email or username fails with ErrEmailTaken or ErrUsernameTaken and leaves
// the existing account untouched. The account starts as owner of no
// companies; see SetMembership.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	res, err := e.flows.Signup(ctx, internalflows.SignupRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, res.User.Email, TemplateWelcome, map[string]string{
		"username": res.User.Username,
	})
	return &SignupResult{
		User:   accountOf(res.User),
		Tokens: tokenPairOf(res.Tokens),
	}, nil
}

func (e *Engine) signupFlowDeps() internalflows.SignupDeps {
	return internalflows.SignupDeps{
		SignupIP:            e.config.RateLimits.SignupIP.policy(rate.ScopeSignup),
		DefaultRole:         permission.RoleOwner,
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		CheckStrength:       password.CheckStrength,
		HashPassword:        e.verifier.Hash,
		CreateUser:          e.users.Create,
		IssueTokens:         e.issueTokens,
		Limiter:             e.limiter,
		NewRateLimited:      e.newRateLimited,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		Metrics: internalflows.SignupMetrics{
			SignupSuccess:     int(MetricSignupSuccess),
			SignupConflict:    int(MetricSignupConflict),
			SignupRateLimited: int(MetricSignupRateLimited),
		},
		Events: internalflows.SignupEvents{
			SignupSuccess: auditEventSignupSuccess,
			SignupFailure: auditEventSignupFailure,
		},
		Errors: internalflows.SignupErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidInput:   ErrInvalidInput,
			WeakPassword:   ErrWeakPassword,
			EmailTaken:     ErrEmailTaken,
			UsernameTaken:  ErrUsernameTaken,
			Unavailable:    ErrUnavailable,
		},
	}
}
