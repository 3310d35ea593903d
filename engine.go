package linkAuth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	internalaudit "github.com/MrEthical07/linkAuth/internal/audit"
	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
	"github.com/MrEthical07/linkAuth/internal/otp"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/secretbox"
	"github.com/MrEthical07/linkAuth/internal/stores"
	"github.com/MrEthical07/linkAuth/jwt"
	"github.com/MrEthical07/linkAuth/password"
	"github.com/MrEthical07/linkAuth/permission"
	"github.com/MrEthical07/linkAuth/refresh"
	"github.com/rs/zerolog"
)

var errNoMailer = errors.New("no mailer configured")

// Engine runs every authentication, two-factor and entitlement operation.
//
// An Engine is immutable after Build and safe for concurrent use. All
// shared state lives in Redis and the entity store.
type Engine struct {
	config Config
	now    func() time.Time
	logger zerolog.Logger
	mailer Mailer

	roles    *permission.RoleManager
	table    *entitlement.Table
	resolver entitlement.Resolver

	users      *accounts.Repository
	refresh    *refresh.Store
	challenges *stores.TwoFactorStore
	limiter    *rate.Limiter
	box        *secretbox.Box

	verifier   *password.Verifier
	dummyHash  string
	jwtManager *jwt.Manager
	totp       *otp.TOTP

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	flows   internalflows.Service
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Roles returns the role grants tokens are issued with.
func (e *Engine) Roles() *permission.RoleManager {
	return e.roles
}

// EntitlementTable returns the tier table features and limits are read from.
func (e *Engine) EntitlementTable() *entitlement.Table {
	return e.table
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) warn(msg string, kv ...any) {
	e.logger.Warn().Fields(kv).Msg(msg)
}

func (e *Engine) newRateLimited(scope string, retryAfter time.Duration) error {
	return &RateLimitedError{Scope: scope, RetryAfter: retryAfter}
}

func (e *Engine) permissionsOf(u *accounts.User) []string {
	return e.roles.Effective(u.Role, u.Permissions).Names()
}

// tierOf resolves the tier baked into a new access token.
func (e *Engine) tierOf(u *accounts.User) string {
	return e.flows.ResolveUser(u, e.now()).EffectiveTier.String()
}

func (e *Engine) issueTokens(ctx context.Context, u *accounts.User) (*internalflows.TokenPair, error) {
	return internalflows.RunIssueTokens(ctx, u, internalflows.IssueDeps{
		Tier:           e.tierOf,
		Permissions:    e.permissionsOf,
		CreateAccess:   e.jwtManager.CreateAccess,
		IssueRefresh:   e.refresh.Issue,
		EngineNotReady: ErrEngineNotReady,
		Unavailable:    ErrUnavailable,
	})
}

func (e *Engine) sendTwoFactorEmail(ctx context.Context, address, code string) error {
	if e.mailer == nil {
		return errNoMailer
	}
	return e.mailer.SendTwoFactorEmail(ctx, address, code)
}

// notify sends a templated email. Failures are logged and counted only.
func (e *Engine) notify(ctx context.Context, address, template string, params map[string]string) {
	if e.mailer == nil || address == "" {
		return
	}
	if err := e.mailer.SendTemplatedEmail(ctx, address, template, params); err != nil {
		e.metricInc(MetricEmailSendFailure)
		e.warn("linkAuth: templated email send failed", "template", template, "error", err)
	}
}

func (e *Engine) flowDeps() internalflows.Deps {
	return internalflows.Deps{
		Login:       e.loginFlowDeps(),
		Signup:      e.signupFlowDeps(),
		Refresh:     e.refreshFlowDeps(),
		Logout:      e.logoutFlowDeps(),
		Validate:    e.validateFlowDeps(),
		TwoFactor:   e.twoFactorFlowDeps(),
		BackupCode:  e.backupCodeFlowDeps(),
		Entitlement: e.entitlementFlowDeps(),
		Account:     e.accountFlowDeps(),
	}
}
