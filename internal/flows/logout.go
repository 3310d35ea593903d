package flows

import (
	"context"
	"fmt"
	"strings"
)

type LogoutErrors struct {
	EngineNotReady error
	Unavailable    error
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Revoke    func(context.Context, string) error
	RevokeAll func(context.Context, string) error

	MetricInc func(int)
	EmitAudit AuditFunc

	LogoutMetric int
	LogoutEvent  string
	Errors       LogoutErrors
}

// RunLogout revokes a single refresh token. Unknown tokens are not an error.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) error {
	normalizeLogoutDeps(&deps)
	if deps.Revoke == nil {
		return deps.Errors.EngineNotReady
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken != "" {
		if err := deps.Revoke(ctx, refreshToken); err != nil {
			mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
			deps.EmitAudit(ctx, deps.LogoutEvent, false, "", "", mapped, nil)
			return mapped
		}
	}

	deps.MetricInc(deps.LogoutMetric)
	deps.EmitAudit(ctx, deps.LogoutEvent, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"scope": "token",
		}
	})
	return nil
}

// RunLogoutAll revokes every refresh token of userID.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) error {
	normalizeLogoutDeps(&deps)
	if deps.RevokeAll == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.RevokeAll(ctx, userID); err != nil {
		mapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		deps.EmitAudit(ctx, deps.LogoutEvent, false, userID, "", mapped, nil)
		return mapped
	}

	deps.MetricInc(deps.LogoutMetric)
	deps.EmitAudit(ctx, deps.LogoutEvent, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"scope": "all",
		}
	})
	return nil
}

func normalizeLogoutDeps(deps *LogoutDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
