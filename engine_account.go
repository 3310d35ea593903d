package linkAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
)

// ValidateAccess verifies an access token, with or without a "Bearer "
// prefix, and returns the identity baked into it. No store is consulted.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*Identity, error) {
	start := time.Now()
	claims, err := e.flows.Validate(ctx, tokenStr)
	e.metricObserve(MetricValidateLatency, time.Since(start))
	if err != nil {
		return nil, err
	}
	return identityOf(claims), nil
}

// Account returns the current view of userID.
func (e *Engine) Account(ctx context.Context, userID string) (*Account, error) {
	u, err := e.users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return accountOf(u), nil
}

// ChangeEmail moves userID to a new, unused address. The previous address
// is told about the change.
func (e *Engine) ChangeEmail(ctx context.Context, userID, email string) (*Account, error) {
	var previous string
	if before, err := e.users.ByID(ctx, userID); err == nil {
		previous = before.Email
	}
	u, err := e.flows.ChangeEmail(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	if previous != u.Email {
		e.notify(ctx, previous, TemplateEmailChanged, map[string]string{
			"username":  u.Username,
			"new_email": u.Email,
		})
	}
	return accountOf(u), nil
}

// ChangeUsername moves userID to a new, unused username.
func (e *Engine) ChangeUsername(ctx context.Context, userID, username string) (*Account, error) {
	u, err := e.flows.ChangeUsername(ctx, userID, username)
	if err != nil {
		return nil, err
	}
	return accountOf(u), nil
}

// SetMembership assigns role and companies to userID. Roles and company
// memberships are never self-asserted at signup; this is the only path that
// changes them. Tokens issued before the change keep the old claims until
// they are refreshed.
func (e *Engine) SetMembership(ctx context.Context, userID, role string, companies []string) (*Account, error) {
	u, err := e.flows.SetMembership(ctx, userID, internalflows.Membership{
		Role:      role,
		Companies: companies,
	})
	if err != nil {
		return nil, err
	}
	return accountOf(u), nil
}

func (e *Engine) validateFlowDeps() internalflows.ValidateDeps {
	return internalflows.ValidateDeps{
		ParseAccess:    e.jwtManager.ParseAccess,
		EngineNotReady: ErrEngineNotReady,
		TokenInvalid:   ErrTokenInvalid,
	}
}

func (e *Engine) accountFlowDeps() internalflows.AccountDeps {
	return internalflows.AccountDeps{
		GetUser:        e.users.ByID,
		ChangeEmail:    e.users.ChangeEmail,
		ChangeUsername: e.users.ChangeUsername,
		MutateUser:     e.users.Mutate,
		EmitAudit:      e.emitAudit,
		Events: internalflows.AccountEvents{
			EmailChanged:      auditEventEmailChanged,
			UsernameChanged:   auditEventUsernameChanged,
			MembershipChanged: auditEventMembershipChanged,
		},
		Errors: internalflows.AccountErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidInput:   ErrInvalidInput,
			UserNotFound:   ErrUserNotFound,
			EmailTaken:     ErrEmailTaken,
			UsernameTaken:  ErrUsernameTaken,
			Unavailable:    ErrUnavailable,
		},
	}
}
