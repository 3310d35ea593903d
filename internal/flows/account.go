package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/permission"
)

type AccountEvents struct {
	EmailChanged      string
	UsernameChanged   string
	MembershipChanged string
}

type AccountErrors struct {
	EngineNotReady error
	InvalidInput   error
	UserNotFound   error
	EmailTaken     error
	UsernameTaken  error
	Unavailable    error
}

// AccountDeps captures identity change dependencies.
type AccountDeps struct {
	GetUser        func(context.Context, string) (*accounts.User, error)
	ChangeEmail    func(context.Context, string, string) (*accounts.User, error)
	ChangeUsername func(context.Context, string, string) (*accounts.User, error)
	MutateUser     func(context.Context, string, func(*accounts.User) error) (*accounts.User, error)

	EmitAudit AuditFunc

	Events AccountEvents
	Errors AccountErrors
}

// Membership is the administrative role and company assignment of a user.
type Membership struct {
	Role      string
	Companies []string
}

const maxCompanies = 32

// RunChangeEmail moves userID to email. The new address must be unused.
func RunChangeEmail(ctx context.Context, userID, email string, deps AccountDeps) (*accounts.User, error) {
	normalizeAccountDeps(&deps)
	if deps.GetUser == nil || deps.ChangeEmail == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = accounts.NormalizeEmail(email)
	fail := accountFailure(ctx, deps, deps.Events.EmailChanged, userID)
	if !plausibleEmail(email) {
		return nil, fail("invalid_input", deps.Errors.InvalidInput)
	}

	before, err := deps.GetUser(ctx, userID)
	if err != nil {
		return nil, fail("load_failed", runAccountErr(err, deps))
	}
	after, err := deps.ChangeEmail(ctx, userID, email)
	if err != nil {
		return nil, fail("store_failed", runAccountErr(err, deps))
	}

	deps.EmitAudit(ctx, deps.Events.EmailChanged, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"old": before.Email,
			"new": after.Email,
		}
	})
	return after, nil
}

// RunChangeUsername renames userID. The new name must be unused, ignoring
// case; a case-only change keeps the same index entry.
func RunChangeUsername(ctx context.Context, userID, username string, deps AccountDeps) (*accounts.User, error) {
	normalizeAccountDeps(&deps)
	if deps.GetUser == nil || deps.ChangeUsername == nil {
		return nil, deps.Errors.EngineNotReady
	}

	username = strings.TrimSpace(username)
	fail := accountFailure(ctx, deps, deps.Events.UsernameChanged, userID)
	if username == "" || strings.Contains(username, "@") {
		return nil, fail("invalid_input", deps.Errors.InvalidInput)
	}

	before, err := deps.GetUser(ctx, userID)
	if err != nil {
		return nil, fail("load_failed", runAccountErr(err, deps))
	}
	after, err := deps.ChangeUsername(ctx, userID, username)
	if err != nil {
		return nil, fail("store_failed", runAccountErr(err, deps))
	}

	deps.EmitAudit(ctx, deps.Events.UsernameChanged, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"old": before.Username,
			"new": after.Username,
		}
	})
	return after, nil
}

// RunSetMembership replaces the role and company list of userID. It is an
// administrative operation; signup never accepts either value from the
// caller.
func RunSetMembership(ctx context.Context, userID string, m Membership, deps AccountDeps) (*accounts.User, error) {
	normalizeAccountDeps(&deps)
	if deps.MutateUser == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := accountFailure(ctx, deps, deps.Events.MembershipChanged, userID)
	role, err := permission.ParseRole(m.Role)
	if err != nil {
		return nil, fail("invalid_role", fmt.Errorf("%w: %v", deps.Errors.InvalidInput, err))
	}
	companies, ok := cleanCompanies(m.Companies)
	if !ok {
		return nil, fail("invalid_companies", deps.Errors.InvalidInput)
	}

	var previous permission.Role
	after, err := deps.MutateUser(ctx, userID, func(u *accounts.User) error {
		previous = u.Role
		u.Role = role
		u.Companies = append([]string(nil), companies...)
		return nil
	})
	if err != nil {
		return nil, fail("store_failed", runAccountErr(err, deps))
	}

	deps.EmitAudit(ctx, deps.Events.MembershipChanged, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"old_role":  string(previous),
			"new_role":  string(after.Role),
			"companies": strings.Join(after.Companies, ","),
		}
	})
	return after, nil
}

func cleanCompanies(in []string) ([]string, bool) {
	if len(in) > maxCompanies {
		return nil, false
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || len(c) > 64 || strings.Contains(c, ",") {
			return nil, false
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, true
}

func accountFailure(ctx context.Context, deps AccountDeps, event, userID string) func(string, error) error {
	return func(reason string, err error) error {
		deps.EmitAudit(ctx, event, false, userID, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}
}

func runAccountErr(err error, deps AccountDeps) error {
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return deps.Errors.UserNotFound
	case errors.Is(err, accounts.ErrEmailTaken):
		return deps.Errors.EmailTaken
	case errors.Is(err, accounts.ErrUsernameTaken):
		return deps.Errors.UsernameTaken
	default:
		return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
}

func normalizeAccountDeps(deps *AccountDeps) {
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
