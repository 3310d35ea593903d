package linkAuth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/stores"
	"github.com/MrEthical07/linkAuth/jwt"
)

// TwoFactorMethod names a second factor.
type TwoFactorMethod string

const (
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorTOTP  TwoFactorMethod = "totp"
	// TwoFactorBoth is only reported for login challenges of users with
	// both factors enabled; either factor satisfies it.
	TwoFactorBoth TwoFactorMethod = "both"
)

// ParseTwoFactorMethod accepts "email" or "totp", case-insensitively.
func ParseTwoFactorMethod(raw string) (TwoFactorMethod, error) {
	switch m := TwoFactorMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case TwoFactorEmail, TwoFactorTOTP:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrTwoFactorMethodInvalid, raw)
	}
}

func (m TwoFactorMethod) storeMethod() (stores.Method, error) {
	switch m {
	case TwoFactorEmail:
		return stores.MethodEmail, nil
	case TwoFactorTOTP:
		return stores.MethodTOTP, nil
	default:
		return 0, ErrTwoFactorMethodInvalid
	}
}

func twoFactorMethodOf(m stores.Method) TwoFactorMethod {
	switch m {
	case stores.MethodEmail:
		return TwoFactorEmail
	case stores.MethodTOTP:
		return TwoFactorTOTP
	case stores.MethodBoth:
		return TwoFactorBoth
	default:
		return ""
	}
}

// TokenPair is a signed access token and its opaque refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func tokenPairOf(p *internalflows.TokenPair) *TokenPair {
	if p == nil {
		return nil
	}
	return &TokenPair{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// Account is the caller-visible view of a user. Credentials and secrets
// never appear here.
type Account struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	Role      string   `json:"role"`
	Companies []string `json:"companies,omitempty"`
	TOTP      bool     `json:"totpEnabled"`
	EmailCode bool     `json:"emailTwoFactorEnabled"`
}

func accountOf(u *accounts.User) *Account {
	if u == nil {
		return nil
	}
	return &Account{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      string(u.Role),
		Companies: append([]string(nil), u.Companies...),
		TOTP:      u.TwoFactor.TOTPEnabled,
		EmailCode: u.TwoFactor.EmailEnabled,
	}
}

// LoginResult carries either tokens or a pending two-factor session, never
// both.
type LoginResult struct {
	Tokens            *TokenPair      `json:"tokens,omitempty"`
	User              *Account        `json:"user,omitempty"`
	TwoFactorRequired bool            `json:"twoFactorRequired"`
	TwoFactorMethod   TwoFactorMethod `json:"method,omitempty"`
	SessionID         string          `json:"sessionId,omitempty"`
}

// SignupRequest carries only what a caller may assert about itself.
type SignupRequest struct {
	Email    string
	Username string
	Password string
}

type SignupResult struct {
	User   *Account
	Tokens *TokenPair
}

// TwoFactorSetup is returned once by SetupTwoFactor. Secret and backup codes
// are not recoverable afterwards.
type TwoFactorSetup struct {
	Method          TwoFactorMethod `json:"method"`
	Secret          string          `json:"secret,omitempty"`
	ProvisioningURI string          `json:"provisioningUri,omitempty"`
	BackupCodes     []string        `json:"backupCodes"`
	SessionID       string          `json:"sessionId,omitempty"`
}

// VerifyResult is a completed second-factor login.
type VerifyResult struct {
	User   *Account
	Method string
	Tokens *TokenPair
}

// Identity is the authorization context carried by a valid access token.
type Identity struct {
	UserID      string
	Role        string
	Permissions []string
	Companies   []string
	Tier        string
	TokenID     string
	ExpiresAt   time.Time
}

func identityOf(c *jwt.AccessClaims) *Identity {
	id := &Identity{
		UserID:      c.UID,
		Role:        c.Role,
		Permissions: c.Permissions,
		Companies:   c.Companies,
		Tier:        c.Tier,
		TokenID:     c.ID,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// HasPermission reports whether the token grants name.
func (id *Identity) HasPermission(name string) bool {
	if id == nil {
		return false
	}
	for _, p := range id.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// InCompany reports whether the token is scoped to companyID.
func (id *Identity) InCompany(companyID string) bool {
	if id == nil {
		return false
	}
	for _, c := range id.Companies {
		if c == companyID {
			return true
		}
	}
	return false
}

// Entitlement is a resolved effective tier.
type Entitlement = entitlement.Resolution

// BillingUpdate is a change pushed by the billing provider.
type BillingUpdate = entitlement.BillingUpdate

// RateDecision reports the outcome of one admitted or denied request.
type RateDecision = rate.Decision

// Mailer delivers outbound email. Failures are returned to the engine,
// which logs them without failing the calling operation.
type Mailer interface {
	SendTwoFactorEmail(ctx context.Context, address, code string) error
	SendTemplatedEmail(ctx context.Context, address, template string, params map[string]string) error
}

// Templates sent through Mailer.SendTemplatedEmail.
const (
	TemplateWelcome      = "welcome"
	TemplateEmailChanged = "email_changed"
)
