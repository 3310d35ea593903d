package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/stores"
	"github.com/MrEthical07/linkAuth/jwt"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.ParseAccess != nil
}

func (s Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	return RunLogin(ctx, identifier, password, s.deps.Login)
}

func (s Service) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	return RunSignup(ctx, req, s.deps.Signup)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, refreshToken string) error {
	return RunLogout(ctx, refreshToken, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID string) error {
	return RunLogoutAll(ctx, userID, s.deps.Logout)
}

func (s Service) Validate(ctx context.Context, tokenStr string) (*jwt.AccessClaims, error) {
	return RunValidate(ctx, tokenStr, s.deps.Validate)
}

func (s Service) StartLoginChallenge(ctx context.Context, user *accounts.User) (string, stores.Method, error) {
	return RunStartLoginChallenge(ctx, user, s.deps.TwoFactor)
}

func (s Service) SetupTwoFactor(ctx context.Context, userID string, method stores.Method) (*TwoFactorSetup, error) {
	return RunSetupTwoFactor(ctx, userID, method, s.deps.TwoFactor)
}

func (s Service) EnableTwoFactor(ctx context.Context, userID string, method stores.Method, code, sessionID string) error {
	return RunEnableTwoFactor(ctx, userID, method, code, sessionID, s.deps.TwoFactor)
}

func (s Service) DisableTwoFactor(ctx context.Context, userID string) error {
	return RunDisableTwoFactor(ctx, userID, s.deps.TwoFactor)
}

func (s Service) VerifyTwoFactor(ctx context.Context, sessionID, code string) (*VerifyResult, error) {
	return RunVerifyTwoFactor(ctx, sessionID, code, s.deps.TwoFactor)
}

func (s Service) ResendTwoFactorCode(ctx context.Context, sessionID string) error {
	return RunResendTwoFactorCode(ctx, sessionID, s.deps.TwoFactor)
}

func (s Service) VerifyTOTPForUser(ctx context.Context, user *accounts.User, code string) error {
	return RunVerifyTOTPForUser(ctx, user, code, s.deps.TwoFactor)
}

func (s Service) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	return RunGenerateBackupCodes(ctx, userID, s.deps.BackupCode)
}

func (s Service) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	return RunRegenerateBackupCodes(ctx, userID, totpCode, s.deps.BackupCode)
}

func (s Service) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	return RunConsumeBackupCode(ctx, userID, code, s.deps.BackupCode)
}

func (s Service) Entitlement(ctx context.Context, userID string) (entitlement.Resolution, error) {
	return RunEntitlement(ctx, userID, s.deps.Entitlement)
}

func (s Service) ResolveUser(user *accounts.User, now time.Time) entitlement.Resolution {
	return ResolveUser(user, now, s.deps.Entitlement)
}

func (s Service) RequireFeature(ctx context.Context, userID, feature string) (entitlement.Resolution, error) {
	return RunRequireFeature(ctx, userID, feature, s.deps.Entitlement)
}

func (s Service) CheckLimit(ctx context.Context, userID, limit string, current int) error {
	return RunCheckLimit(ctx, userID, limit, current, s.deps.Entitlement)
}

func (s Service) ApplyBillingUpdate(ctx context.Context, userID string, upd entitlement.BillingUpdate) (entitlement.Resolution, error) {
	return RunApplyBillingUpdate(ctx, userID, upd, s.deps.Entitlement)
}

func (s Service) ThrottleAPI(ctx context.Context, keyID, userID string) (rate.Decision, error) {
	return RunThrottleAPI(ctx, keyID, userID, s.deps.Entitlement)
}

func (s Service) ChangeEmail(ctx context.Context, userID, email string) (*accounts.User, error) {
	return RunChangeEmail(ctx, userID, email, s.deps.Account)
}

func (s Service) ChangeUsername(ctx context.Context, userID, username string) (*accounts.User, error) {
	return RunChangeUsername(ctx, userID, username, s.deps.Account)
}

func (s Service) SetMembership(ctx context.Context, userID string, m Membership) (*accounts.User, error) {
	return RunSetMembership(ctx, userID, m, s.deps.Account)
}
