package flows

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/internal/accounts"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/stores"
)

// ResendScope is the rate scope reported when a code is resent too early.
const ResendScope = "2fa-resend"

// TwoFactorSetup is returned once by setup; it holds the only plaintext
// copies of the secret and backup codes.
type TwoFactorSetup struct {
	Method          stores.Method
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
	SessionID       string
}

// VerifyResult is a completed second-factor login.
type VerifyResult struct {
	UserID string
	User   *accounts.User
	Method string
	Tokens *TokenPair
}

type TwoFactorMetrics struct {
	TwoFactorSetup            int
	TwoFactorEnabled          int
	TwoFactorDisabled         int
	TwoFactorSuccess          int
	TwoFactorFailure          int
	TwoFactorAttemptsExceeded int
	TwoFactorResend           int
	TOTPReplayRejected        int
	EmailSendFailure          int
}

type TwoFactorEvents struct {
	Setup            string
	SetupFailure     string
	Enabled          string
	EnableFailure    string
	Disabled         string
	Success          string
	Failure          string
	AttemptsExceeded string
	Resend           string
}

type TwoFactorErrors struct {
	EngineNotReady    error
	InvalidInput      error
	UserNotFound      error
	SessionInvalid    error
	CodeInvalid       error
	AttemptsExceeded  error
	MethodInvalid     error
	NotPending        error
	NotEnabled        error
	AlreadyEnabled    error
	ResendUnsupported error
	SecretUnavailable error
	Unavailable       error
}

// TwoFactorDeps captures setup, enablement and challenge dependencies.
type TwoFactorDeps struct {
	MaxAttempts    int
	ChallengeTTL   time.Duration
	ResendInterval time.Duration
	CodeDigits     int
	TOTPDigits     int
	VerifyIP       rate.Policy

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	GetUser    func(context.Context, string) (*accounts.User, error)
	MutateUser func(context.Context, string, func(*accounts.User) error) (*accounts.User, error)

	NewSessionID func() (string, error)
	ValidSession func(string) bool
	NewCode      func(digits int) (string, error)
	SendCode     func(ctx context.Context, address, code string) error

	SaveChallenge   func(context.Context, string, *stores.Challenge) error
	GetChallenge    func(context.Context, string) (*stores.Challenge, error)
	DeleteChallenge func(context.Context, string) (bool, error)
	RecordFailure   func(context.Context, string) (int, bool, error)
	MarkResent      func(context.Context, string, [32]byte, time.Duration) error

	GenerateSecret func() ([]byte, string, error)
	ProvisionURI   func(secretBase32, account string) string
	VerifyTOTP     func(secret []byte, code string, now time.Time) (bool, int64, error)
	SealSecret     func(secret []byte, userID string) (string, error)
	OpenSecret     func(sealed, userID string) ([]byte, error)

	GenerateBackupCodes func(context.Context, string) ([]string, error)
	ConsumeBackupCode   func(context.Context, string, string) (bool, error)

	RevokeAll      func(context.Context, string) error
	IssueTokens    func(context.Context, *accounts.User) (*TokenPair, error)
	Limiter        RateLimiter
	NewRateLimited func(scope string, retryAfter time.Duration) error

	MetricInc     func(int)
	EmitAudit     AuditFunc
	EmitRateLimit RateLimitFunc
	Warn          func(string, ...any)

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

// EmailCodeHash binds an email code to the challenge it was issued for.
func EmailCodeHash(sessionID, code string) [32]byte {
	data := make([]byte, 0, len("email-code")+len(sessionID)+len(code)+2)
	data = append(data, "email-code"...)
	data = append(data, 0)
	data = append(data, sessionID...)
	data = append(data, 0)
	data = append(data, code...)
	return sha256.Sum256(data)
}

// LoginMethod picks the challenge method for the user's enabled factors.
func LoginMethod(tf accounts.TwoFactor) (stores.Method, bool) {
	switch {
	case tf.TOTPEnabled && tf.EmailEnabled:
		return stores.MethodBoth, true
	case tf.TOTPEnabled:
		return stores.MethodTOTP, true
	case tf.EmailEnabled:
		return stores.MethodEmail, true
	default:
		return 0, false
	}
}

// RunStartLoginChallenge opens a login challenge for user and, when email is
// among the methods, mails the code. A failed send is logged, not returned;
// the user can request a resend.
func RunStartLoginChallenge(ctx context.Context, user *accounts.User, deps TwoFactorDeps) (string, stores.Method, error) {
	normalizeTwoFactorDeps(&deps)
	method, ok := LoginMethod(user.TwoFactor)
	if !ok {
		return "", 0, deps.Errors.NotEnabled
	}
	sessionID, err := runOpenChallenge(ctx, user, method, stores.PurposeLogin, deps)
	if err != nil {
		return "", 0, err
	}
	return sessionID, method, nil
}

func runOpenChallenge(ctx context.Context, user *accounts.User, method stores.Method, purpose stores.Purpose, deps TwoFactorDeps) (string, error) {
	if deps.NewSessionID == nil || deps.SaveChallenge == nil || deps.NewCode == nil {
		return "", deps.Errors.EngineNotReady
	}

	sessionID, err := deps.NewSessionID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	now := deps.Now()
	c := &stores.Challenge{
		UserID:       user.ID,
		Method:       method,
		Purpose:      purpose,
		AttemptsLeft: uint8(deps.MaxAttempts),
		LastResend:   now.Unix(),
		ExpiresAt:    now.Add(deps.ChallengeTTL).Unix(),
	}

	var code string
	if method.AcceptsEmail() {
		code, err = deps.NewCode(deps.CodeDigits)
		if err != nil {
			return "", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		c.CodeHash = EmailCodeHash(sessionID, code)
	}

	if err := deps.SaveChallenge(ctx, sessionID, c); err != nil {
		return "", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	if code != "" {
		runSendCode(ctx, user, code, deps)
	}
	return sessionID, nil
}

func runSendCode(ctx context.Context, user *accounts.User, code string, deps TwoFactorDeps) {
	if deps.SendCode == nil {
		return
	}
	if err := deps.SendCode(ctx, user.Email, code); err != nil {
		deps.MetricInc(deps.Metrics.EmailSendFailure)
		deps.Warn("linkAuth: two-factor email send failed", "user_id", user.ID, "error", err)
	}
}

// RunSetupTwoFactor moves method from not enrolled to pending verification
// for userID. An already enabled method is rejected. Backup codes are issued
// only while no factor is enabled; afterwards they are replaced through
// RunRegenerateBackupCodes, which demands a TOTP proof.
func RunSetupTwoFactor(ctx context.Context, userID string, method stores.Method, deps TwoFactorDeps) (*TwoFactorSetup, error) {
	normalizeTwoFactorDeps(&deps)
	if deps.GetUser == nil || deps.MutateUser == nil || deps.GenerateBackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(reason, sessionID string, err error) error {
		deps.EmitAudit(ctx, deps.Events.SetupFailure, false, userID, sessionID, err, func() map[string]string {
			return map[string]string{
				"method": method.String(),
				"reason": reason,
			}
		})
		return err
	}
	if method != stores.MethodTOTP && method != stores.MethodEmail {
		return nil, fail("method_invalid", "", deps.Errors.MethodInvalid)
	}

	user, err := runLoadUser(ctx, userID, deps)
	if err != nil {
		return nil, fail("load_failed", "", err)
	}
	if (method == stores.MethodTOTP && user.TwoFactor.TOTPEnabled) ||
		(method == stores.MethodEmail && user.TwoFactor.EmailEnabled) {
		return nil, fail("already_enabled", "", deps.Errors.AlreadyEnabled)
	}
	firstFactor := !user.TwoFactor.Enabled()

	setup := &TwoFactorSetup{Method: method}
	switch method {
	case stores.MethodTOTP:
		if deps.GenerateSecret == nil || deps.SealSecret == nil || deps.ProvisionURI == nil {
			return nil, deps.Errors.EngineNotReady
		}
		raw, encoded, err := deps.GenerateSecret()
		if err != nil {
			return nil, fail("secret_unavailable", "", fmt.Errorf("%w: %v", deps.Errors.SecretUnavailable, err))
		}
		sealed, err := deps.SealSecret(raw, user.ID)
		if err != nil {
			return nil, fail("secret_unavailable", "", fmt.Errorf("%w: %v", deps.Errors.SecretUnavailable, err))
		}
		if _, err := deps.MutateUser(ctx, user.ID, func(u *accounts.User) error {
			if u.TwoFactor.TOTPEnabled {
				return deps.Errors.AlreadyEnabled
			}
			u.TwoFactor.PendingSecret = sealed
			return nil
		}); err != nil {
			if errors.Is(err, deps.Errors.AlreadyEnabled) {
				return nil, fail("already_enabled", "", err)
			}
			return nil, fail("store_failed", "", runUserStoreErr(err, deps))
		}
		setup.Secret = encoded
		setup.ProvisioningURI = deps.ProvisionURI(encoded, user.Email)

	case stores.MethodEmail:
		sessionID, err := runOpenChallenge(ctx, user, stores.MethodEmail, stores.PurposeEnrollEmail, deps)
		if err != nil {
			return nil, fail("challenge_failed", "", err)
		}
		setup.SessionID = sessionID
	}

	if firstFactor {
		codes, err := deps.GenerateBackupCodes(ctx, user.ID)
		if err != nil {
			return nil, fail("backup_codes_failed", setup.SessionID, err)
		}
		setup.BackupCodes = codes
	}

	deps.MetricInc(deps.Metrics.TwoFactorSetup)
	deps.EmitAudit(ctx, deps.Events.Setup, true, user.ID, setup.SessionID, nil, func() map[string]string {
		return map[string]string{
			"method": method.String(),
		}
	})
	return setup, nil
}

// RunEnableTwoFactor flips method on once the user proves possession: a
// TOTP code for the pending secret, or the emailed enrollment code.
func RunEnableTwoFactor(ctx context.Context, userID string, method stores.Method, code, sessionID string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if deps.GetUser == nil || deps.MutateUser == nil {
		return deps.Errors.EngineNotReady
	}

	code = strings.TrimSpace(code)
	fail := func(reason string, err error) error {
		deps.EmitAudit(ctx, deps.Events.EnableFailure, false, userID, sessionID, err, func() map[string]string {
			return map[string]string{
				"method": method.String(),
				"reason": reason,
			}
		})
		return err
	}

	user, err := runLoadUser(ctx, userID, deps)
	if err != nil {
		return fail("load_failed", err)
	}

	switch method {
	case stores.MethodTOTP:
		if deps.OpenSecret == nil || deps.VerifyTOTP == nil {
			return deps.Errors.EngineNotReady
		}
		pending := user.TwoFactor.PendingSecret
		if pending == "" {
			return fail("not_pending", deps.Errors.NotPending)
		}
		secret, err := deps.OpenSecret(pending, user.ID)
		if err != nil {
			return fail("secret_unreadable", fmt.Errorf("%w: %v", deps.Errors.SecretUnavailable, err))
		}
		ok, step, err := deps.VerifyTOTP(secret, code, deps.Now())
		if err != nil {
			return fail("totp_verify_error", fmt.Errorf("%w: %v", deps.Errors.SecretUnavailable, err))
		}
		if !ok {
			return fail("code_mismatch", deps.Errors.CodeInvalid)
		}

		if _, err := deps.MutateUser(ctx, user.ID, func(u *accounts.User) error {
			if u.TwoFactor.PendingSecret != pending {
				return deps.Errors.NotPending
			}
			u.TwoFactor.TOTPSecret = pending
			u.TwoFactor.PendingSecret = ""
			u.TwoFactor.TOTPEnabled = true
			u.TwoFactor.LastTOTPStep = step
			return nil
		}); err != nil {
			if errors.Is(err, deps.Errors.NotPending) {
				return fail("not_pending", err)
			}
			return fail("store_failed", runUserStoreErr(err, deps))
		}

	case stores.MethodEmail:
		if deps.GetChallenge == nil || deps.DeleteChallenge == nil || deps.RecordFailure == nil {
			return deps.Errors.EngineNotReady
		}
		c, err := runLoadChallenge(ctx, sessionID, deps)
		if err != nil {
			return fail("session_invalid", err)
		}
		if c.Purpose != stores.PurposeEnrollEmail || c.UserID != user.ID {
			return fail("session_mismatch", deps.Errors.SessionInvalid)
		}
		want := EmailCodeHash(sessionID, code)
		if code == "" || subtle.ConstantTimeCompare(want[:], c.CodeHash[:]) != 1 {
			return fail("code_mismatch", runRecordFailure(ctx, sessionID, user.ID, deps))
		}
		deleted, err := deps.DeleteChallenge(ctx, sessionID)
		if err != nil {
			return fail("store_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err))
		}
		if !deleted {
			return fail("session_consumed", deps.Errors.SessionInvalid)
		}

		if _, err := deps.MutateUser(ctx, user.ID, func(u *accounts.User) error {
			u.TwoFactor.EmailEnabled = true
			return nil
		}); err != nil {
			return fail("store_failed", runUserStoreErr(err, deps))
		}

	default:
		return fail("method_invalid", deps.Errors.MethodInvalid)
	}

	deps.MetricInc(deps.Metrics.TwoFactorEnabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, user.ID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"method": method.String(),
		}
	})
	return nil
}

// RunDisableTwoFactor clears every second factor of userID and revokes its
// refresh tokens. Disabling an account without two-factor succeeds.
func RunDisableTwoFactor(ctx context.Context, userID string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if deps.MutateUser == nil || deps.RevokeAll == nil {
		return deps.Errors.EngineNotReady
	}

	if _, err := deps.MutateUser(ctx, userID, func(u *accounts.User) error {
		u.TwoFactor = accounts.TwoFactor{}
		return nil
	}); err != nil {
		mapped := runUserStoreErr(err, deps)
		reason := "store_failed"
		if errors.Is(mapped, deps.Errors.UserNotFound) {
			reason = "user_not_found"
		}
		deps.EmitAudit(ctx, deps.Events.Disabled, false, userID, "", mapped, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return mapped
	}

	if err := deps.RevokeAll(ctx, userID); err != nil {
		deps.Warn("linkAuth: refresh revocation after two-factor disable failed", "user_id", userID, "error", err)
	}

	deps.MetricInc(deps.Metrics.TwoFactorDisabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, userID, "", nil, nil)
	return nil
}

// RunVerifyTwoFactor checks code against the login challenge sessionID.
// Methods are tried in order: emailed code, TOTP, backup code. The hash
// domains are disjoint so a code can match at most one. A miss costs one
// attempt; the last attempt deletes the challenge.
func RunVerifyTwoFactor(ctx context.Context, sessionID, code string, deps TwoFactorDeps) (*VerifyResult, error) {
	normalizeTwoFactorDeps(&deps)
	if deps.GetUser == nil ||
		deps.GetChallenge == nil ||
		deps.DeleteChallenge == nil ||
		deps.RecordFailure == nil ||
		deps.IssueTokens == nil ||
		deps.Limiter == nil ||
		deps.NewRateLimited == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if ip := deps.ClientIPFromContext(ctx); ip != "" {
		d, err := check(ctx, deps.Limiter, deps.VerifyIP, ip)
		if err != nil {
			return nil, runVerifyFailure(ctx, "", sessionID, "limiter_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), deps)
		}
		if !d.Allowed {
			limited := deps.NewRateLimited(deps.VerifyIP.Scope, d.RetryAfter)
			deps.EmitRateLimit(ctx, deps.VerifyIP.Scope, ip, d.RetryAfter)
			deps.EmitAudit(ctx, deps.Events.Failure, false, "", sessionID, limited, func() map[string]string {
				return map[string]string{
					"reason": "rate_limited",
				}
			})
			return nil, limited
		}
	}

	c, err := runLoadChallenge(ctx, sessionID, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", sessionID, err, func() map[string]string {
			return map[string]string{
				"reason": "session_invalid",
			}
		})
		return nil, err
	}
	if c.Purpose != stores.PurposeLogin {
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, c.UserID, sessionID, deps.Errors.SessionInvalid, func() map[string]string {
			return map[string]string{
				"reason": "wrong_purpose",
			}
		})
		return nil, deps.Errors.SessionInvalid
	}

	user, err := deps.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			_, _ = deps.DeleteChallenge(ctx, sessionID)
			return nil, runVerifyFailure(ctx, c.UserID, sessionID, "user_not_found", deps.Errors.SessionInvalid, deps)
		}
		return nil, runVerifyFailure(ctx, c.UserID, sessionID, "load_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), deps)
	}

	code = strings.TrimSpace(code)
	matched := ""

	if code != "" && c.HasCode() && c.Method.AcceptsEmail() {
		want := EmailCodeHash(sessionID, code)
		if subtle.ConstantTimeCompare(want[:], c.CodeHash[:]) == 1 {
			matched = "email"
		}
	}

	if matched == "" && c.Method.AcceptsTOTP() && user.TwoFactor.TOTPEnabled && len(code) == deps.TOTPDigits {
		ok, err := runMatchTOTP(ctx, user, code, sessionID, deps)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = "totp"
		}
	}

	if matched == "" && code != "" && len(user.TwoFactor.BackupCodes) > 0 && deps.ConsumeBackupCode != nil {
		ok, err := deps.ConsumeBackupCode(ctx, user.ID, code)
		if err != nil {
			return nil, runVerifyFailure(ctx, user.ID, sessionID, "backup_code_failed", err, deps)
		}
		if ok {
			matched = "backup_code"
		}
	}

	if matched == "" {
		return nil, runRecordFailure(ctx, sessionID, user.ID, deps)
	}

	deleted, err := deps.DeleteChallenge(ctx, sessionID)
	if err != nil {
		return nil, runVerifyFailure(ctx, user.ID, sessionID, "store_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err), deps)
	}
	if !deleted {
		return nil, runVerifyFailure(ctx, user.ID, sessionID, "session_consumed", deps.Errors.SessionInvalid, deps)
	}

	tokens, err := deps.IssueTokens(ctx, user)
	if err != nil {
		return nil, runVerifyFailure(ctx, user.ID, sessionID, "token_issue_failed", err, deps)
	}

	deps.MetricInc(deps.Metrics.TwoFactorSuccess)
	deps.EmitAudit(ctx, deps.Events.Success, true, user.ID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"method": matched,
		}
	})
	return &VerifyResult{UserID: user.ID, User: user, Method: matched, Tokens: tokens}, nil
}

func runVerifyFailure(ctx context.Context, userID, sessionID, reason string, err error, deps TwoFactorDeps) error {
	deps.MetricInc(deps.Metrics.TwoFactorFailure)
	deps.EmitAudit(ctx, deps.Events.Failure, false, userID, sessionID, err, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	return err
}

// runMatchTOTP verifies code and records its step so the same step cannot
// be replayed. Secret decryption errors are internal, not a wrong code.
func runMatchTOTP(ctx context.Context, user *accounts.User, code, sessionID string, deps TwoFactorDeps) (bool, error) {
	if deps.OpenSecret == nil || deps.VerifyTOTP == nil || deps.MutateUser == nil {
		return false, deps.Errors.EngineNotReady
	}

	secret, err := deps.OpenSecret(user.TwoFactor.TOTPSecret, user.ID)
	if err != nil {
		return false, runVerifyFailure(ctx, user.ID, sessionID, "secret_unreadable", fmt.Errorf("%w: %v", deps.Errors.SecretUnavailable, err), deps)
	}

	ok, step, err := deps.VerifyTOTP(secret, code, deps.Now())
	if err != nil {
		return false, runVerifyFailure(ctx, user.ID, sessionID, "totp_verify_error", fmt.Errorf("%w: %v", deps.Errors.SecretUnavailable, err), deps)
	}
	if !ok {
		return false, nil
	}

	errReplay := errors.New("totp step already used")
	if _, err := deps.MutateUser(ctx, user.ID, func(u *accounts.User) error {
		if step <= u.TwoFactor.LastTOTPStep {
			return errReplay
		}
		u.TwoFactor.LastTOTPStep = step
		return nil
	}); err != nil {
		if errors.Is(err, errReplay) {
			deps.MetricInc(deps.Metrics.TOTPReplayRejected)
			return false, nil
		}
		return false, runVerifyFailure(ctx, user.ID, sessionID, "store_failed", runUserStoreErr(err, deps), deps)
	}
	return true, nil
}

// runRecordFailure spends one attempt of sessionID and returns the error
// the caller should see.
func runRecordFailure(ctx context.Context, sessionID, userID string, deps TwoFactorDeps) error {
	remaining, exhausted, err := deps.RecordFailure(ctx, sessionID)
	if err != nil {
		return runVerifyFailure(ctx, userID, sessionID, "record_failure", runChallengeErr(err, deps), deps)
	}
	if exhausted {
		deps.MetricInc(deps.Metrics.TwoFactorAttemptsExceeded)
		deps.EmitAudit(ctx, deps.Events.AttemptsExceeded, false, userID, sessionID, deps.Errors.AttemptsExceeded, nil)
		return deps.Errors.AttemptsExceeded
	}

	deps.MetricInc(deps.Metrics.TwoFactorFailure)
	deps.EmitAudit(ctx, deps.Events.Failure, false, userID, sessionID, deps.Errors.CodeInvalid, func() map[string]string {
		return map[string]string{
			"reason":             "code_mismatch",
			"attempts_remaining": fmt.Sprint(remaining),
		}
	})
	return deps.Errors.CodeInvalid
}

// RunResendTwoFactorCode mails a new code for an email challenge, at most
// once per ResendInterval. The previous code stops working.
func RunResendTwoFactorCode(ctx context.Context, sessionID string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if deps.GetChallenge == nil || deps.MarkResent == nil || deps.GetUser == nil || deps.NewCode == nil || deps.NewRateLimited == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(userID, reason string, err error) error {
		deps.EmitAudit(ctx, deps.Events.Resend, false, userID, sessionID, err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		return err
	}

	c, err := runLoadChallenge(ctx, sessionID, deps)
	if err != nil {
		return fail("", "session_invalid", err)
	}
	if !c.Method.AcceptsEmail() {
		return fail(c.UserID, "resend_unsupported", deps.Errors.ResendUnsupported)
	}

	user, err := deps.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return fail(c.UserID, "user_not_found", deps.Errors.SessionInvalid)
		}
		return fail(c.UserID, "load_failed", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err))
	}

	code, err := deps.NewCode(deps.CodeDigits)
	if err != nil {
		return fail(user.ID, "code_unavailable", fmt.Errorf("%w: %v", deps.Errors.Unavailable, err))
	}
	if err := deps.MarkResent(ctx, sessionID, EmailCodeHash(sessionID, code), deps.ResendInterval); err != nil {
		var tooSoon *stores.ResendTooSoonError
		if errors.As(err, &tooSoon) {
			deps.EmitRateLimit(ctx, ResendScope, sessionID, tooSoon.RetryAfter)
			return fail(user.ID, "too_soon", deps.NewRateLimited(ResendScope, tooSoon.RetryAfter))
		}
		return fail(user.ID, "store_failed", runChallengeErr(err, deps))
	}

	runSendCode(ctx, user, code, deps)
	deps.MetricInc(deps.Metrics.TwoFactorResend)
	deps.EmitAudit(ctx, deps.Events.Resend, true, user.ID, sessionID, nil, nil)
	return nil
}

func runLoadUser(ctx context.Context, userID string, deps TwoFactorDeps) (*accounts.User, error) {
	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return nil, runUserStoreErr(err, deps)
	}
	return user, nil
}

func runLoadChallenge(ctx context.Context, sessionID string, deps TwoFactorDeps) (*stores.Challenge, error) {
	if sessionID == "" || (deps.ValidSession != nil && !deps.ValidSession(sessionID)) {
		return nil, deps.Errors.SessionInvalid
	}
	c, err := deps.GetChallenge(ctx, sessionID)
	if err != nil {
		return nil, runChallengeErr(err, deps)
	}
	return c, nil
}

func runChallengeErr(err error, deps TwoFactorDeps) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
		return deps.Errors.SessionInvalid
	case errors.Is(err, stores.ErrResendNotAllowed):
		return deps.Errors.ResendUnsupported
	default:
		return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
}

func runUserStoreErr(err error, deps TwoFactorDeps) error {
	if errors.Is(err, accounts.ErrNotFound) {
		return deps.Errors.UserNotFound
	}
	return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = noIP
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	if deps.ChallengeTTL <= 0 {
		deps.ChallengeTTL = 10 * time.Minute
	}
	if deps.CodeDigits <= 0 {
		deps.CodeDigits = 6
	}
	if deps.TOTPDigits <= 0 {
		deps.TOTPDigits = 6
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

// RunVerifyTOTPForUser checks a current TOTP code for an enabled user,
// recording the step. It backs operations that require a fresh TOTP proof.
func RunVerifyTOTPForUser(ctx context.Context, user *accounts.User, code string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if !user.TwoFactor.TOTPEnabled || user.TwoFactor.TOTPSecret == "" {
		return deps.Errors.NotEnabled
	}
	code = strings.TrimSpace(code)
	if len(code) != deps.TOTPDigits {
		return deps.Errors.CodeInvalid
	}
	ok, err := runMatchTOTP(ctx, user, code, "", deps)
	if err != nil {
		return err
	}
	if !ok {
		return deps.Errors.CodeInvalid
	}
	return nil
}
