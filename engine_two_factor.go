package linkAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/linkAuth/internal"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
	"github.com/MrEthical07/linkAuth/internal/otp"
	"github.com/MrEthical07/linkAuth/internal/rate"
)

// SetupTwoFactor starts enrollment of method for userID. For TOTP the result
// carries the secret and its provisioning URI; for email a code is mailed and
// the result carries the enrollment session id. Backup codes are returned
// only when the account has no enabled factor yet. Setting up a method that
// is already enabled fails with ErrTwoFactorAlreadyEnabled. Nothing is
// enforced until EnableTwoFactor succeeds.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string, method TwoFactorMethod) (*TwoFactorSetup, error) {
	m, err := method.storeMethod()
	if err != nil {
		e.emitMethodInvalid(ctx, auditEventTwoFactorSetupFailure, userID, method, err)
		return nil, err
	}
	setup, err := e.flows.SetupTwoFactor(ctx, userID, m)
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{
		Method:          twoFactorMethodOf(setup.Method),
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		BackupCodes:     setup.BackupCodes,
		SessionID:       setup.SessionID,
	}, nil
}

// EnableTwoFactor completes enrollment once code proves possession of the
// factor. sessionID is only used for email.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID string, method TwoFactorMethod, code, sessionID string) error {
	m, err := method.storeMethod()
	if err != nil {
		e.emitMethodInvalid(ctx, auditEventTwoFactorEnableFailure, userID, method, err)
		return err
	}
	return e.flows.EnableTwoFactor(ctx, userID, m, code, sessionID)
}

// DisableTwoFactor turns off both factors, drops the secret and backup codes
// and revokes every refresh token of userID. Disabling twice is not an
// error.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID string) error {
	return e.flows.DisableTwoFactor(ctx, userID)
}

// VerifyTwoFactor answers the challenge opened by Login. code may be an
// email code, a TOTP code or a backup code. On success the session is
// destroyed and tokens are issued.
func (e *Engine) VerifyTwoFactor(ctx context.Context, sessionID, code string) (*VerifyResult, error) {
	res, err := e.flows.VerifyTwoFactor(ctx, sessionID, code)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		User:   accountOf(res.User),
		Method: res.Method,
		Tokens: tokenPairOf(res.Tokens),
	}, nil
}

// ResendTwoFactorCode mails a new code for an email challenge. Requests
// inside the resend interval fail with a *RateLimitedError.
func (e *Engine) ResendTwoFactorCode(ctx context.Context, sessionID string) error {
	return e.flows.ResendTwoFactorCode(ctx, sessionID)
}

// RegenerateBackupCodes replaces the backup codes of a TOTP user after
// checking a current TOTP code.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	return e.flows.RegenerateBackupCodes(ctx, userID, totpCode)
}

func (e *Engine) emitMethodInvalid(ctx context.Context, event, userID string, method TwoFactorMethod, err error) {
	e.emitAudit(ctx, event, false, userID, "", err, func() map[string]string {
		return map[string]string{
			"method": string(method),
			"reason": "method_invalid",
		}
	})
}

func (e *Engine) twoFactorFlowDeps() internalflows.TwoFactorDeps {
	cfg := e.config.TwoFactor

	return internalflows.TwoFactorDeps{
		MaxAttempts:         cfg.MaxAttempts,
		ChallengeTTL:        cfg.ChallengeTTL,
		ResendInterval:      cfg.ResendInterval,
		CodeDigits:          cfg.EmailCodeDigits,
		TOTPDigits:          cfg.Digits,
		VerifyIP:            e.config.RateLimits.TwoFactorVerifyIP.policy(rate.ScopeTwoFactorVerify),
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		GetUser:             e.users.ByID,
		MutateUser:          e.users.Mutate,
		NewSessionID: func() (string, error) {
			sid, err := internal.NewSessionID()
			if err != nil {
				return "", err
			}
			return sid.String(), nil
		},
		ValidSession: func(sessionID string) bool {
			_, err := internal.ParseSessionID(sessionID)
			return err == nil
		},
		NewCode:         internal.NewOTP,
		SendCode:        e.sendTwoFactorEmail,
		SaveChallenge:   e.challenges.Save,
		GetChallenge:    e.challenges.Get,
		DeleteChallenge: e.challenges.Delete,
		RecordFailure:   e.challenges.RecordFailure,
		MarkResent:      e.challenges.MarkResent,
		GenerateSecret:  otp.NewSecret,
		ProvisionURI:    e.totp.URI,
		VerifyTOTP: func(secret []byte, code string, now time.Time) (bool, int64, error) {
			counter, ok, err := e.totp.Match(secret, code, now)
			return ok, counter, err
		},
		SealSecret: func(secret []byte, userID string) (string, error) {
			return e.box.Seal(secret, totpSecretAD(userID))
		},
		OpenSecret: func(sealed, userID string) ([]byte, error) {
			return e.box.Open(sealed, totpSecretAD(userID))
		},
		// e.flows is assigned after the deps are built, so flow
		// callbacks are resolved at call time.
		GenerateBackupCodes: func(ctx context.Context, userID string) ([]string, error) {
			return e.flows.GenerateBackupCodes(ctx, userID)
		},
		ConsumeBackupCode: func(ctx context.Context, userID, code string) (bool, error) {
			return e.flows.ConsumeBackupCode(ctx, userID, code)
		},
		RevokeAll:      e.refresh.RevokeAll,
		IssueTokens:    e.issueTokens,
		Limiter:        e.limiter,
		NewRateLimited: e.newRateLimited,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		Warn:          e.warn,
		Metrics: internalflows.TwoFactorMetrics{
			TwoFactorSetup:            int(MetricTwoFactorSetup),
			TwoFactorEnabled:          int(MetricTwoFactorEnabled),
			TwoFactorDisabled:         int(MetricTwoFactorDisabled),
			TwoFactorSuccess:          int(MetricTwoFactorSuccess),
			TwoFactorFailure:          int(MetricTwoFactorFailure),
			TwoFactorAttemptsExceeded: int(MetricTwoFactorAttemptsExceeded),
			TwoFactorResend:           int(MetricTwoFactorResend),
			TOTPReplayRejected:        int(MetricTOTPReplayRejected),
			EmailSendFailure:          int(MetricEmailSendFailure),
		},
		Events: internalflows.TwoFactorEvents{
			Setup:            auditEventTwoFactorSetup,
			SetupFailure:     auditEventTwoFactorSetupFailure,
			Enabled:          auditEventTwoFactorEnabled,
			EnableFailure:    auditEventTwoFactorEnableFailure,
			Disabled:         auditEventTwoFactorDisabled,
			Success:          auditEventTwoFactorSuccess,
			Failure:          auditEventTwoFactorFailure,
			AttemptsExceeded: auditEventTwoFactorExhausted,
			Resend:           auditEventTwoFactorResend,
		},
		Errors: internalflows.TwoFactorErrors{
			EngineNotReady:    ErrEngineNotReady,
			InvalidInput:      ErrInvalidInput,
			UserNotFound:      ErrUserNotFound,
			SessionInvalid:    ErrTwoFactorSessionInvalid,
			CodeInvalid:       ErrTwoFactorCodeInvalid,
			AttemptsExceeded:  ErrTwoFactorAttemptsExceeded,
			MethodInvalid:     ErrTwoFactorMethodInvalid,
			NotPending:        ErrTwoFactorNotPending,
			NotEnabled:        ErrTwoFactorNotEnabled,
			AlreadyEnabled:    ErrTwoFactorAlreadyEnabled,
			ResendUnsupported: ErrTwoFactorResendUnsupported,
			SecretUnavailable: ErrSecretUnavailable,
			Unavailable:       ErrUnavailable,
		},
	}
}

func (e *Engine) backupCodeFlowDeps() internalflows.BackupCodeDeps {
	cfg := e.config.TwoFactor

	return internalflows.BackupCodeDeps{
		BackupCodeCount:  cfg.BackupCodeCount,
		BackupCodeLength: cfg.BackupCodeLength,
		GetUser:          e.users.ByID,
		MutateUser:       e.users.Mutate,
		ConsumeStored:    e.users.ConsumeBackupCode,
		VerifyTOTPForUser: func(ctx context.Context, u *accounts.User, code string) error {
			return e.flows.VerifyTOTPForUser(ctx, u, code)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.BackupCodeMetrics{
			BackupCodeUsed:        int(MetricBackupCodeUsed),
			BackupCodeRegenerated: int(MetricBackupCodeRegenerated),
		},
		Events: internalflows.BackupCodeEvents{
			BackupCodesGenerated: auditEventBackupCodesGenerated,
			BackupCodeUsed:       auditEventBackupCodeUsed,
		},
		Errors: internalflows.BackupCodeErrors{
			EngineNotReady: ErrEngineNotReady,
			UserNotFound:   ErrUserNotFound,
			NotEnabled:     ErrTwoFactorNotEnabled,
			Unavailable:    ErrUnavailable,
		},
	}
}

// totpSecretAD binds a sealed TOTP secret to its owner.
func totpSecretAD(userID string) string {
	return "totp-secret:" + userID
}
