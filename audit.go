package linkAuth

import (
	"context"
	"errors"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/linkAuth/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is one security event emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events on the dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type ZerologSink = internalaudit.ZerologSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return internalaudit.NewZerologSink(logger)
}

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginTwoFactorRequired = "login_two_factor_required"
	auditEventSignupSuccess          = "signup_success"
	auditEventSignupFailure          = "signup_failure"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshFailure         = "refresh_failure"
	auditEventLogout                 = "logout"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventTwoFactorSetup         = "two_factor_setup"
	auditEventTwoFactorSetupFailure  = "two_factor_setup_failure"
	auditEventTwoFactorEnabled       = "two_factor_enabled"
	auditEventTwoFactorEnableFailure = "two_factor_enable_failure"
	auditEventTwoFactorDisabled      = "two_factor_disabled"
	auditEventTwoFactorSuccess       = "two_factor_success"
	auditEventTwoFactorFailure       = "two_factor_failure"
	auditEventTwoFactorExhausted     = "two_factor_attempts_exceeded"
	auditEventTwoFactorResend        = "two_factor_resend"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodesGenerated   = "backup_codes_generated"
	auditEventEmailChanged           = "email_changed"
	auditEventUsernameChanged        = "username_changed"
	auditEventMembershipChanged      = "membership_changed"
	auditEventEntitlementDenied      = "entitlement_denied"
	auditEventBillingUpdated         = "billing_updated"
)

// emitAudit never fails the caller: a disabled or saturated dispatcher
// drops the event.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if reason, ok := metadata["reason"]; ok {
		event.Reason = reason
		delete(metadata, "reason")
	}
	if err != nil {
		event.Error = auditErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

// emitRateLimit records a denial as its own event, distinct from the
// failure that caused it.
func (e *Engine) emitRateLimit(ctx context.Context, scope, identifier string, retryAfter time.Duration) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":       scope,
			"identifier":  identifier,
			"retry_after": retryAfter.Round(time.Second).String(),
		}
	})
}

func auditErrorCode(err error) string {
	var rl *RateLimitedError
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTwoFactorAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, ErrTwoFactorCodeInvalid):
		return "invalid_code"
	case errors.Is(err, ErrTwoFactorSessionInvalid):
		return "session_invalid"
	case errors.Is(err, ErrRefreshInvalid), errors.Is(err, ErrTokenInvalid):
		return "invalid_token"
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrUsernameTaken):
		return "duplicate"
	case errors.Is(err, ErrSecretUnavailable):
		return "secret_unavailable"
	case errors.Is(err, ErrUnavailable):
		return "backend_unavailable"
	}
	return string(KindOf(err))
}
