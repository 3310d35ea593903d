package linkAuth

import (
	internalmetrics "github.com/MrEthical07/linkAuth/internal/metrics"
)

// MetricID names one engine counter or histogram.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess              = internalmetrics.LoginSuccess
	MetricLoginFailure              = internalmetrics.LoginFailure
	MetricLoginRateLimited          = internalmetrics.LoginRateLimited
	MetricLoginTwoFactorRequired    = internalmetrics.LoginTwoFactorRequired
	MetricSignupSuccess             = internalmetrics.SignupSuccess
	MetricSignupConflict            = internalmetrics.SignupConflict
	MetricSignupRateLimited         = internalmetrics.SignupRateLimited
	MetricRefreshSuccess            = internalmetrics.RefreshSuccess
	MetricRefreshFailure            = internalmetrics.RefreshFailure
	MetricRefreshRateLimited        = internalmetrics.RefreshRateLimited
	MetricLogout                    = internalmetrics.Logout
	MetricTwoFactorSetup            = internalmetrics.TwoFactorSetup
	MetricTwoFactorEnabled          = internalmetrics.TwoFactorEnabled
	MetricTwoFactorDisabled         = internalmetrics.TwoFactorDisabled
	MetricTwoFactorSuccess          = internalmetrics.TwoFactorSuccess
	MetricTwoFactorFailure          = internalmetrics.TwoFactorFailure
	MetricTwoFactorAttemptsExceeded = internalmetrics.TwoFactorAttemptsExceeded
	MetricTwoFactorResend           = internalmetrics.TwoFactorResend
	MetricTOTPReplayRejected        = internalmetrics.TOTPReplayRejected
	MetricBackupCodeUsed            = internalmetrics.BackupCodeUsed
	MetricBackupCodeRegenerated     = internalmetrics.BackupCodeRegenerated
	MetricRateLimitHit              = internalmetrics.RateLimitHit
	MetricEntitlementDenied         = internalmetrics.EntitlementDenied
	MetricBillingUpdate             = internalmetrics.BillingUpdate
	MetricEmailSendFailure          = internalmetrics.EmailSendFailure
	MetricValidateLatency           = internalmetrics.ValidateLatency
)

// Metrics holds the engine's in-process counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
