package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/linkAuth"
)

const namespace = "linkauth_"

// AuditDroppedName is exported alongside the engine counters; its value
// comes from [linkAuth.Engine.AuditDropped] rather than the snapshot.
const AuditDroppedName = namespace + "audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped by the dispatcher."

// Family describes one exported series.
type Family struct {
	ID   linkAuth.MetricID
	Name string
	Help string
}

func counter(id linkAuth.MetricID, name, help string) Family {
	return Family{ID: id, Name: namespace + name + "_total", Help: help}
}

// Counters lists every engine counter in exposition order.
var Counters = []Family{
	counter(linkAuth.MetricSignupSuccess, "signup_success", "Accounts created."),
	counter(linkAuth.MetricSignupConflict, "signup_conflict", "Signups refused for a taken email or username."),
	counter(linkAuth.MetricSignupRateLimited, "signup_rate_limited", "Signups refused by the per-IP limit."),
	counter(linkAuth.MetricLoginSuccess, "login_success", "Logins that issued tokens."),
	counter(linkAuth.MetricLoginFailure, "login_failure", "Logins refused for bad credentials."),
	counter(linkAuth.MetricLoginRateLimited, "login_rate_limited", "Logins refused by failed-attempt limits."),
	counter(linkAuth.MetricLoginTwoFactorRequired, "login_two_factor_required", "Logins answered with a two-factor challenge."),
	counter(linkAuth.MetricRefreshSuccess, "refresh_success", "Refresh tokens rotated."),
	counter(linkAuth.MetricRefreshFailure, "refresh_failure", "Refresh tokens refused."),
	counter(linkAuth.MetricRefreshRateLimited, "refresh_rate_limited", "Refreshes refused by rate limits."),
	counter(linkAuth.MetricLogout, "logout", "Logouts, single and global."),
	counter(linkAuth.MetricTwoFactorSetup, "two_factor_setup", "Two-factor enrollments started."),
	counter(linkAuth.MetricTwoFactorEnabled, "two_factor_enabled", "Two-factor methods confirmed."),
	counter(linkAuth.MetricTwoFactorDisabled, "two_factor_disabled", "Two-factor disables."),
	counter(linkAuth.MetricTwoFactorSuccess, "two_factor_success", "Challenges completed."),
	counter(linkAuth.MetricTwoFactorFailure, "two_factor_failure", "Wrong two-factor codes."),
	counter(linkAuth.MetricTwoFactorAttemptsExceeded, "two_factor_attempts_exceeded", "Challenges destroyed after the last allowed attempt."),
	counter(linkAuth.MetricTwoFactorResend, "two_factor_resend", "Email codes resent."),
	counter(linkAuth.MetricTOTPReplayRejected, "totp_replay_rejected", "Authenticator codes refused for a reused time step."),
	counter(linkAuth.MetricBackupCodeUsed, "backup_code_used", "Backup codes consumed."),
	counter(linkAuth.MetricBackupCodeRegenerated, "backup_code_regenerated", "Backup code sets replaced."),
	counter(linkAuth.MetricRateLimitHit, "rate_limit_hit", "Requests refused by any limiter scope."),
	counter(linkAuth.MetricEntitlementDenied, "entitlement_denied", "Feature and quota checks refused by plan."),
	counter(linkAuth.MetricBillingUpdate, "billing_update", "Billing updates applied."),
	counter(linkAuth.MetricEmailSendFailure, "email_send_failure", "Outbound mail that failed to send."),
}

// Latency is the access-token validation histogram.
var Latency = Family{
	ID:   linkAuth.MetricValidateLatency,
	Name: namespace + "validate_latency_seconds",
	Help: "Access token validation latency.",
}

// Bounds are the finite bucket upper bounds in seconds. The engine keeps one
// more bucket for everything above the last bound.
var Bounds = [...]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabel is the le label of bucket i, "+Inf" past the finite bounds.
func BucketLabel(i int) string {
	if i >= len(Bounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(Bounds[i], 'f', -1, 64)
}

// Cumulative converts per-bucket counts into running totals. Missing
// buckets count as zero; extra ones are folded into +Inf.
func Cumulative(raw []uint64) [len(Bounds) + 1]uint64 {
	var out [len(Bounds) + 1]uint64
	var running uint64
	for i, v := range raw {
		running += v
		if i < len(out) {
			out[i] = running
		} else {
			out[len(out)-1] = running
		}
	}
	for i := len(raw); i < len(out); i++ {
		out[i] = running
	}
	return out
}
