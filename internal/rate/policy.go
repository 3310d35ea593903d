package rate

import "time"

// Scope names used by the auth flows and the API guards.
const (
	ScopeLoginFailedIP       = "login-failed:ip"
	ScopeLoginFailedIdentity = "login-failed:id"
	ScopeRefreshFailed       = "refresh-failed"
	ScopeTwoFactorVerify     = "2fa-verify"
	ScopeSignup              = "signup"
)

// Policy is a limit over a window for one scope.
type Policy struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Valid reports whether p can be passed to Check.
func (p Policy) Valid() bool {
	return validate(p.Scope, p.Limit, p.Window) == nil
}

// APIKeyScope is the per-minute scope of an API key.
func APIKeyScope(keyID string) string {
	return "apikey:" + keyID + ":minute"
}

// APIUserScope is the per-day scope of an API user.
func APIUserScope(userID string) string {
	return "apiuser:" + userID + ":day"
}
