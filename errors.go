package linkAuth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrWeakPassword       = errors.New("password does not meet strength requirements")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrRefreshInvalid     = errors.New("invalid or expired refresh token")
	ErrUserNotFound       = errors.New("user not found")

	ErrEmailTaken    = errors.New("Email already registered")
	ErrUsernameTaken = errors.New("Username already taken")

	ErrTwoFactorSessionInvalid    = errors.New("two-factor session invalid or expired")
	ErrTwoFactorCodeInvalid       = errors.New("invalid two-factor code")
	ErrTwoFactorAttemptsExceeded  = errors.New("two-factor attempts exceeded")
	ErrTwoFactorMethodInvalid     = errors.New("unsupported two-factor method")
	ErrTwoFactorNotPending        = errors.New("two-factor setup not started")
	ErrTwoFactorNotEnabled        = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled    = errors.New("two-factor method already enabled")
	ErrTwoFactorResendUnsupported = errors.New("resend requires an email challenge")

	ErrFeatureForbidden  = errors.New("feature not available on current plan")
	ErrLimitExceeded     = errors.New("plan limit reached")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrRateLimited       = errors.New("too many requests")
	ErrInvalidBilling    = errors.New("invalid billing update")
	ErrUnavailable       = errors.New("authentication backend unavailable")
	ErrSecretUnavailable = errors.New("two-factor secret unavailable")
	ErrEngineNotReady    = errors.New("engine not initialized")
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// RateLimitedError is returned when a rate or resend window denies a
// request. It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterSeconds rounds the hint up to whole seconds, at least 1.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// KindOf returns the taxonomy kind of err. Unknown errors are internal;
// nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrTwoFactorMethodInvalid),
		errors.Is(err, ErrTwoFactorNotPending),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorResendUnsupported),
		errors.Is(err, ErrInvalidBilling):
		return KindInvalidInput
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrTwoFactorSessionInvalid),
		errors.Is(err, ErrTwoFactorCodeInvalid),
		errors.Is(err, ErrTwoFactorAttemptsExceeded):
		return KindUnauthenticated
	case errors.Is(err, ErrFeatureForbidden),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrPermissionDenied):
		return KindForbidden
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrTwoFactorAlreadyEnabled):
		return KindConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the caller-facing text for err. Internal failures are
// reduced to a generic message.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindInternal:
		return "internal error"
	case KindUnauthenticated:
		for _, sentinel := range []error{
			ErrTwoFactorAttemptsExceeded,
			ErrTwoFactorSessionInvalid,
			ErrTwoFactorCodeInvalid,
			ErrRefreshInvalid,
			ErrTokenInvalid,
		} {
			if errors.Is(err, sentinel) {
				return sentinel.Error()
			}
		}
		return ErrInvalidCredentials.Error()
	}

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return ErrRateLimited.Error()
	}
	for _, sentinel := range []error{
		ErrEmailTaken, ErrUsernameTaken, ErrTwoFactorAlreadyEnabled, ErrWeakPassword, ErrTwoFactorMethodInvalid,
		ErrTwoFactorNotPending, ErrTwoFactorNotEnabled, ErrTwoFactorResendUnsupported,
		ErrInvalidBilling, ErrFeatureForbidden, ErrLimitExceeded, ErrPermissionDenied,
		ErrRateLimited, ErrInvalidInput,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// RetryAfterHeader returns the Retry-After value for a rate-limited err.
func RetryAfterHeader(err error) (string, bool) {
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		return "", false
	}
	return strconv.Itoa(rl.RetryAfterSeconds()), true
}
