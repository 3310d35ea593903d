package linkAuth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/linkAuth/internal/otp"
)

// enableTOTP enrolls userID and moves the clock to the next TOTP step so a
// fresh code is available for the caller.
func enableTOTP(t *testing.T, env *testEnv, userID string) (secret []byte, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.engine.SetupTwoFactor(ctx, userID, TwoFactorTOTP)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	if !strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri %q", setup.ProvisioningURI)
	}
	secret, err = otp.DecodeSecret(setup.Secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	code := totpCode(t, env, secret)
	if err := env.engine.EnableTwoFactor(ctx, userID, TwoFactorTOTP, code, ""); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	return secret, setup.BackupCodes
}

func totpCode(t *testing.T, env *testEnv, secret []byte) string {
	t.Helper()
	return env.engine.totp.CodeAt(secret, env.clock.Now())
}

// wrongCode returns a code of the same length that differs from valid.
func wrongCode(valid string) string {
	b := []byte(valid)
	last := b[len(b)-1]
	b[len(b)-1] = '0' + (last-'0'+5)%10
	return string(b)
}

func loginChallenge(t *testing.T, env *testEnv, identifier string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), identifier, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.TwoFactorRequired || res.Tokens != nil || res.SessionID == "" {
		t.Fatalf("expected a two-factor challenge, got %+v", res)
	}
	return res
}

func TestTOTPLoginRequiresSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	secret, _ := enableTOTP(t, env, alice.User.ID)
	ctx := context.Background()

	challenge := loginChallenge(t, env, "alice")
	if challenge.TwoFactorMethod != TwoFactorTOTP {
		t.Fatalf("expected totp challenge, got %q", challenge.TwoFactorMethod)
	}

	res, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, totpCode(t, env, secret))
	if err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}
	if res.Method != "totp" || res.Tokens == nil || res.User.ID != alice.User.ID {
		t.Fatalf("unexpected verify result %+v", res)
	}

	if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, totpCode(t, env, secret)); !errors.Is(err, ErrTwoFactorSessionInvalid) {
		t.Fatalf("expected consumed session to be invalid, got %v", err)
	}
}

func TestTOTPChallengeExhaustsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	secret, _ := enableTOTP(t, env, alice.User.ID)
	ctx := context.Background()

	challenge := loginChallenge(t, env, "alice")
	valid := totpCode(t, env, secret)
	bad := wrongCode(valid)

	for i := 0; i < 2; i++ {
		if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, bad); !errors.Is(err, ErrTwoFactorCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrTwoFactorCodeInvalid, got %v", i+1, err)
		}
	}
	if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, bad); !errors.Is(err, ErrTwoFactorAttemptsExceeded) {
		t.Fatalf("expected ErrTwoFactorAttemptsExceeded, got %v", err)
	}
	if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, valid); !errors.Is(err, ErrTwoFactorSessionInvalid) {
		t.Fatalf("expected the exhausted session to be gone, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricTwoFactorAttemptsExceeded]; got != 1 {
		t.Fatalf("expected one exhausted challenge, got %d", got)
	}
}

func TestTOTPCodeCannotBeReplayed(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	secret, _ := enableTOTP(t, env, alice.User.ID)
	ctx := context.Background()

	code := totpCode(t, env, secret)
	first := loginChallenge(t, env, "alice")
	if _, err := env.engine.VerifyTwoFactor(ctx, first.SessionID, code); err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}

	second := loginChallenge(t, env, "alice")
	if _, err := env.engine.VerifyTwoFactor(ctx, second.SessionID, code); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected replayed code to be rejected, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricTOTPReplayRejected]; got != 1 {
		t.Fatalf("expected one replay rejection, got %d", got)
	}

	env.clock.Advance(30 * time.Second)
	if _, err := env.engine.VerifyTwoFactor(ctx, second.SessionID, totpCode(t, env, secret)); err != nil {
		t.Fatalf("expected the next step to verify, got %v", err)
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	_, backup := enableTOTP(t, env, alice.User.ID)
	ctx := context.Background()

	if len(backup) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(backup))
	}

	first := loginChallenge(t, env, "alice")
	res, err := env.engine.VerifyTwoFactor(ctx, first.SessionID, strings.ToLower(backup[0]))
	if err != nil {
		t.Fatalf("VerifyTwoFactor with backup code failed: %v", err)
	}
	if res.Method != "backup_code" {
		t.Fatalf("expected backup_code method, got %q", res.Method)
	}

	second := loginChallenge(t, env, "alice")
	if _, err := env.engine.VerifyTwoFactor(ctx, second.SessionID, backup[0]); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected used backup code to be rejected, got %v", err)
	}
	if _, err := env.engine.VerifyTwoFactor(ctx, second.SessionID, backup[1]); err != nil {
		t.Fatalf("expected an unused backup code to verify, got %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	bob := env.signup(t, "bob@example.com", "bob")
	ctx := context.Background()

	if _, err := env.engine.RegenerateBackupCodes(ctx, bob.User.ID, "123456"); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}

	secret, old := enableTOTP(t, env, alice.User.ID)
	fresh, err := env.engine.RegenerateBackupCodes(ctx, alice.User.ID, totpCode(t, env, secret))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != len(old) {
		t.Fatalf("expected %d codes, got %d", len(old), len(fresh))
	}

	env.clock.Advance(30 * time.Second)
	challenge := loginChallenge(t, env, "alice")
	if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, old[0]); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected replaced code to be rejected, got %v", err)
	}
	if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, fresh[0]); err != nil {
		t.Fatalf("expected new code to verify, got %v", err)
	}
}

func TestEmailTwoFactorLoginAndResend(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	setup, err := env.engine.SetupTwoFactor(ctx, alice.User.ID, TwoFactorEmail)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	if setup.SessionID == "" || setup.Secret != "" {
		t.Fatalf("unexpected email setup %+v", setup)
	}
	enrollCode := env.mailer.lastCode(t, "alice@example.com")
	if err := env.engine.EnableTwoFactor(ctx, alice.User.ID, TwoFactorEmail, enrollCode, setup.SessionID); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}

	challenge := loginChallenge(t, env, "alice@example.com")
	if challenge.TwoFactorMethod != TwoFactorEmail {
		t.Fatalf("expected email challenge, got %q", challenge.TwoFactorMethod)
	}
	firstCode := env.mailer.lastCode(t, "alice@example.com")

	err = env.engine.ResendTwoFactorCode(ctx, challenge.SessionID)
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.Scope != "2fa-resend" || rl.RetryAfter <= 0 {
		t.Fatalf("expected resend to be throttled, got %v", err)
	}

	env.clock.Advance(61 * time.Second)
	if err := env.engine.ResendTwoFactorCode(ctx, challenge.SessionID); err != nil {
		t.Fatalf("ResendTwoFactorCode failed: %v", err)
	}
	secondCode := env.mailer.lastCode(t, "alice@example.com")

	if firstCode != secondCode {
		if _, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, firstCode); !errors.Is(err, ErrTwoFactorCodeInvalid) {
			t.Fatalf("expected superseded code to fail, got %v", err)
		}
	}
	res, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, secondCode)
	if err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}
	if res.Method != "email" || res.Tokens == nil {
		t.Fatalf("unexpected verify result %+v", res)
	}
}

func TestResendRejectedForTOTPChallenge(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	enableTOTP(t, env, alice.User.ID)

	challenge := loginChallenge(t, env, "alice")
	err := env.engine.ResendTwoFactorCode(context.Background(), challenge.SessionID)
	if !errors.Is(err, ErrTwoFactorResendUnsupported) {
		t.Fatalf("expected ErrTwoFactorResendUnsupported, got %v", err)
	}
}

func TestEmailSendFailureDoesNotFailSetup(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	env.mailer.err = errors.New("smtp unavailable")

	setup, err := env.engine.SetupTwoFactor(context.Background(), alice.User.ID, TwoFactorEmail)
	if err != nil {
		t.Fatalf("expected setup to survive a send failure, got %v", err)
	}
	if setup.SessionID == "" || len(setup.BackupCodes) == 0 {
		t.Fatalf("unexpected setup %+v", setup)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricEmailSendFailure]; got != 1 {
		t.Fatalf("expected one send failure, got %d", got)
	}
}

func TestEnableTOTPRejectsWrongCode(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	ctx := context.Background()

	if err := env.engine.EnableTwoFactor(ctx, alice.User.ID, TwoFactorTOTP, "123456", ""); !errors.Is(err, ErrTwoFactorNotPending) {
		t.Fatalf("expected ErrTwoFactorNotPending before setup, got %v", err)
	}

	setup, err := env.engine.SetupTwoFactor(ctx, alice.User.ID, TwoFactorTOTP)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	secret, err := otp.DecodeSecret(setup.Secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if err := env.engine.EnableTwoFactor(ctx, alice.User.ID, TwoFactorTOTP, wrongCode(totpCode(t, env, secret)), ""); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected ErrTwoFactorCodeInvalid, got %v", err)
	}

	acct, err := env.engine.Account(ctx, alice.User.ID)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if acct.TOTP {
		t.Fatal("expected totp to stay disabled")
	}
}

func TestSetupRejectsBothMethod(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")

	_, err := env.engine.SetupTwoFactor(context.Background(), alice.User.ID, TwoFactorBoth)
	if !errors.Is(err, ErrTwoFactorMethodInvalid) {
		t.Fatalf("expected ErrTwoFactorMethodInvalid, got %v", err)
	}
	if _, err := ParseTwoFactorMethod("both"); !errors.Is(err, ErrTwoFactorMethodInvalid) {
		t.Fatalf("expected parse of both to fail, got %v", err)
	}
	if m, err := ParseTwoFactorMethod(" TOTP "); err != nil || m != TwoFactorTOTP {
		t.Fatalf("expected totp, got %q, %v", m, err)
	}
}

func TestSetupOnEnabledAccountKeepsBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	_, backup := enableTOTP(t, env, alice.User.ID)
	ctx := context.Background()

	_, err := env.engine.SetupTwoFactor(ctx, alice.User.ID, TwoFactorTOTP)
	if !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict kind, got %s", KindOf(err))
	}

	setup, err := env.engine.SetupTwoFactor(ctx, alice.User.ID, TwoFactorEmail)
	if err != nil {
		t.Fatalf("SetupTwoFactor(email) failed: %v", err)
	}
	if setup.SessionID == "" || len(setup.BackupCodes) != 0 {
		t.Fatalf("expected an enrollment session without backup codes, got %+v", setup)
	}

	challenge := loginChallenge(t, env, "alice")
	res, err := env.engine.VerifyTwoFactor(ctx, challenge.SessionID, backup[0])
	if err != nil {
		t.Fatalf("expected the original backup code to survive, got %v", err)
	}
	if res.Method != "backup_code" {
		t.Fatalf("expected backup_code method, got %q", res.Method)
	}
}

func TestDisableTwoFactorRevokesRefreshAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice@example.com", "alice")
	enableTOTP(t, env, alice.User.ID)
	ctx := context.Background()

	if err := env.engine.DisableTwoFactor(ctx, alice.User.ID); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, alice.Tokens.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected refresh tokens to be revoked, got %v", err)
	}
	if err := env.engine.DisableTwoFactor(ctx, alice.User.ID); err != nil {
		t.Fatalf("expected second disable to succeed, got %v", err)
	}

	res, err := env.engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.TwoFactorRequired || res.Tokens == nil {
		t.Fatalf("expected direct login after disable, got %+v", res)
	}
}

func TestVerifyTwoFactorIPRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimits.TwoFactorVerifyIP = RateLimit{Limit: 2, Window: time.Minute}
	})
	ctx := WithClientIP(context.Background(), "192.0.2.44")
	bogus := "00000000-0000-4000-8000-000000000000"

	for i := 0; i < 2; i++ {
		if _, err := env.engine.VerifyTwoFactor(ctx, bogus, "123456"); !errors.Is(err, ErrTwoFactorSessionInvalid) {
			t.Fatalf("attempt %d: expected ErrTwoFactorSessionInvalid, got %v", i+1, err)
		}
	}
	_, err := env.engine.VerifyTwoFactor(ctx, bogus, "123456")
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.Scope != "2fa-verify" {
		t.Fatalf("expected 2fa-verify rate limit, got %v", err)
	}
}
