package linkAuth

import (
	"context"
	"testing"
)

func TestEngineCountsSignupAndLoginOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "alice@example.com", "alice")

	if _, err := env.engine.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "other", Password: testPassword}); err == nil {
		t.Fatal("expected duplicate email to be refused")
	}
	_, _ = env.engine.Login(ctx, "alice", "wrong-password-1")
	if _, err := env.engine.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	for id, want := range map[MetricID]uint64{
		MetricSignupSuccess:  1,
		MetricSignupConflict: 1,
		MetricLoginFailure:   1,
		MetricLoginSuccess:   1,
	} {
		if got := snap.Counters[id]; got != want {
			t.Errorf("metric %d = %d, want %d", id, got, want)
		}
	}
}

func TestEngineMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Metrics.Enabled = false })
	env.signup(t, "alice@example.com", "alice")

	if n := len(env.engine.MetricsSnapshot().Counters); n != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", n)
	}
}

func TestValidateAccessObservesLatencyWithoutStoreReads(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Metrics.EnableLatencyHistograms = true
	})
	alice := env.signup(t, "alice@example.com", "alice")

	// every record is gone; validation must still succeed from the token alone
	env.mr.FlushAll()

	id, err := env.engine.ValidateAccess(context.Background(), alice.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if id.UserID != alice.User.ID {
		t.Fatalf("expected %s, got %s", alice.User.ID, id.UserID)
	}

	var observed uint64
	for _, v := range env.engine.MetricsSnapshot().Histograms[MetricValidateLatency] {
		observed += v
	}
	if observed != 1 {
		t.Fatalf("expected one latency observation, got %d", observed)
	}
}
