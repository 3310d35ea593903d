package linkAuth

import (
	"context"
	"testing"

	"github.com/MrEthical07/linkAuth/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBenchmarkEngine(b *testing.B) (*Engine, *SignupResult) {
	b.Helper()

	mr := miniredis.RunT(b)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Audit.Enabled = false
	cfg.RateLimits.LoginFailedIP.Limit = 1 << 30
	cfg.RateLimits.LoginFailedIdentity.Limit = 1 << 30

	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithStore(redisstore.New(rdb, "")).Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	b.Cleanup(engine.Close)

	res, err := engine.Signup(context.Background(), SignupRequest{Email: "alice@example.com", Username: "alice", Password: testPassword})
	if err != nil {
		b.Fatalf("Signup failed: %v", err)
	}
	return engine, res
}

func BenchmarkValidateAccess(b *testing.B) {
	engine, res := newBenchmarkEngine(b)
	access := res.Tokens.AccessToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(context.Background(), access); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine, res := newBenchmarkEngine(b)
	refresh := res.Tokens.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = pair.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	engine, _ := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Login(context.Background(), "alice", testPassword)
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = engine.Logout(context.Background(), pair.Tokens.RefreshToken)
	}
}

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricLoginSuccess)
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricLoginSuccess)
		}
	})
}
