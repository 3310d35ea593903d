package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/permission"
	"github.com/MrEthical07/linkAuth/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *linkAuth.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := linkAuth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.TwoFactor.EncryptionKey = bytes.Repeat([]byte{0x42}, 32)
	cfg.RateLimits.APIKeyPerMinute = 2

	table, err := entitlement.NewTable("test", map[entitlement.Tier]entitlement.TierSpec{
		entitlement.TierFree:       {},
		entitlement.TierPro:        {},
		entitlement.TierEnterprise: {},
		entitlement.TierPremium: {
			Features: []string{entitlement.FeatureAPIAccess},
			Limits:   map[string]int{entitlement.LimitAPICallsPerDay: 100},
		},
	})
	require.NoError(t, err)

	engine, err := linkAuth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(redisstore.New(rdb, "ent")).
		WithEntitlementTable(table).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func signup(t *testing.T, engine *linkAuth.Engine, name, role string) *linkAuth.SignupResult {
	t.Helper()
	res, err := engine.Signup(context.Background(), linkAuth.SignupRequest{
		Email:    name + "@example.com",
		Username: name,
		Password: "correct-horse-42",
	})
	require.NoError(t, err)
	if role == "" {
		return res
	}

	_, err = engine.SetMembership(context.Background(), res.User.ID, role, nil)
	require.NoError(t, err)
	res.Tokens, err = engine.Refresh(context.Background(), res.Tokens.RefreshToken)
	require.NoError(t, err)
	return res
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthAcceptsBearerAndCookie(t *testing.T) {
	engine := newEngine(t)
	alice := signup(t, engine, "alice", "")

	r := gin.New()
	r.GET("/", RequireAuth(engine), func(c *gin.Context) {
		id, ok := Identity(c)
		require.True(t, ok)
		fromCtx, ok := linkAuth.IdentityFromContext(c.Request.Context())
		require.True(t, ok)
		assert.Same(t, id, fromCtx)
		c.String(http.StatusOK, id.UserID)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Tokens.AccessToken)
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.User.ID, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: alice.Tokens.AccessToken})
	rec = serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Tokens.AccessToken+"x")
	rec = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid token","code":"unauthenticated"}`, rec.Body.String())
}

func TestRequirePermission(t *testing.T) {
	engine := newEngine(t)
	owner := signup(t, engine, "owner", "")
	viewer := signup(t, engine, "viewer", string(permission.RoleViewer))

	r := gin.New()
	r.POST("/billing", RequireAuth(engine), RequirePermission(permission.BillingManage), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for token, want := range map[string]int{
		owner.Tokens.AccessToken:  http.StatusNoContent,
		viewer.Tokens.AccessToken: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/billing", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, want, serve(r, req).Code)
	}
}

func TestRequireFeatureAndAPIQuota(t *testing.T) {
	engine := newEngine(t)
	alice := signup(t, engine, "alice", "")

	r := gin.New()
	r.GET("/api", RequireAuth(engine), RequireFeature(engine, entitlement.FeatureAPIAccess), APIQuota(engine), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	call := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		req.Header.Set("Authorization", "Bearer "+alice.Tokens.AccessToken)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		return serve(r, req)
	}

	assert.Equal(t, http.StatusForbidden, call("k1").Code)

	next := time.Now().Add(30 * 24 * time.Hour)
	_, err := engine.ApplyBillingUpdate(context.Background(), alice.User.ID, linkAuth.BillingUpdate{
		Kind:            entitlement.UpdateUpgrade,
		Tier:            entitlement.TierPremium,
		Cycle:           entitlement.CycleMonthly,
		NextBillingDate: &next,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, call("").Code)

	rec := call("k1")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, http.StatusNoContent, call("k1").Code)

	rec = call("k1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, call("k2").Code)
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		WriteError(c, errors.New("redis: connection refused"))
	})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error","code":"internal"}`, rec.Body.String())
}

func TestLoggerRecordsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Logger(zerolog.New(&buf)))
	r.GET("/missing/:id", func(c *gin.Context) {
		WriteError(c, linkAuth.ErrUserNotFound)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/missing/42", nil))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"status":401`)
	assert.Contains(t, out, `"path":"/missing/:id"`)
}
