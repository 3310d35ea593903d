package appconfig

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.CookieSecure)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.DB.DatabaseURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("http:\n  addr: \":9000\"\n  allowed_origins: \"https://a.example, https://b.example\"\nauth:\n  issuer: from-file\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("AUTH_ISSUER", "from-env")
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "from-env", cfg.Auth.Issuer)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestEngineConfigFromEd25519Seed(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	t.Setenv("AUTH_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))
	t.Setenv("AUTH_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	engineCfg, err := cfg.Engine()
	require.NoError(t, err)
	require.NoError(t, engineCfg.Validate())

	assert.Equal(t, []byte(priv.Public().(ed25519.PublicKey)), engineCfg.JWT.PublicKey)
	assert.Len(t, engineCfg.TwoFactor.EncryptionKey, 32)
	assert.Equal(t, "linkauth:tfa", engineCfg.TwoFactor.RedisPrefix)
}

func TestEngineConfigRejectsBadBase64(t *testing.T) {
	t.Setenv("AUTH_ENCRYPTION_KEY", "not base64!")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	_, err = cfg.Engine()
	assert.ErrorContains(t, err, "auth.encryption_key")
}
