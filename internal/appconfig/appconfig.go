// Package appconfig loads the linkauth server settings from the
// environment, an optional .env file and an optional config.yaml.
package appconfig

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Redis   RedisConfig
	DB      DBConfig
	Mail    MailConfig
	Auth    AuthConfig
	Metrics MetricsConfig
}

type AppConfig struct {
	Env      string // development, staging, production
	LogLevel string
}

type HTTPConfig struct {
	Addr            string
	AllowedOrigins  []string
	CookieDomain    string
	CookieSecure    bool
	ShutdownTimeout time.Duration
	TrustedProxies  []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DBConfig selects the entity store. An empty DatabaseURL keeps entities
// in Redis.
type DBConfig struct {
	DatabaseURL string
	MaxConns    int32
}

// MailConfig selects the mailer. An empty SendGridAPIKey logs mail instead
// of sending it.
type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

type AuthConfig struct {
	SigningMethod string
	PrivateKey    string // PEM or base64
	PublicKey     string // PEM or base64
	Issuer        string
	Audience      string
	KeyID         string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	EncryptionKey string // base64, 32 bytes
	TOTPIssuer    string
	GracePeriod   time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads .env from the working directory when present, then resolves
// every key from the environment, falling back to config.yaml and defaults.
// Environment names are the upper-cased key with dots replaced by
// underscores, e.g. AUTH_ACCESS_TTL.
func Load(searchPaths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "./config"}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("app.env"),
			LogLevel: v.GetString("app.log_level"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			AllowedOrigins:  splitList(v.GetString("http.allowed_origins")),
			CookieDomain:    v.GetString("http.cookie_domain"),
			CookieSecure:    v.GetBool("http.cookie_secure"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			TrustedProxies:  splitList(v.GetString("http.trusted_proxies")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		DB: DBConfig{
			DatabaseURL: v.GetString("database.url"),
			MaxConns:    v.GetInt32("database.max_conns"),
		},
		Mail: MailConfig{
			SendGridAPIKey: v.GetString("mail.sendgrid_api_key"),
			FromAddress:    v.GetString("mail.from_address"),
			FromName:       v.GetString("mail.from_name"),
		},
		Auth: AuthConfig{
			SigningMethod: v.GetString("auth.signing_method"),
			PrivateKey:    v.GetString("auth.private_key"),
			PublicKey:     v.GetString("auth.public_key"),
			Issuer:        v.GetString("auth.issuer"),
			Audience:      v.GetString("auth.audience"),
			KeyID:         v.GetString("auth.key_id"),
			AccessTTL:     v.GetDuration("auth.access_ttl"),
			RefreshTTL:    v.GetDuration("auth.refresh_ttl"),
			EncryptionKey: v.GetString("auth.encryption_key"),
			TOTPIssuer:    v.GetString("auth.totp_issuer"),
			GracePeriod:   v.GetDuration("auth.grace_period"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", "")
	v.SetDefault("http.cookie_domain", "")
	v.SetDefault("http.cookie_secure", true)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.trusted_proxies", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "linkauth")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("mail.sendgrid_api_key", "")
	v.SetDefault("mail.from_address", "no-reply@localhost")
	v.SetDefault("mail.from_name", "Link Hub")

	v.SetDefault("auth.signing_method", "ed25519")
	v.SetDefault("auth.private_key", "")
	v.SetDefault("auth.public_key", "")
	v.SetDefault("auth.issuer", "linkauth")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.key_id", "")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.encryption_key", "")
	v.SetDefault("auth.totp_issuer", "Link Hub")
	v.SetDefault("auth.grace_period", time.Duration(0))

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Engine turns the auth settings into an engine configuration. The result
// is validated by the engine Builder.
func (c *Config) Engine() (linkAuth.Config, error) {
	cfg := linkAuth.DefaultConfig()
	a := c.Auth

	cfg.JWT.SigningMethod = strings.ToLower(a.SigningMethod)
	cfg.JWT.Issuer = a.Issuer
	cfg.JWT.Audience = a.Audience
	cfg.JWT.KeyID = a.KeyID
	cfg.JWT.AccessTTL = a.AccessTTL
	cfg.Refresh.TTL = a.RefreshTTL
	cfg.TwoFactor.Issuer = a.TOTPIssuer
	cfg.TwoFactor.RedisPrefix = c.Redis.Prefix + ":tfa"
	cfg.Entitlement.GracePeriod = a.GracePeriod
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled

	priv, err := decodeKey(a.PrivateKey)
	if err != nil {
		return cfg, fmt.Errorf("auth.private_key: %w", err)
	}
	pub, err := decodeKey(a.PublicKey)
	if err != nil {
		return cfg, fmt.Errorf("auth.public_key: %w", err)
	}
	if cfg.JWT.SigningMethod == "ed25519" && len(pub) == 0 && len(priv) == ed25519.PrivateKeySize {
		pub = []byte(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub

	key, err := decodeKey(a.EncryptionKey)
	if err != nil {
		return cfg, fmt.Errorf("auth.encryption_key: %w", err)
	}
	cfg.TwoFactor.EncryptionKey = key

	return cfg, nil
}

// decodeKey accepts PEM text verbatim and anything else as standard
// base64.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
