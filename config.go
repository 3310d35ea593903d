package linkAuth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/linkAuth/internal/rate"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates it once.
type Config struct {
	JWT         JWTConfig
	Refresh     RefreshConfig
	Password    PasswordConfig
	TwoFactor   TwoFactorConfig
	RateLimits  RateLimitConfig
	Entitlement EntitlementConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

type RefreshConfig struct {
	TTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP parameters, challenge sessions and backup
// codes.
type TwoFactorConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Algorithm string
	Skew      int

	// EncryptionKey seals TOTP secrets at rest. Exactly 32 bytes.
	EncryptionKey []byte

	BackupCodeCount  int
	BackupCodeLength int

	EmailCodeDigits int
	MaxAttempts     int
	ChallengeTTL    time.Duration
	ResendInterval  time.Duration
	RedisPrefix     string
}

/*
====================================
RATE LIMITS
====================================
*/

// RateLimit is a fixed-window budget.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

func (r RateLimit) policy(scope string) rate.Policy {
	return rate.Policy{Scope: scope, Limit: r.Limit, Window: r.Window}
}

type RateLimitConfig struct {
	LoginFailedIP       RateLimit
	LoginFailedIdentity RateLimit
	RefreshFailedIP     RateLimit
	TwoFactorVerifyIP   RateLimit
	SignupIP            RateLimit
	APIKeyPerMinute     int
	APIUserPerDay       int
}

type EntitlementConfig struct {
	// GracePeriod extends ExpiresAt of active subscriptions to absorb
	// billing sync lag.
	GracePeriod time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Keys and the TOTP encryption
// key must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:           "linkAuth",
			Digits:           6,
			Period:           30,
			Algorithm:        "SHA1",
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			EmailCodeDigits:  6,
			MaxAttempts:      3,
			ChallengeTTL:     10 * time.Minute,
			ResendInterval:   60 * time.Second,
			RedisPrefix:      "tfa",
		},
		RateLimits: RateLimitConfig{
			LoginFailedIP:       RateLimit{Limit: 20, Window: 15 * time.Minute},
			LoginFailedIdentity: RateLimit{Limit: 5, Window: 15 * time.Minute},
			RefreshFailedIP:     RateLimit{Limit: 30, Window: 15 * time.Minute},
			TwoFactorVerifyIP:   RateLimit{Limit: 20, Window: 15 * time.Minute},
			SignupIP:            RateLimit{Limit: 10, Window: time.Hour},
			APIKeyPerMinute:     60,
			APIUserPerDay:       10000,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.TwoFactor.EncryptionKey = cloneBytes(cfg.TwoFactor.EncryptionKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}

	// Password
	if c.Password.Memory == 0 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("Password argon2 costs must be > 0")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Two-factor
	tf := c.TwoFactor
	if len(tf.EncryptionKey) != 32 {
		return errors.New("TwoFactor EncryptionKey must be 32 bytes")
	}
	if strings.TrimSpace(tf.Issuer) == "" {
		return errors.New("TwoFactor Issuer must be set")
	}
	if tf.Digits != 6 && tf.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if tf.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if tf.Skew < 0 || tf.Skew > 2 {
		return errors.New("TwoFactor Skew must be within [0, 2]")
	}
	switch strings.ToUpper(tf.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if tf.BackupCodeCount <= 0 || tf.BackupCodeLength < 8 {
		return errors.New("TwoFactor backup codes need count > 0 and length >= 8")
	}
	if tf.EmailCodeDigits < 6 || tf.EmailCodeDigits > 9 {
		return errors.New("TwoFactor EmailCodeDigits must be within [6, 9]")
	}
	if tf.MaxAttempts <= 0 || tf.MaxAttempts > 255 {
		return errors.New("TwoFactor MaxAttempts must be within [1, 255]")
	}
	if tf.ChallengeTTL <= 0 || tf.ResendInterval < 0 {
		return errors.New("TwoFactor ChallengeTTL must be > 0 and ResendInterval >= 0")
	}

	// Rate limits
	limits := map[string]RateLimit{
		"LoginFailedIP":       c.RateLimits.LoginFailedIP,
		"LoginFailedIdentity": c.RateLimits.LoginFailedIdentity,
		"RefreshFailedIP":     c.RateLimits.RefreshFailedIP,
		"TwoFactorVerifyIP":   c.RateLimits.TwoFactorVerifyIP,
		"SignupIP":            c.RateLimits.SignupIP,
	}
	for name, l := range limits {
		if l.Limit <= 0 || l.Window < time.Second {
			return fmt.Errorf("RateLimits %s needs Limit > 0 and Window >= 1s", name)
		}
	}
	if c.RateLimits.APIKeyPerMinute <= 0 || c.RateLimits.APIUserPerDay <= 0 {
		return errors.New("RateLimits API quotas must be > 0")
	}

	if c.Entitlement.GracePeriod < 0 {
		return errors.New("Entitlement GracePeriod must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
