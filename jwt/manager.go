package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for access tokens.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// DefaultAccessTTL is the lifetime of an access token when Config.AccessTTL is unset.
const DefaultAccessTTL = 15 * time.Minute

// Config configures a Manager. It is read once by NewManager.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager signs and verifies access tokens. Keys are decoded once by
// NewManager. Safe for concurrent use.
type Manager struct {
	config     Config
	method     jwt.SigningMethod
	signKey    any // nil for verify-only managers
	verifyKey  any
	verifyKeys map[string]any
	parser     *jwt.Parser
}

// AccessClaims is the full authorization context of an access token. Every
// field is fixed at issuance, so verification never needs a store lookup.
type AccessClaims struct {
	UID         string   `json:"uid"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms,omitempty"`
	Companies   []string `json:"cos,omitempty"`
	Tier        string   `json:"tier"`
	jwt.RegisteredClaims
}

// AccessInput carries the claims for CreateAccess.
type AccessInput struct {
	UserID      string
	Role        string
	Permissions []string
	Companies   []string
	Tier        string
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.AccessTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, verifyKeys: make(map[string]any, len(cfg.VerifyKeys))}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
		for kid, key := range cfg.VerifyKeys {
			m.verifyKeys[kid] = key
		}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}
		if len(cfg.VerifyKeys) == 0 && m.verifyKey == nil {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			pub, err := parseEdPublicKey(key)
			if err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
			m.verifyKeys[kid] = pub
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	for kid := range m.verifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
	}
	if cfg.KeyID != "" && len(m.verifyKeys) > 0 {
		if _, ok := m.verifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	m.parser = newParser(cfg, m.method)
	return m, nil
}

func newParser(cfg Config, method jwt.SigningMethod) *jwt.Parser {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return jwt.NewParser(options...)
}

// CreateAccess signs a token for in and returns it with its expiry.
func (j *Manager) CreateAccess(in AccessInput) (string, time.Time, error) {
	if in.UserID == "" {
		return "", time.Time{}, errors.New("missing user id")
	}

	now := j.config.Now()
	expiresAt := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		UID:         in.UserID,
		Role:        in.Role,
		Permissions: in.Permissions,
		Companies:   in.Companies,
		Tier:        in.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   in.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	if j.signKey == nil {
		return "", time.Time{}, errors.New("no signing key configured")
	}
	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signed, err := token.SignedString(j.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// TTL returns the configured access-token lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.AccessTTL
}

// ParseAccess verifies signature, algorithm, kid, expiry, issuer and
// audience, and returns the embedded claims.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	token, err := j.parser.ParseWithClaims(tokenStr, &AccessClaims{}, j.keyFor)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.UID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}

	return claims, nil
}

// keyFor selects the verification key by kid when a key set is
// configured, and otherwise pins the single configured key.
func (j *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(j.verifyKeys) > 0 {
		key, ok := j.verifyKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	if j.verifyKey == nil {
		return nil, errors.New("no verification key configured")
	}
	return j.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
