// Package otp implements time-based one-time passwords (RFC 6238) and the
// otpauth:// provisioning URI understood by authenticator apps.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretSize is the length of generated secrets: 160 bits, the HMAC-SHA1
// block recommendation of RFC 4226.
const SecretSize = 20

var (
	ErrUnsupportedAlgorithm = errors.New("otp: unsupported algorithm")
	ErrInvalidParams        = errors.New("otp: invalid parameters")
	ErrEmptySecret          = errors.New("otp: empty secret")
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var pow10 = [...]uint32{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

type Params struct {
	Issuer    string
	Digits    int    // 6 or 8
	Period    int    // seconds per step
	Skew      int    // steps accepted on either side of now
	Algorithm string // SHA1, SHA256 or SHA512
}

// TOTP generates and checks codes for one parameter set. Safe for
// concurrent use.
type TOTP struct {
	params  Params
	newHash func() hash.Hash
}

// New fills in RFC defaults (6 digits, 30 s, SHA1) and validates p.
func New(p Params) (*TOTP, error) {
	if p.Digits == 0 {
		p.Digits = 6
	}
	if p.Period == 0 {
		p.Period = 30
	}
	p.Algorithm = strings.ToUpper(p.Algorithm)
	if p.Algorithm == "" {
		p.Algorithm = "SHA1"
	}
	if p.Digits != 6 && p.Digits != 8 {
		return nil, fmt.Errorf("%w: %d digits", ErrInvalidParams, p.Digits)
	}
	if p.Period < 0 || p.Skew < 0 {
		return nil, fmt.Errorf("%w: negative period or skew", ErrInvalidParams)
	}

	var newHash func() hash.Hash
	switch p.Algorithm {
	case "SHA1":
		newHash = sha1.New
	case "SHA256":
		newHash = sha256.New
	case "SHA512":
		newHash = sha512.New
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, p.Algorithm)
	}
	return &TOTP{params: p, newHash: newHash}, nil
}

// NewSecret returns a random secret and its unpadded base32 form.
func NewSecret() ([]byte, string, error) {
	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, encoding.EncodeToString(raw), nil
}

// DecodeSecret accepts a base32 secret as typed by a user: any case,
// spaces and padding are tolerated.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	return encoding.DecodeString(strings.TrimRight(s, "="))
}

// Counter is the step number containing t.
func (g *TOTP) Counter(t time.Time) int64 {
	return t.Unix() / int64(g.params.Period)
}

// Code is the HOTP value of secret at counter.
func (g *TOTP) Code(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(g.newHash, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// dynamic truncation, RFC 4226 section 5.3
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", g.params.Digits, value%pow10[g.params.Digits])
}

// CodeAt is the code for the step containing t.
func (g *TOTP) CodeAt(secret []byte, t time.Time) string {
	return g.Code(secret, g.Counter(t))
}

// Match compares code with every step within Skew of now in constant time
// per step and returns the matching counter. Callers reject counters they
// have already accepted.
func (g *TOTP) Match(secret []byte, code string, now time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != g.params.Digits || !digitsOnly(code) {
		return 0, false, nil
	}
	if len(secret) == 0 {
		return 0, false, ErrEmptySecret
	}

	current := g.Counter(now)
	for delta := -g.params.Skew; delta <= g.params.Skew; delta++ {
		counter := current + int64(delta)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(g.Code(secret, counter)), []byte(code)) == 1 {
			return counter, true, nil
		}
	}
	return 0, false, nil
}

// URI builds the otpauth://totp provisioning URI for account.
func (g *TOTP) URI(encodedSecret, account string) string {
	q := url.Values{}
	q.Set("secret", encodedSecret)
	q.Set("issuer", g.params.Issuer)
	q.Set("algorithm", g.params.Algorithm)
	q.Set("digits", strconv.Itoa(g.params.Digits))
	q.Set("period", strconv.Itoa(g.params.Period))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + g.params.Issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
