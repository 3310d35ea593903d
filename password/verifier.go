package password

import (
	"errors"
	"strings"
)

// ErrUnknownScheme is returned when a stored hash matches neither the
// argon2id PHC format nor the legacy PBKDF2 layout.
var ErrUnknownScheme = errors.New("unknown password hash scheme")

// Verifier checks a plaintext password against a stored (hash, salt) pair.
// It is safe for concurrent use.
type Verifier struct {
	argon *Argon2
}

// NewVerifier returns a Verifier that hashes new passwords with cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Verifier{argon: a}, nil
}

// Hash produces the stored form of a new password. The salt is embedded in
// the PHC string, so the separate salt column is returned empty.
func (v *Verifier) Hash(password string) (hash string, salt string, err error) {
	hash, err = v.argon.Hash(password)
	return hash, "", err
}

// Verify reports whether password matches the stored pair. Both schemes
// compare in constant time. A malformed stored hash yields an error and
// must be treated by callers as a mismatch.
func (v *Verifier) Verify(password, hash, salt string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$"+algorithmID+"$"):
		return v.argon.Verify(password, hash)
	case hash != "" && salt != "":
		return verifyLegacy(password, hash, salt)
	default:
		return false, ErrUnknownScheme
	}
}

// NeedsUpgrade reports whether the stored hash should be replaced after a
// successful verification: every legacy hash, and argon2id hashes produced
// with weaker parameters.
func (v *Verifier) NeedsUpgrade(hash string) bool {
	if !strings.HasPrefix(hash, "$"+algorithmID+"$") {
		return true
	}
	upgrade, err := v.argon.NeedsUpgrade(hash)
	return err == nil && upgrade
}
