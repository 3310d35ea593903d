package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Legacy PBKDF2 parameters of accounts created before the argon2id migration.
const (
	legacyIterations = 10000
	legacyKeyLength  = 64
	legacySaltLength = 16
)

var errInvalidLegacyHash = errors.New("invalid legacy hash encoding")

// LegacyHash derives the hex PBKDF2-SHA512 hash stored for imported
// accounts. It exists for fixtures and data migrations; new accounts are
// always hashed with argon2id.
func LegacyHash(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), legacyIterations, legacyKeyLength, sha512.New)
	return hex.EncodeToString(key)
}

// NewLegacySalt returns a random hex salt in the legacy format.
func NewLegacySalt() (string, error) {
	raw := make([]byte, legacySaltLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func verifyLegacy(password, encodedHash, salt string) (bool, error) {
	stored, err := hex.DecodeString(encodedHash)
	if err != nil || len(stored) != legacyKeyLength {
		return false, errInvalidLegacyHash
	}
	computed := pbkdf2.Key([]byte(password), []byte(salt), legacyIterations, legacyKeyLength, sha512.New)
	return subtle.ConstantTimeCompare(computed, stored) == 1, nil
}
