// Package secretbox seals small secrets (TOTP seeds) for storage with
// AES-256-GCM. Ciphertexts are bound to an associated-data string, so a
// value copied onto another user's record fails to open.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize = 32
	version = "v1"
)

var (
	ErrKeySize   = errors.New("secretbox: key must be 32 bytes")
	ErrMalformed = errors.New("secretbox: malformed ciphertext")
	ErrOpen      = errors.New("secretbox: authentication failed")
)

// Box seals and opens values under one key. Safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// DeriveKey stretches a configured passphrase into a KeySize key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// Seal encrypts plaintext and returns "v1.<base64url(nonce|ciphertext)>".
func (b *Box) Seal(plaintext []byte, associated string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := b.aead.Seal(nonce, nonce, plaintext, []byte(associated))
	return version + "." + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered input, a wrong key or a different
// associated string all yield ErrOpen.
func (b *Box) Open(sealed string, associated string) ([]byte, error) {
	v, body, ok := strings.Cut(sealed, ".")
	if !ok || v != version {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < b.aead.NonceSize()+b.aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, ct := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, ct, []byte(associated))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
