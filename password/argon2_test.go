package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap keeps the suite fast; production costs come from DefaultConfig.
var cheap = Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newCheap(t *testing.T) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cheap)
	require.NoError(t, err)
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := newCheap(t)

	for _, pw := range []string{"P@ssw0rd-Ascii", "pässwörd-ünïcode-1", strings.Repeat("b", MaxLength)} {
		hash, err := a.Hash(pw)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"), hash)

		ok, err := a.Verify(pw, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = a.Verify(pw+"x", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestArgon2SaltsDiffer(t *testing.T) {
	a := newCheap(t)
	h1, err := a.Hash("same-password-1")
	require.NoError(t, err)
	h2, err := a.Hash("same-password-1")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestArgon2LengthBounds(t *testing.T) {
	a := newCheap(t)

	_, err := a.Hash("")
	assert.ErrorIs(t, err, ErrTooShort)
	_, err = a.Hash("short")
	assert.ErrorIs(t, err, ErrTooShort)
	_, err = a.Hash(strings.Repeat("a", MaxLength+1))
	assert.ErrorIs(t, err, ErrTooLong)

	hash, err := a.Hash("valid-password-123")
	require.NoError(t, err)
	_, err = a.Verify(strings.Repeat("c", MaxLength+1), hash)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newCheap(t)
	hash, err := weak.Hash("upgrade-me-1")
	require.NoError(t, err)

	needs, err := weak.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.False(t, needs)

	stronger := cheap
	stronger.Time = 2
	strong, err := NewArgon2(stronger)
	require.NoError(t, err)

	needs, err = strong.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, needs)

	// a stronger stored hash still verifies under a weaker hasher
	stored, err := strong.Hash("upgrade-me-1")
	require.NoError(t, err)
	ok, err := weak.Verify("upgrade-me-1", stored)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArgon2RejectsMalformedHashes(t *testing.T) {
	a := newCheap(t)
	good, err := a.Hash("version-test-1")
	require.NoError(t, err)

	for name, encoded := range map[string]string{
		"not phc":         "not-a-phc-hash",
		"argon2i":         "$argon2i$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"missing p":       "$argon2id$v=19$m=65536,t=3$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"trailing params": "$argon2id$v=19$m=65536,t=3,p=2x$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"memory floor":    "$argon2id$v=19$m=1024,t=3,p=2$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"short salt":      "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$a2V5",
		"version 18":      strings.Replace(good, "$v=19$", "$v=18$", 1),
	} {
		_, err := a.Verify("version-test-1", encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, name)

		_, err = a.NeedsUpgrade(encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, name)
	}
}

func TestNewArgon2EnforcesFloor(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"memory": func(c *Config) { c.Memory = 1024 },
		"time":   func(c *Config) { c.Time = 0 },
		"lanes":  func(c *Config) { c.Parallelism = 0 },
		"salt":   func(c *Config) { c.SaltLength = 8 },
		"key":    func(c *Config) { c.KeyLength = 8 },
	} {
		cfg := cheap
		mutate(&cfg)
		_, err := NewArgon2(cfg)
		assert.Error(t, err, name)
	}
}
