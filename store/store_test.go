package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchEquals(t *testing.T) {
	doc := json.RawMessage(`{"email":"a@x.com","n":3,"tier":"pro"}`)

	assert.True(t, MatchEquals(doc, nil))
	assert.True(t, MatchEquals(doc, map[string]string{"email": "a@x.com"}))
	assert.True(t, MatchEquals(doc, map[string]string{"email": "a@x.com", "tier": "pro"}))
	assert.False(t, MatchEquals(doc, map[string]string{"email": "b@x.com"}))
	assert.False(t, MatchEquals(doc, map[string]string{"missing": ""}))
	assert.False(t, MatchEquals(doc, map[string]string{"n": "3"}), "non-string values never match")
	assert.False(t, MatchEquals(json.RawMessage(`not json`), map[string]string{"a": "b"}))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange("b", "", ""))
	assert.True(t, InRange("b", "a", "c"))
	assert.True(t, InRange("a", "a", "c"))
	assert.False(t, InRange("c", "a", "c"))
	assert.False(t, InRange("0", "a", ""))
}

func TestCheckKey(t *testing.T) {
	assert.ErrorIs(t, CheckKey("", "r"), ErrInvalidKey)
	assert.ErrorIs(t, CheckKey("p", ""), ErrInvalidKey)
	assert.NoError(t, CheckKey("p", "r"))
}
