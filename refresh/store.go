package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/linkAuth/internal"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the lifetime of a refresh token.
	DefaultTTL = 7 * 24 * time.Hour

	tokenBytes  = 32
	tokenPrefix = "rt:"
	indexPrefix = "rtu:"
)

var (
	// ErrInvalid covers unknown, malformed, consumed and expired tokens alike.
	ErrInvalid     = errors.New("refresh token invalid or expired")
	ErrUnavailable = errors.New("refresh store unavailable")
)

type record struct {
	UserID    string `json:"user_id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store persists refresh tokens. Safe for concurrent use.
type Store struct {
	redis redis.UniversalClient
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{redis: rdb, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured token lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue creates a token for userID and returns it with its expiry.
func (s *Store) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("refresh: empty user id")
	}

	token, err := internal.NewToken(tokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	payload, err := json.Marshal(record{UserID: userID, IssuedAt: now.Unix(), ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return "", time.Time{}, err
	}

	hash := internal.HashToken(token)
	idx := indexKey(userID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(hash), payload, s.ttl)
		pipe.SAdd(ctx, idx, hash)
		pipe.Expire(ctx, idx, s.ttl)
		return nil
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return token, expiresAt, nil
}

// Consume atomically reads and deletes token and returns its owner.
func (s *Store) Consume(ctx context.Context, token string) (string, error) {
	if internal.CheckToken(token, tokenBytes) != nil {
		return "", ErrInvalid
	}

	hash := internal.HashToken(token)
	raw, err := s.redis.GetDel(ctx, tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalid
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.UserID == "" {
		return "", ErrInvalid
	}

	// index cleanup is best-effort; the set expires on its own
	_ = s.redis.SRem(ctx, indexKey(rec.UserID), hash).Err()

	if !s.now().Before(time.Unix(rec.ExpiresAt, 0)) {
		return "", ErrInvalid
	}
	return rec.UserID, nil
}

// Revoke deletes token. Unknown or malformed tokens are not an error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if internal.CheckToken(token, tokenBytes) != nil {
		return nil
	}
	hash := internal.HashToken(token)

	raw, err := s.redis.GetDel(ctx, tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record
	if json.Unmarshal(raw, &rec) == nil && rec.UserID != "" {
		_ = s.redis.SRem(ctx, indexKey(rec.UserID), hash).Err()
	}
	return nil
}

// RevokeAll deletes every live token of userID.
func (s *Store) RevokeAll(ctx context.Context, userID string) error {
	idx := indexKey(userID)
	hashes, err := s.redis.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, tokenKey(h))
	}
	keys = append(keys, idx)

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Count returns the number of indexed tokens for userID.
func (s *Store) Count(ctx context.Context, userID string) (int64, error) {
	n, err := s.redis.SCard(ctx, indexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func tokenKey(hash string) string {
	return tokenPrefix + hash
}

func indexKey(userID string) string {
	return indexPrefix + userID
}
