package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	twoFactorRecordVersion1 = 1
	maxTxRetries            = 4
)

var (
	ErrChallengeNotFound = errors.New("two-factor challenge not found")
	ErrChallengeExpired  = errors.New("two-factor challenge expired")
	ErrChallengeBackend  = errors.New("two-factor challenge backend unavailable")
	ErrResendNotAllowed  = errors.New("two-factor challenge has no email code")
)

// Method is the second factor a challenge accepts.
type Method uint8

const (
	MethodEmail Method = iota + 1
	MethodTOTP
	MethodBoth
)

func (m Method) AcceptsEmail() bool { return m == MethodEmail || m == MethodBoth }
func (m Method) AcceptsTOTP() bool  { return m == MethodTOTP || m == MethodBoth }

func (m Method) String() string {
	switch m {
	case MethodEmail:
		return "email"
	case MethodTOTP:
		return "totp"
	case MethodBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Purpose separates login challenges from email enrollment challenges.
type Purpose uint8

const (
	PurposeLogin Purpose = iota + 1
	PurposeEnrollEmail
)

// Challenge is a pending second-factor verification. CodeHash is the
// SHA-256 of the domain-prefixed email code; it is zero when the method
// has no email code.
type Challenge struct {
	UserID       string
	Method       Method
	Purpose      Purpose
	CodeHash     [32]byte
	AttemptsLeft uint8
	LastResend   int64
	ExpiresAt    int64
}

// HasCode reports whether an email code was issued for the challenge.
func (c *Challenge) HasCode() bool {
	return c.CodeHash != [32]byte{}
}

// ResendTooSoonError is returned by MarkResent inside the throttle window.
type ResendTooSoonError struct {
	RetryAfter time.Duration
}

func (e *ResendTooSoonError) Error() string {
	return fmt.Sprintf("two-factor resend too soon, retry in %s", e.RetryAfter.Round(time.Second))
}

// TwoFactorStore persists challenges in Redis.
type TwoFactorStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTwoFactorStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *TwoFactorStore {
	if prefix == "" {
		prefix = "tfa"
	}
	if now == nil {
		now = time.Now
	}
	return &TwoFactorStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *TwoFactorStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save stores c under id until c.ExpiresAt.
func (s *TwoFactorStore) Save(ctx context.Context, id string, c *Challenge) error {
	ttl := time.Unix(c.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return ErrChallengeExpired
	}
	encoded, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *TwoFactorStore) Get(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	c, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= c.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// Delete removes the challenge and reports whether this call removed it.
// Successful verification must only proceed when Delete returns true.
func (s *TwoFactorStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure decrements the remaining attempts. When none remain the
// challenge is deleted and exhausted is true.
func (s *TwoFactorStore) RecordFailure(ctx context.Context, id string) (remaining int, exhausted bool, err error) {
	key := s.key(id)

	for i := 0; i < maxTxRetries; i++ {
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(c.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				if err := s.deleteIn(ctx, tx, key); err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			if c.AttemptsLeft > 0 {
				c.AttemptsLeft--
			}
			remaining = int(c.AttemptsLeft)
			if remaining == 0 {
				exhausted = true
				return s.deleteIn(ctx, tx, key)
			}

			updated, err := encodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return 0, false, err
			}
			return 0, false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return remaining, exhausted, nil
	}

	return 0, false, fmt.Errorf("%w: contention", ErrChallengeBackend)
}

// MarkResent replaces the email code hash if at least minInterval passed
// since the last send; otherwise it returns *ResendTooSoonError.
func (s *TwoFactorStore) MarkResent(ctx context.Context, id string, codeHash [32]byte, minInterval time.Duration) error {
	key := s.key(id)

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			now := s.now()
			ttl := time.Unix(c.ExpiresAt, 0).Sub(now)
			if ttl <= 0 {
				return ErrChallengeExpired
			}
			if !c.Method.AcceptsEmail() {
				return ErrResendNotAllowed
			}
			next := time.Unix(c.LastResend, 0).Add(minInterval)
			if now.Before(next) {
				return &ResendTooSoonError{RetryAfter: next.Sub(now)}
			}

			c.CodeHash = codeHash
			c.LastResend = now.Unix()
			updated, err := encodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		var tooSoon *ResendTooSoonError
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil):
			return ErrChallengeNotFound
		case errors.As(err, &tooSoon), errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrResendNotAllowed):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
	}

	return fmt.Errorf("%w: contention", ErrChallengeBackend)
}

func (s *TwoFactorStore) deleteIn(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	if len(c.UserID) > 65535 {
		return nil, errors.New("two-factor challenge user id too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 3 + 32 + 16 + 2 + len(c.UserID))
	buf.WriteByte(twoFactorRecordVersion1)
	buf.WriteByte(byte(c.Method))
	buf.WriteByte(byte(c.Purpose))
	buf.WriteByte(c.AttemptsLeft)
	buf.Write(c.CodeHash[:])

	if err := binary.Write(&buf, binary.BigEndian, c.LastResend); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(c.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(c.UserID)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != twoFactorRecordVersion1 {
		return nil, errors.New("invalid two-factor challenge version")
	}

	var header [3]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, err
	}
	c := &Challenge{
		Method:       Method(header[0]),
		Purpose:      Purpose(header[1]),
		AttemptsLeft: header[2],
	}
	if c.Method < MethodEmail || c.Method > MethodBoth {
		return nil, errors.New("invalid two-factor challenge method")
	}
	if _, err := io.ReadFull(reader, c.CodeHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &c.LastResend); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &c.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	c.UserID = string(user)

	return c, nil
}
