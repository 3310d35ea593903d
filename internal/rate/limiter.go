package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:"

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the time until the current window closes. It is set
	// on denials only.
	RetryAfter time.Duration
}

// Limiter counts requests per (scope, identifier) in fixed windows.
type Limiter struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// New creates a Limiter backed by redisClient. A nil now uses time.Now.
func New(redisClient redis.UniversalClient, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{redis: redisClient, now: now}
}

// Check increments the counter for the current window and reports whether
// the request fits within limit.
func (l *Limiter) Check(ctx context.Context, scope, identifier string, limit int, window time.Duration) (Decision, error) {
	if err := validate(scope, limit, window); err != nil {
		return Decision{}, err
	}

	now := l.now()
	start := windowStart(now, window)
	key := counterKey(scope, identifier, start)

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decide(incr.Val(), limit, retryAfter(now, start, window)), nil
}

// Peek reports the state of the current window without counting a request.
func (l *Limiter) Peek(ctx context.Context, scope, identifier string, limit int, window time.Duration) (Decision, error) {
	if err := validate(scope, limit, window); err != nil {
		return Decision{}, err
	}

	now := l.now()
	start := windowStart(now, window)

	count, err := l.redis.Get(ctx, counterKey(scope, identifier, start)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// the next request would be count+1
	d := decide(count+1, limit, retryAfter(now, start, window))
	if d.Allowed {
		d.Remaining++
	}
	return d, nil
}

// Reset clears the current window for (scope, identifier).
func (l *Limiter) Reset(ctx context.Context, scope, identifier string, window time.Duration) error {
	if window <= 0 {
		return ErrInvalidPolicy
	}
	key := counterKey(scope, identifier, windowStart(l.now(), window))
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func decide(count int64, limit int, retry time.Duration) Decision {
	if count > int64(limit) {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
	}
	return Decision{Allowed: true, Remaining: limit - int(count)}
}

func validate(scope string, limit int, window time.Duration) error {
	if scope == "" || limit < 0 || window < time.Second {
		return ErrInvalidPolicy
	}
	return nil
}

func windowStart(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	return now.Unix() / secs * secs
}

func retryAfter(now time.Time, start int64, window time.Duration) time.Duration {
	end := time.Unix(start, 0).Add(window)
	d := end.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func counterKey(scope, identifier string, start int64) string {
	var b strings.Builder
	b.Grow(len(keyPrefix) + len(scope) + len(identifier) + 24)
	b.WriteString(keyPrefix)
	b.WriteString(scope)
	b.WriteByte(':')
	if identifier != "" {
		b.WriteString(identifier)
		b.WriteByte(':')
	}
	b.WriteString(strconv.FormatInt(start, 10))
	return b.String()
}
