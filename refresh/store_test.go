package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, opts...), mr
}

func TestIssueConsumeOnce(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	token, exp, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if d := time.Until(exp); d < DefaultTTL-time.Minute || d > DefaultTTL {
		t.Fatalf("unexpected expiry in %v", d)
	}

	for _, k := range mr.Keys() {
		if strings.Contains(k, token) {
			t.Fatalf("raw token leaked into key %q", k)
		}
	}

	uid, err := s.Consume(ctx, token)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if uid != "u1" {
		t.Fatalf("expected u1, got %q", uid)
	}

	// a new token issued in between does not revive the consumed one
	if _, _, err := s.Issue(ctx, "u1"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := s.Consume(ctx, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid on reuse, got %v", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	token, _, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var wins, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume(ctx, token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalid):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || invalid.Load() != 15 {
		t.Fatalf("expected 1 winner and 15 rejections, got %d/%d", wins.Load(), invalid.Load())
	}
}

func TestConsumeRejectsMalformedAndUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, tok := range []string{"", "short", strings.Repeat("A", 43), "!!!!"} {
		if _, err := s.Consume(ctx, tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Consume(%q): expected ErrInvalid, got %v", tok, err)
		}
	}
}

func TestConsumeExpired(t *testing.T) {
	now := time.Now()
	s, mr := newTestStore(t, WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	token, _, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	if _, err := s.Consume(ctx, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid after expiry, got %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	token, _, err := s.Issue(ctx, "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Revoke(ctx, token); err != nil {
			t.Fatalf("Revoke #%d failed: %v", i+1, err)
		}
	}
	if err := s.Revoke(ctx, "garbage"); err != nil {
		t.Fatalf("Revoke(garbage) failed: %v", err)
	}
	if _, err := s.Consume(ctx, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		tok, _, err := s.Issue(ctx, "u1")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		tokens = append(tokens, tok)
	}
	other, _, _ := s.Issue(ctx, "u2")

	if n, _ := s.Count(ctx, "u1"); n != 3 {
		t.Fatalf("expected 3 indexed tokens, got %d", n)
	}
	if err := s.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	for _, tok := range tokens {
		if _, err := s.Consume(ctx, tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected token revoked, got %v", err)
		}
	}
	if uid, err := s.Consume(ctx, other); err != nil || uid != "u2" {
		t.Fatalf("other user's token must survive: uid=%q err=%v", uid, err)
	}
}

func TestConsumeFailsClosed(t *testing.T) {
	s, mr := newTestStore(t)
	token, _, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	mr.Close()

	if _, err := s.Consume(context.Background(), token); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
