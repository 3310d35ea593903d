package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTwoFactorStore(t *testing.T) (*TwoFactorStore, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	return NewTwoFactorStore(rdb, "", clock.Now), mr, clock
}

func newChallenge(clock *testClock, method Method) *Challenge {
	now := clock.Now()
	return &Challenge{
		UserID:       "user-1",
		Method:       method,
		Purpose:      PurposeLogin,
		CodeHash:     sha256.Sum256([]byte("email:123456")),
		AttemptsLeft: 3,
		LastResend:   now.Unix(),
		ExpiresAt:    now.Add(10 * time.Minute).Unix(),
	}
}

func TestTwoFactorSaveGetDelete(t *testing.T) {
	s, _, clock := newTestTwoFactorStore(t)
	ctx := context.Background()

	in := newChallenge(clock, MethodBoth)
	if err := s.Save(ctx, "sid", in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Get(ctx, "sid")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got != *in {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, in)
	}

	deleted, err := s.Delete(ctx, "sid")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	deleted, _ = s.Delete(ctx, "sid")
	if deleted {
		t.Fatal("second Delete must report false")
	}
	if _, err := s.Get(ctx, "sid"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestTwoFactorExpiry(t *testing.T) {
	s, _, clock := newTestTwoFactorStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "sid", newChallenge(clock, MethodTOTP)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	clock.Advance(11 * time.Minute)
	if _, err := s.Get(ctx, "sid"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestTwoFactorRecordFailureExhausts(t *testing.T) {
	s, _, clock := newTestTwoFactorStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "sid", newChallenge(clock, MethodTOTP)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for want := 2; want >= 1; want-- {
		remaining, exhausted, err := s.RecordFailure(ctx, "sid")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if remaining != want || exhausted {
			t.Fatalf("remaining=%d exhausted=%v, want %d/false", remaining, exhausted, want)
		}
	}

	remaining, exhausted, err := s.RecordFailure(ctx, "sid")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if remaining != 0 || !exhausted {
		t.Fatalf("expected exhaustion, got remaining=%d exhausted=%v", remaining, exhausted)
	}
	if _, err := s.Get(ctx, "sid"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("exhausted challenge must be deleted, got %v", err)
	}
	if _, _, err := s.RecordFailure(ctx, "sid"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestTwoFactorRecordFailureConcurrent(t *testing.T) {
	s, _, clock := newTestTwoFactorStore(t)
	ctx := context.Background()

	c := newChallenge(clock, MethodTOTP)
	c.AttemptsLeft = 50
	if err := s.Save(ctx, "sid", c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, _, err := s.RecordFailure(ctx, "sid")
				if err == nil || !errors.Is(err, ErrChallengeBackend) {
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "sid")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AttemptsLeft != 40 {
		t.Fatalf("expected 40 attempts left, got %d", got.AttemptsLeft)
	}
}

func TestTwoFactorMarkResentThrottle(t *testing.T) {
	s, _, clock := newTestTwoFactorStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "sid", newChallenge(clock, MethodEmail)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	newHash := sha256.Sum256([]byte("email:654321"))
	clock.Advance(20 * time.Second)
	err := s.MarkResent(ctx, "sid", newHash, time.Minute)
	var tooSoon *ResendTooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("expected ResendTooSoonError, got %v", err)
	}
	if tooSoon.RetryAfter != 40*time.Second {
		t.Fatalf("expected 40s retry-after, got %v", tooSoon.RetryAfter)
	}

	clock.Advance(40 * time.Second)
	if err := s.MarkResent(ctx, "sid", newHash, time.Minute); err != nil {
		t.Fatalf("MarkResent failed: %v", err)
	}
	got, _ := s.Get(ctx, "sid")
	if got.CodeHash != newHash {
		t.Fatal("code hash not replaced on resend")
	}
}

func TestTwoFactorMarkResentRejectsTOTPOnly(t *testing.T) {
	s, _, clock := newTestTwoFactorStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "sid", newChallenge(clock, MethodTOTP)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if err := s.MarkResent(ctx, "sid", [32]byte{1}, time.Minute); !errors.Is(err, ErrResendNotAllowed) {
		t.Fatalf("expected ErrResendNotAllowed, got %v", err)
	}
}

func TestDecodeChallengeRejectsGarbage(t *testing.T) {
	if _, err := decodeChallenge([]byte{9, 1, 1}); err == nil {
		t.Fatal("expected unknown version to fail")
	}
	if _, err := decodeChallenge([]byte{twoFactorRecordVersion1, 7, 1, 3}); err == nil {
		t.Fatal("expected invalid method to fail")
	}
}
