package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bdobrica/Rinko/common/retry"
)

func fastConfig(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil after eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("sonarr unavailable")
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	notFound := errors.New("404 not found")
	err := retry.Do(context.Background(), fastConfig(5), func() error {
		calls++
		return retry.Permanent(notFound)
	})
	if calls != 1 {
		t.Fatalf("expected 1 call for permanent error, got %d", calls)
	}
	if !errors.Is(err, notFound) {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
	if retry.IsPermanent(err) {
		t.Fatal("Do should strip the permanent marker")
	}
}

func TestDo_ShouldRetryPredicate(t *testing.T) {
	calls := 0
	fatal := errors.New("bad request")
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := retry.Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	err := retry.Do(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in error chain, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestPermanentNil(t *testing.T) {
	if retry.Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}
