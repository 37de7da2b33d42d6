package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	wrapped := errors.New("invalid request")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(wrapped)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, wrapped) {
		t.Errorf("error = %v, want to wrap %v", err, wrapped)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errors.New("still failing")
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if err == nil {
		t.Error("error = nil, want last failure")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultConfig(), func() error {
		t.Fatal("op ran with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDoWithValueReturnsValue(t *testing.T) {
	got, err := DoWithValue(context.Background(), Config{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() (string, error) {
		return "report", nil
	})
	if err != nil {
		t.Fatalf("DoWithValue: %v", err)
	}
	if got != "report" {
		t.Errorf("value = %q, want %q", got, "report")
	}
}
