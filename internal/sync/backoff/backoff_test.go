package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}

	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestPolicyDelay_AudioCeiling(t *testing.T) {
	if got := AudioChunk.Delay(4); got != 5*time.Second {
		t.Errorf("audio delay = %v, want 5s ceiling", got)
	}
}

func TestManager_NextStopsAtCeiling(t *testing.T) {
	m := NewManager(Policy{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := m.Next(); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}

	if _, err := m.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if m.Attempt() != 3 {
		t.Errorf("attempt = %d, want 3 (must stop incrementing)", m.Attempt())
	}
}

func TestManager_Reset(t *testing.T) {
	m := NewManager(Policy{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 2}, zerolog.Nop())

	_, _ = m.Next()
	if !m.HadFailure() {
		t.Fatal("HadFailure should be true after an attempt")
	}

	m.Reset()
	if m.Attempt() != 0 || m.HadFailure() {
		t.Error("Reset should zero attempt count and failure flag")
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	m := NewManager(Policy{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}, zerolog.Nop())

	calls := 0
	err := m.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if m.Attempt() != 0 {
		t.Error("attempt counter should be reset after success")
	}
}

func TestRetry_Exhaustion(t *testing.T) {
	m := NewManager(Policy{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3}, zerolog.Nop())

	boom := errors.New("boom")
	calls := 0
	err := m.Retry(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Error("exhaustion error should wrap the last operation error")
	}
	// Initial call plus three retries; the fourth automatic retry never occurs.
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	m := NewManager(Policy{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}, zerolog.Nop())

	boom := errors.New("rejected")
	calls := 0
	err := m.Retry(context.Background(), func(context.Context) error {
		calls++
		return Permanent(boom)
	})

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the wrapped cause", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("permanent failure must not report exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	m := NewManager(Policy{Base: time.Minute, Max: time.Minute, MaxAttempts: 5}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := m.Retry(ctx, func(context.Context) error {
		return errors.New("always failing")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
