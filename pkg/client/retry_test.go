package client

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSleep records requested waits without blocking.
type fakeSleep struct {
	waits []time.Duration
}

func (f *fakeSleep) Sleep(ctx context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return ctx.Err()
}

func (f *fakeSleep) total() time.Duration {
	var sum time.Duration
	for _, w := range f.waits {
		sum += w
	}
	return sum
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testPolicy(maxRetries int, sleeper *fakeSleep) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	p.Sleep = sleeper.Sleep
	return p
}

// sequence returns fn that yields errs in order, then nil.
func sequence(errs ...error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		return nil
	}, &calls
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
	if p.StatusBackoff != 1500*time.Millisecond {
		t.Errorf("StatusBackoff = %v, want 1.5s", p.StatusBackoff)
	}
	if p.NetworkBackoff != time.Second {
		t.Errorf("NetworkBackoff = %v, want 1s", p.NetworkBackoff)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		class   ErrorClass
		attempt int
		want    time.Duration
	}{
		{ErrorClassServer, 0, 1500 * time.Millisecond},
		{ErrorClassServer, 1, 3 * time.Second},
		{ErrorClassRateLimit, 2, 4500 * time.Millisecond},
		{ErrorClassNetwork, 0, time.Second},
		{ErrorClassNetwork, 2, 3 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.class, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%s, %d) = %v, want %v", tt.class, tt.attempt, got, tt.want)
		}
	}
}

func TestRetry_SucceedsOnThirdAttempt(t *testing.T) {
	sleeper := &fakeSleep{}
	fn, calls := sequence(
		&HTTPStatusError{StatusCode: 503},
		&HTTPStatusError{StatusCode: 503},
	)

	err := testPolicy(3, sleeper).Do(context.Background(), testLogger(), fn)

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if *calls != 3 {
		t.Errorf("Expected 3 calls, got %d", *calls)
	}
	if want := 1500*time.Millisecond + 3*time.Second; sleeper.total() < want {
		t.Errorf("Cumulative backoff = %v, want >= %v", sleeper.total(), want)
	}
}

func TestRetry_ExhaustedAfterMaxRetries(t *testing.T) {
	sleeper := &fakeSleep{}
	calls := 0
	fn := func(context.Context) error {
		calls++
		return &HTTPStatusError{StatusCode: 500}
	}

	err := testPolicy(2, sleeper).Do(context.Background(), testLogger(), fn)

	if calls != 3 {
		t.Errorf("Expected 3 total attempts, got %d", calls)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 500 {
		t.Errorf("Expected last HTTPStatusError 500 to be reachable, got %v", err)
	}
	// No wait after the final attempt
	if len(sleeper.waits) != 2 {
		t.Errorf("Expected 2 waits, got %d", len(sleeper.waits))
	}
}

func TestRetry_NetworkBackoffBase(t *testing.T) {
	sleeper := &fakeSleep{}
	netErr := &NetworkError{URL: "u", Err: errors.New("connection reset by peer")}
	fn, _ := sequence(netErr, netErr)

	if err := testPolicy(3, sleeper).Do(context.Background(), testLogger(), fn); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", sleeper.waits, want)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, sleeper.waits[i], want[i])
		}
	}
}

func TestRetry_NonRetryableSurfacedImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent status", &HTTPStatusError{StatusCode: 404}},
		{"decode error", &DecodeError{URL: "u", Err: errors.New("bad json")}},
		{"empty record", ErrEmptyRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &fakeSleep{}
			fn, calls := sequence(tt.err, tt.err, tt.err)

			err := testPolicy(3, sleeper).Do(context.Background(), testLogger(), fn)

			if *calls != 1 {
				t.Errorf("Expected 1 call, got %d", *calls)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected original error, got %v", err)
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Error("Should not return ErrRetryExhausted when no retry was attempted")
			}
			if len(sleeper.waits) != 0 {
				t.Errorf("Expected no waits, got %v", sleeper.waits)
			}
		})
	}
}

func TestRetry_ZeroRetries(t *testing.T) {
	sleeper := &fakeSleep{}
	fn, calls := sequence(&HTTPStatusError{StatusCode: 503})

	err := testPolicy(0, sleeper).Do(context.Background(), testLogger(), fn)

	if *calls != 1 {
		t.Errorf("Expected 1 call, got %d", *calls)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("Expected HTTPStatusError, got %v", err)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := DefaultRetryPolicy()

	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return &HTTPStatusError{StatusCode: 503}
	}

	start := time.Now()
	err := policy.Do(ctx, testLogger(), fn)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Error("Cancellation should not wait out the backoff")
	}
}

func TestRetry_RealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := sleepContext(ctx, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("sleepContext() error = %v, want DeadlineExceeded", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v, want nil", err)
	}
}

func TestRetry_CustomPredicate(t *testing.T) {
	sleeper := &fakeSleep{}
	policy := testPolicy(2, sleeper)
	policy.Retryable = func(error) bool { return false }

	fn, calls := sequence(&HTTPStatusError{StatusCode: 503})
	_ = policy.Do(context.Background(), testLogger(), fn)

	if *calls != 1 {
		t.Errorf("Expected predicate to stop retries, got %d calls", *calls)
	}
}
