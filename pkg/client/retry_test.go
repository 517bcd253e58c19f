package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fastRetryConfig keeps the 2^i shape but scales it down to milliseconds.
func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BackoffUnit: time.Millisecond,
		Jitter:      func() float64 { return 0.5 },
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.BackoffUnit != time.Second {
		t.Errorf("BackoffUnit = %v, want 1s", config.BackoffUnit)
	}
	if config.Jitter == nil {
		t.Error("Jitter must be set")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{0, 0, 1 * time.Second},
		{0, 0.5, 1500 * time.Millisecond},
		{1, 0, 2 * time.Second},
		{2, 0.25, 4250 * time.Millisecond},
		{3, 1, 9 * time.Second},
	}

	for _, tt := range tests {
		got := Backoff(tt.attempt, time.Second, tt.jitter)
		if got != tt.want {
			t.Errorf("Backoff(%d, 1s, %v) = %v, want %v", tt.attempt, tt.jitter, got, tt.want)
		}
	}
}

func TestBackoff_MonotonicAndBounded(t *testing.T) {
	const maxAttempts = 5
	upper := MaxBackoff(maxAttempts, time.Second)
	if upper != 17*time.Second {
		t.Fatalf("MaxBackoff(5) = %v, want 2^4+1 = 17s", upper)
	}

	prevExpected := time.Duration(0)
	for attempt := 0; attempt < maxAttempts-1; attempt++ {
		low := Backoff(attempt, time.Second, 0)
		high := Backoff(attempt, time.Second, 1)
		expected := Backoff(attempt, time.Second, 0.5)

		if expected < prevExpected {
			t.Errorf("expected backoff decreased at attempt %d: %v < %v", attempt, expected, prevExpected)
		}
		if high > upper {
			t.Errorf("backoff at attempt %d exceeds bound: %v > %v", attempt, high, upper)
		}
		if low > high {
			t.Errorf("jitter range inverted at attempt %d", attempt)
		}
		prevExpected = expected
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), zerolog.Nop(), func(int) (ErrorClass, error) {
		callCount++
		return "", nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), zerolog.Nop(), func(int) (ErrorClass, error) {
		callCount++
		if callCount < 3 {
			return ErrorClassRateLimit, errors.New("429")
		}
		return "", nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := errors.New("gateway timeout")
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), zerolog.Nop(), func(int) (ErrorClass, error) {
		callCount++
		return ErrorClassGatewayTimeout, testErr
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 5 {
		t.Errorf("Expected 5 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithBackoff_NonTransientNoRetry(t *testing.T) {
	for _, class := range []ErrorClass{ErrorClassClient, ErrorClassServer, ""} {
		t.Run(string(class), func(t *testing.T) {
			callCount := 0
			testErr := errors.New("not transient")
			err := retryWithBackoff(context.Background(), fastRetryConfig(5), zerolog.Nop(), func(int) (ErrorClass, error) {
				callCount++
				return class, testErr
			})

			if callCount != 1 {
				t.Errorf("Expected 1 call, got %d", callCount)
			}
			if !errors.Is(err, testErr) {
				t.Errorf("Expected original error, got %v", err)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, BackoffUnit: time.Second, Jitter: func() float64 { return 0 }}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, zerolog.Nop(), func(int) (ErrorClass, error) {
		callCount++
		cancel()
		return ErrorClassNetwork, errors.New("connection reset")
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExponentialDelays(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BackoffUnit: 10 * time.Millisecond, Jitter: func() float64 { return 0 }}

	var timestamps []time.Time
	_ = retryWithBackoff(context.Background(), cfg, zerolog.Nop(), func(int) (ErrorClass, error) {
		timestamps = append(timestamps, time.Now())
		return ErrorClassRateLimit, errors.New("429")
	})

	if len(timestamps) != 4 {
		t.Fatalf("Expected 4 attempts, got %d", len(timestamps))
	}

	// Delays are 10ms, 20ms, 40ms.
	for i, want := range []time.Duration{10, 20, 40} {
		got := timestamps[i+1].Sub(timestamps[i])
		if got < want*time.Millisecond {
			t.Errorf("delay %d = %v, want >= %v", i, got, want*time.Millisecond)
		}
	}
}
