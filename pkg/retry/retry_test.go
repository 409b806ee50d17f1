package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

func fastConfig() Config {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	config.MaxDelay = 20 * time.Millisecond
	config.Jitter = false
	return config
}

func throttled() error {
	return errors.NewError(errors.ErrCodeDiscoveryFailed, "RequestLimitExceeded").WithRetryable(true)
}

func run(r *Retryer, fn func() error) error {
	return r.DoWithContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := run(retryer, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := run(retryer, func() error {
		attempts++
		if attempts < 3 {
			return throttled()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := run(retryer, func() error {
		attempts++
		return errors.NewError(errors.ErrCodeDiscoveryFailed, "UnauthorizedOperation")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeDiscoveryFailed) {
		t.Errorf("Expected original error to be returned, got %v", err)
	}
}

func TestRetryer_PlainErrorNotRetried(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := run(retryer, func() error {
		attempts++
		return stderr.New("boom")
	})

	if err == nil || attempts != 1 {
		t.Errorf("plain errors must not be retried: attempts=%d err=%v", attempts, err)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := run(retryer, func() error {
		attempts++
		return errors.NewError(errors.ErrCodeDiscoveryFailed, "connection reset").WithRetryable(true)
	})

	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeDiscoveryFailed) {
		t.Errorf("Expected wrapped discovery error, got %v", err)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return throttled()
	})

	if !errors.HasCode(err, errors.ErrCodeOperationCanceled) {
		t.Errorf("Expected OPERATION_CANCELED, got %v", err)
	}
	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = time.Second
	config.Jitter = false
	retryer := New(config)

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
	}
	for i, want := range expected {
		if got := retryer.calculateDelay(i + 1); got != want {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, want)
		}
	}
}

func TestRetryer_JitterBounds(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 100 * time.Millisecond
	config.Jitter = true
	retryer := New(config)

	for i := 0; i < 50; i++ {
		delay := retryer.calculateDelay(1)
		if delay < 80*time.Millisecond || delay > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%%", delay)
		}
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var calls []int
	config := fastConfig()
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		calls = append(calls, attempt)
	}
	retryer := New(config)

	_ = run(retryer, func() error {
		return throttled()
	})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("OnRetry calls = %v, want [1 2]", calls)
	}
}

func TestRetryer_SingleAttempt(t *testing.T) {
	config := fastConfig()
	config.MaxAttempts = 1
	retryer := New(config)

	attempts := 0
	err := run(retryer, func() error {
		attempts++
		return throttled()
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeDiscoveryFailed) {
		t.Errorf("Expected discovery error, got %v", err)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	retryer := New(Config{})
	if retryer.config.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d", retryer.config.MaxAttempts)
	}
	if retryer.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v", retryer.config.Multiplier)
	}
}
