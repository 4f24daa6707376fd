package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy holds the parameters for the retry strategy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Logger      *Logger

	// Sleep defaults to a context-aware timer. Tests replace it with a fake clock.
	Sleep Sleeper
	// OnRetry is called before every wait, with the attempt that failed.
	OnRetry func(attempt int, err error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the wait after the given failed attempt (1-based).
func (r *RetryPolicy) Delay(attempt int) time.Duration {
	mult := r.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(r.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Do executes fn with exponential back-off retry logic.
func (r *RetryPolicy) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("%s failed: %w", operationName, lastErr)
		}
		if attempt == attempts {
			break
		}

		delay := r.Delay(attempt)
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, attempts, lastErr, delay)
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// SleepContext blocks for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
