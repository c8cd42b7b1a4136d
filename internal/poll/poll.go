// Package poll repeats a status check with backoff until it reports a terminal state
package poll

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Almahr1/skrape/internal/config"
)

// ErrTimeout is returned when the overall poll deadline passes first
var ErrTimeout = errors.New("poll timeout exceeded")

// BackoffStrategy defines how delays between checks are calculated.
// Attempt 0 is the first check and always has zero delay.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// LinearBackoff implements linear backoff
type LinearBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// FromConfig builds the strategy described by cfg. A multiplier of 1 means
// linear growth.
func FromConfig(cfg config.PollConfig) BackoffStrategy {
	if cfg.Multiplier <= 1 {
		return &LinearBackoff{BaseDelay: cfg.Interval, MaxDelay: cfg.MaxInterval}
	}
	return &ExponentialBackoff{
		BaseDelay:  cfg.Interval,
		MaxDelay:   cfg.MaxInterval,
		Multiplier: cfg.Multiplier,
		Jitter:     cfg.Jitter,
	}
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	if e.MaxDelay > 0 && delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}

	// Up to 10% extra, never below the computed delay
	if e.Jitter {
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}

func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := l.BaseDelay * time.Duration(attempt)
	if l.MaxDelay > 0 && delay > l.MaxDelay {
		return l.MaxDelay
	}
	return delay
}

// Until calls check until done reports true, check fails, ctx ends or timeout
// elapses. A timeout of zero means only ctx bounds the loop. The last value
// seen is returned alongside any error so callers can report progress.
func Until[T any](ctx context.Context, check func(context.Context) (T, error), done func(T) bool, backoff BackoffStrategy, timeout time.Duration) (T, error) {
	var last T

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		if delay := backoff.NextDelay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return last, stopped(ctx)
			case <-timer.C:
			}
		}

		value, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrTimeout) {
				return last, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			return last, err
		}
		last = value

		if done(value) {
			return value, nil
		}
	}
}

func stopped(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
	}
	return ctx.Err()
}
