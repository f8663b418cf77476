// Package retry provides exponential-backoff retry for connecting to the
// server, and nothing else: per SPEC_FULL.md, Validate/Upload RPCs are
// session-semantics-carrying calls and must never be silently retried,
// since a retried Validate after a timeout could observe a different
// server timestamp than the one the caller's decision was based on. Only
// the initial TCP dial is safe to retry.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config defines dial-retry behavior.
type Config struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       bool          `yaml:"jitter"`
	OnRetry      func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig returns sensible dial-retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Dialer retries a connection-establishing function with exponential
// backoff. It has no opinion about what counts as a retryable error,
// unlike the teacher's general-purpose retryer: everything Dial is
// asked to retry is assumed retryable, because the only thing it should
// ever wrap is "open a TCP connection to the server."
type Dialer struct {
	config Config
}

// New creates a Dialer, applying DefaultConfig to zero fields.
func New(config Config) *Dialer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Dialer{config: config}
}

// Dial calls fn until it succeeds, fn's attempt budget is exhausted, or ctx
// is canceled. fn should be a pure connection attempt (e.g. net.Dial) with
// no side effects beyond opening a socket.
func (d *Dialer) Dial(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("dial canceled: %w", ctx.Err())
		default:
		}

		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == d.config.MaxAttempts {
			break
		}

		delay := d.delay(attempt)
		if d.config.OnRetry != nil {
			d.config.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("dial canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("server unreachable after %d attempts: %w", d.config.MaxAttempts, lastErr)
}

func (d *Dialer) delay(attempt int) time.Duration {
	delay := float64(d.config.InitialDelay) * math.Pow(d.config.Multiplier, float64(attempt-1))
	if delay > float64(d.config.MaxDelay) {
		delay = float64(d.config.MaxDelay)
	}
	if d.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}
