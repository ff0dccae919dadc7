// Package retry provides exponential backoff for dialing NATS at startup.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError stops Do on the attempt that returned it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err so that Do gives up immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config is a backoff policy. Zero fields take the defaults applied by Do.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// AddJitter stretches each wait by up to a quarter.
	AddJitter bool

	// OnRetry runs before each backoff wait with the attempt that failed.
	OnRetry func(attempt int, err error, next time.Duration)
}

// DefaultConfig is the policy for eager connections.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

const maxMultiplier = 1000

func (cfg Config) withDefaults() (Config, error) {
	switch {
	case cfg.InitialDelay < 0, cfg.MaxDelay < 0:
		return cfg, errors.New("retry: delays cannot be negative")
	case cfg.Multiplier < 0:
		return cfg, errors.New("retry: multiplier cannot be negative")
	}

	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	cfg.Multiplier = min(cfg.Multiplier, maxMultiplier)

	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, fmt.Errorf("retry: max delay %s is below initial delay %s", cfg.MaxDelay, cfg.InitialDelay)
	}
	return cfg, nil
}

// delayFor applies jitter to a base delay.
func (cfg Config) delayFor(base time.Duration) time.Duration {
	quarter := int64(base / 4)
	if !cfg.AddJitter || quarter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(quarter))
}

// grow returns the base delay after base, capped at MaxDelay.
func (cfg Config) grow(base time.Duration) time.Duration {
	next := float64(base) * cfg.Multiplier
	if next >= float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(next)
}

// Do calls fn until it succeeds, returns a NonRetryable error, ctx ends,
// or MaxAttempts is reached.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return err
	}

	base := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case IsNonRetryable(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("retry failed after %d attempts: %w", attempt, err)
		}

		wait := cfg.delayFor(base)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry cancelled while waiting for attempt %d: %w", attempt+1, err)
		}
		base = cfg.grow(base)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoWithResult is Do for functions that also return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
