// Package retry implements the exponential backoff policy brokers use to
// redeliver failed tasks, and a small loop for retrying startup calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// Config controls attempts and backoff.
type Config struct {
	// MaxAttempts counts the first delivery; 1 disables retries.
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	// Jitter adds up to 25% of the delay.
	Jitter bool `mapstructure:"jitter"`
}

// DefaultConfig returns the broker defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// Validate rejects settings that cannot produce a sane schedule.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errors.New("max_attempts must be >= 1")
	case c.InitialBackoff < 0 || c.MaxBackoff < 0:
		return errors.New("backoff durations must not be negative")
	case c.MaxBackoff > 0 && c.MaxBackoff < c.InitialBackoff:
		return errors.New("max_backoff must be >= initial_backoff")
	case c.Multiplier < 1:
		return errors.New("multiplier must be >= 1")
	}
	return nil
}

// Policy decides whether and when a failed attempt is retried.
type Policy struct {
	cfg Config
}

// New builds a Policy. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &Policy{cfg: cfg}
}

// MaxAttempts returns the attempt budget.
func (p *Policy) MaxAttempts() int { return p.cfg.MaxAttempts }

// ShouldRetry reports whether another attempt is allowed after attempt
// (1-based) failed with err.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.cfg.MaxAttempts {
		return false
	}
	return newsfeed.IsRetryable(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.InitialBackoff) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if delay > float64(p.cfg.MaxBackoff) {
		delay = float64(p.cfg.MaxBackoff)
	}
	d := time.Duration(delay)
	if p.cfg.Jitter {
		d += randomJitter(d / 4)
	}
	return d
}

// randomJitter returns a value in [0, limit). The top-level math/rand/v2
// functions are safe for concurrent use.
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit))) //nolint:gosec // jitter does not need a secure source
}

// Do calls fn until it succeeds, the policy gives up, or ctx ends. Every
// error is treated as retryable; fn decides what to return.
func Do(ctx context.Context, p *Policy, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt >= p.cfg.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry canceled after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
