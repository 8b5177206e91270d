// Package backoff computes capped exponential retry delays with jitter and
// runs operations under that policy.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config describes an exponential backoff policy.
type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay" toml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay" toml:"max_delay"`
	// JitterFraction is the largest share of the base delay added as random
	// jitter. Zero disables jitter.
	JitterFraction float64 `yaml:"jitter_fraction" toml:"jitter_fraction"`
}

// DefaultConfig mirrors the vendor client's historical retry timings:
// 2s doubling up to 30s with 10% jitter.
func DefaultConfig() Config {
	return Config{
		InitialDelay:   2 * time.Second,
		Multiplier:     2.0,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
	}
}

// BaseDelay returns the un-jittered delay before retry number attempt
// (1-based). The sequence never decreases and never exceeds MaxDelay.
func BaseDelay(cfg Config, attempt int) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// NextDelay returns BaseDelay plus uniform jitter in [0, JitterFraction*base),
// clamped to MaxDelay. A nil rng uses a shared source.
func NextDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	base := BaseDelay(cfg, attempt)
	if cfg.JitterFraction <= 0 || base <= 0 {
		return base
	}
	jitter := time.Duration(float64(base) * cfg.JitterFraction * float64Of(rng))
	delay := base + jitter
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

var (
	sharedMu  sync.Mutex
	sharedRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func float64Of(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return sharedRng.Float64()
}

// Retrier runs an operation until it succeeds, returns a non-retryable
// error, or MaxAttempts is reached.
type Retrier struct {
	Config      Config
	MaxAttempts int
	// Retryable reports whether err is worth another attempt.
	Retryable func(err error) bool
	// Rand seeds jitter; nil uses the shared source.
	Rand *rand.Rand
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do invokes op. The returned error is the last one op produced, or the
// context error if the wait between attempts was cancelled.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if r.Retryable == nil || !r.Retryable(err) || attempt == attempts {
			return err
		}

		delay := NextDelay(r.Config, attempt, r.Rand)
		log.Warn().
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Err(err).
			Msg("transient failure, retrying")

		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
