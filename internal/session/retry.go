package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/grill-link/internal/clock"
)

var errNoAttempts = errors.New("session: retry attempts must be > 0")

// retryConfig controls retryWithBackoff.
type retryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the randomization factor applied to each delay; 0 disables it.
	Jitter float64
}

func (cfg retryConfig) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = cfg.Jitter
	bo.Reset()
	return bo
}

// retryWithBackoff calls fn up to cfg.Attempts times, sleeping on clk
// between failures. Delays start at BaseDelay and double up to MaxDelay.
func retryWithBackoff(ctx context.Context, clk clock.Clock, cfg retryConfig, fn func() error) error {
	if cfg.Attempts <= 0 {
		return errNoAttempts
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	bo := cfg.backOff()

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		select {
		case <-clk.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
