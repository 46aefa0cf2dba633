// Package retry runs an operation until it succeeds or the attempt budget
// is spent. Delays grow by the configured multiplier between attempts and
// honor context cancellation.
package retry

import (
	"context"
	"time"
)

type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration
	// Multiplier scales the delay after each failed attempt. Values
	// below 1 mean a fixed delay.
	Multiplier float64
	// MaxDelay caps the per-attempt delay. Zero means no cap.
	MaxDelay time.Duration
}

// Do invokes op until it returns nil, the attempts run out, or ctx is
// done. It returns the last error from op, or ctx.Err() when cancelled
// mid-wait.
func Do(ctx context.Context, cfg Config, op func() error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		if cfg.Multiplier > 1 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
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
