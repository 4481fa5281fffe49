// Package retry provides the bounded exponential backoff used between
// session retry attempts.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy holds the backoff parameters. The delay before retry attempt n
// (n starting at 1) is min(Max, (Base*2)^n) computed in milliseconds, so
// successive delays are non-decreasing and saturate at Max.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultPolicy returns the backoff defaults suited to LLM API calls.
func DefaultPolicy() Policy {
	return Policy{Base: 1 * time.Second, Max: 30 * time.Second}
}

// normalized clamps degenerate parameters so Delay stays monotonic.
func (p Policy) normalized() Policy {
	if p.Base < time.Millisecond {
		p.Base = time.Millisecond
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	return p
}

// Delay computes the backoff before the given retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}

	baseMs := float64(p.Base/time.Millisecond) * 2
	maxMs := float64(p.Max / time.Millisecond)

	delayMs := math.Pow(baseMs, float64(attempt))
	if math.IsInf(delayMs, 1) || delayMs > maxMs {
		delayMs = maxMs
	}
	return time.Duration(delayMs) * time.Millisecond
}

// Wait blocks the calling goroutine for the attempt's delay, honoring
// context cancellation. Unrelated sessions are not affected.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
