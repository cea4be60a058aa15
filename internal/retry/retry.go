package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule: base * 2^(attempt-1),
// capped at MaxDelay, with 0-25% jitter to avoid thundering herd.
// One policy value is shared by every call site that retries, so backoff
// behaviour is tuned in exactly one place.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is the policy used for remote render calls.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
}

// Storage is the tighter policy used for result-store reads and writes.
// Storage errors past this budget are fatal for the whole run.
var Storage = Policy{
	MaxAttempts: 4,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
}

// Delay returns the backoff delay before the given attempt (1-based).
// Attempt 1 has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// Wait sleeps for the backoff delay preceding the given attempt, returning
// early if the context is cancelled.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
