package retry

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowth(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 1 * time.Second, MaxDelay: 30 * time.Second}

	if d := p.Delay(1); d != 0 {
		t.Errorf("attempt 1 should have no delay, got %v", d)
	}

	// Delay doubles per attempt; jitter adds at most 25% on top.
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{2, 1 * time.Second, 1250 * time.Millisecond},
		{3, 2 * time.Second, 2500 * time.Millisecond},
		{4, 4 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		d := p.Delay(tt.attempt)
		if d < tt.min || d > tt.max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, tt.min, tt.max)
		}
	}
}

func TestDelayCap(t *testing.T) {
	p := Policy{MaxAttempts: 20, BaseDelay: 1 * time.Second, MaxDelay: 4 * time.Second}

	// Far past the cap: delay must stay within MaxDelay plus jitter.
	d := p.Delay(15)
	if d > 5*time.Second {
		t.Errorf("delay %v exceeds cap plus jitter", d)
	}
	if d < 4*time.Second {
		t.Errorf("delay %v below cap", d)
	}
}

func TestWaitCancelled(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 30 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx, 2); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestWaitFirstAttemptImmediate(t *testing.T) {
	p := Default

	start := time.Now()
	if err := p.Wait(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first attempt waited %v, expected immediate", elapsed)
	}
}
