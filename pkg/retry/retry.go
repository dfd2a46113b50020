// Package retry provides bounded retry schedules with deterministic jitter:
// the same operation identity always waits the same amount, so replays and
// tests see identical timing.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Policy is a per-attempt delay schedule. Attempt n (1-based among retries)
// waits Schedule[n-1] plus jitter; attempts beyond the schedule reuse its
// last entry.
type Policy struct {
	Schedule  []time.Duration
	MaxJitter time.Duration
}

// DefaultPolicy matches the federation sync defaults.
func DefaultPolicy() Policy {
	return Policy{
		Schedule:  []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second},
		MaxJitter: time.Second,
	}
}

// Params identify one retryable operation. Equal params yield equal delays.
type Params struct {
	Scope   string
	Peer    string
	Key     string
	Attempt int
}

// Delay returns the wait before the given attempt. Attempt 0 is the first
// try and never waits.
func (p Policy) Delay(params Params) time.Duration {
	if params.Attempt <= 0 || len(p.Schedule) == 0 {
		return 0
	}
	idx := params.Attempt - 1
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	return p.Schedule[idx] + Jitter(params, p.MaxJitter)
}

// Jitter derives a deterministic offset in [0, max) from the operation
// identity via SHA-256.
func Jitter(params Params, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%s:%d", params.Scope, params.Peer, params.Key, params.Attempt)
	sum := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(sum[:8])
	return time.Duration(basis % uint64(max))
}

// Do runs fn until it succeeds, the schedule is exhausted, or the context
// ends. Context errors abort immediately and are returned as-is.
func Do(ctx context.Context, policy Policy, params Params, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= len(policy.Schedule); attempt++ {
		params.Attempt = attempt
		if wait := policy.Delay(params); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", len(policy.Schedule)+1, err)
}
