package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayFollowsScheduleAndClampsToLastEntry(t *testing.T) {
	p := Policy{Schedule: []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}}

	params := Params{Scope: "sync", Peer: "node-b", Key: "rec-1"}
	for attempt, want := range map[int]time.Duration{
		0: 0,
		1: 5 * time.Second,
		2: 10 * time.Second,
		3: 30 * time.Second,
		7: 30 * time.Second,
	} {
		params.Attempt = attempt
		assert.Equal(t, want, p.Delay(params), "attempt %d", attempt)
	}
}

func TestJitterIsDeterministicAndBounded(t *testing.T) {
	max := 500 * time.Millisecond
	a := Params{Scope: "sync", Peer: "node-b", Key: "rec-1", Attempt: 2}

	first := Jitter(a, max)
	assert.Equal(t, first, Jitter(a, max))
	assert.GreaterOrEqual(t, first, time.Duration(0))
	assert.Less(t, first, max)

	for _, key := range []string{"rec-2", "rec-3", "rec-4"} {
		p := a
		p.Key = key
		j := Jitter(p, max)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, max)
	}

	assert.Equal(t, time.Duration(0), Jitter(a, 0))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{Schedule: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}

	calls := 0
	err := Do(context.Background(), p, Params{Scope: "sync"}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsScheduleAndWrapsLastError(t *testing.T) {
	p := Policy{Schedule: []time.Duration{time.Millisecond, time.Millisecond}}
	sentinel := errors.New("still down")

	calls := 0
	err := Do(context.Background(), p, Params{Scope: "sync"}, func(context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "retries exhausted after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDoAbortsOnContextCancel(t *testing.T) {
	p := Policy{Schedule: []time.Duration{time.Minute}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, p, Params{Scope: "sync"}, func(context.Context) error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDoSingleAttemptWithEmptySchedule(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, Params{}, func(context.Context) error {
		calls++
		return errors.New("no")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
