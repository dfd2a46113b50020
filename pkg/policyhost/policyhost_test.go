package policyhost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type funcModule struct {
	fn func(ctx context.Context, input []byte) ([]byte, error)
}

func (m funcModule) Authorize(ctx context.Context, input []byte) ([]byte, error) {
	return m.fn(ctx, input)
}
func (m funcModule) Close(context.Context) error { return nil }

func testTreaty() Treaty {
	return Treaty{
		TreatyID:           "treaty-akash-1",
		Regions:            []string{"us-west", "us-east"},
		QuotaGPUHoursTotal: 100,
		QuotaGPUHoursDaily: 10,
		MinReputation:      60,
	}
}

func testOrder(nonce string) Order {
	return Order{
		TenantID:          "tenant-a",
		Region:            "us-west",
		GPUHoursRequested: 4,
		Nonce:             nonce,
		TenantReputation:  80,
	}
}

func newTestHost(treaty Treaty, clock *fakeClock, opts ...HostOption) *Host {
	base := []HostOption{
		WithHostLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if clock != nil {
		base = append(base, WithHostClock(clock.now))
	}
	return NewHost(NativeModule{}, treaty, append(base, opts...)...)
}

func TestAuthorizeAllowConsumesQuota(t *testing.T) {
	h := newTestHost(testTreaty(), nil)

	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, "ok", d.Reason)

	acc := h.AccumulatorSnapshot()
	assert.Equal(t, uint32(4), acc.TreatyUsedTotal)
	assert.Equal(t, uint32(4), acc.PerTenantToday["tenant-a"])
	assert.True(t, acc.SeenNonces["n-1"])
}

func TestAuthorizeRegionLock(t *testing.T) {
	h := newTestHost(testTreaty(), nil)

	order := testOrder("n-1")
	order.Region = "eu-central"
	d, err := h.Authorize(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "region eu-central not allowed", d.Reason)
	assert.Equal(t, uint32(0), h.AccumulatorSnapshot().TreatyUsedTotal)
}

func TestAuthorizeReplayNonce(t *testing.T) {
	h := newTestHost(testTreaty(), nil)

	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	require.True(t, d.Allow)

	d, err = h.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "replay nonce", d.Reason)

	// A denied order consumes nothing.
	assert.Equal(t, uint32(4), h.AccumulatorSnapshot().TreatyUsedTotal)
}

func TestAuthorizeReputationFloor(t *testing.T) {
	h := newTestHost(testTreaty(), nil)

	order := testOrder("n-1")
	order.TenantReputation = 50
	d, err := h.Authorize(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "low reputation", d.Reason)
}

func TestAuthorizeDailyCapPerTenant(t *testing.T) {
	h := newTestHost(testTreaty(), nil)

	first := testOrder("n-1")
	first.GPUHoursRequested = 6
	d, err := h.Authorize(context.Background(), first)
	require.NoError(t, err)
	require.True(t, d.Allow)

	second := testOrder("n-2")
	second.GPUHoursRequested = 5
	d, err = h.Authorize(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "daily tenant cap exceeded", d.Reason)

	// Another tenant has its own daily budget.
	other := testOrder("n-3")
	other.TenantID = "tenant-b"
	other.GPUHoursRequested = 5
	d, err = h.Authorize(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestAuthorizeTreatyTotalCap(t *testing.T) {
	treaty := testTreaty()
	treaty.QuotaGPUHoursTotal = 10
	treaty.QuotaGPUHoursDaily = 100
	h := newTestHost(treaty, nil)

	first := testOrder("n-1")
	first.GPUHoursRequested = 6
	d, err := h.Authorize(context.Background(), first)
	require.NoError(t, err)
	require.True(t, d.Allow)

	second := testOrder("n-2")
	second.TenantID = "tenant-b"
	second.GPUHoursRequested = 5
	d, err = h.Authorize(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "treaty total cap exceeded", d.Reason)
}

func TestDayRolloverResetsDailyStateKeepsTotal(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	h := newTestHost(testTreaty(), clock)

	first := testOrder("n-1")
	first.GPUHoursRequested = 6
	d, err := h.Authorize(context.Background(), first)
	require.NoError(t, err)
	require.True(t, d.Allow)

	clock.advance(2 * time.Hour)

	// Same nonce and the full daily budget are available again.
	repeat := testOrder("n-1")
	repeat.GPUHoursRequested = 6
	d, err = h.Authorize(context.Background(), repeat)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	acc := h.AccumulatorSnapshot()
	assert.Equal(t, uint32(12), acc.TreatyUsedTotal)
	assert.Equal(t, "2026-03-02", acc.Day)
	assert.Equal(t, uint32(6), acc.PerTenantToday["tenant-a"])
}

func TestAuthorizeWallClockCapIsHardReject(t *testing.T) {
	stuck := funcModule{fn: func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := NewHost(stuck, testTreaty(),
		WithWallClockCap(10*time.Millisecond),
		WithHostLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonTimeout, d.Reason)
}

func TestAuthorizeModuleErrorFailsClosed(t *testing.T) {
	broken := funcModule{fn: func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("trap: unreachable")
	}}
	h := NewHost(broken, testTreaty(),
		WithHostLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.Error(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "policy execution error", d.Reason)
}

func TestAuthorizeUnparsableOutputFailsClosed(t *testing.T) {
	garbled := funcModule{fn: func(context.Context, []byte) ([]byte, error) {
		return []byte("not json"), nil
	}}
	h := NewHost(garbled, testTreaty(),
		WithHostLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.Error(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "policy output unparsable", d.Reason)
}

func TestRestoreAccumulatorsCarriesNonceLedger(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	h := newTestHost(testTreaty(), clock)

	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	require.True(t, d.Allow)
	snapshot := h.AccumulatorSnapshot()

	restarted := newTestHost(testTreaty(), clock)
	restarted.RestoreAccumulators(snapshot)

	d, err = restarted.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "replay nonce", d.Reason)
}

func TestAuthorizeFirstViolationWins(t *testing.T) {
	h := newTestHost(testTreaty(), nil)

	// Burn the nonce, then violate region and nonce together: the region
	// check runs first.
	d, err := h.Authorize(context.Background(), testOrder("n-1"))
	require.NoError(t, err)
	require.True(t, d.Allow)

	order := testOrder("n-1")
	order.Region = "ap-south"
	d, err = h.Authorize(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "region ap-south not allowed", d.Reason)
}
