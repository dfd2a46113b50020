package fleet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func TestOutageAppliesAndReverses(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	clock := newClock()

	ctrl := NewController(reg, []Event{
		{Provider: "p1", Type: EventOutage, After: 0, Duration: Duration(30 * time.Second)},
	}, WithControllerClock(clock.now))

	ctrl.Tick()
	p, _ := reg.Get("p1")
	assert.False(t, p.Active)
	assert.Len(t, ctrl.ActiveEffects(), 1)

	clock.advance(31 * time.Second)
	ctrl.Tick()
	p, _ = reg.Get("p1")
	assert.True(t, p.Active)
	assert.Empty(t, ctrl.ActiveEffects())
}

func TestLatencySpikeShiftsEffectiveLatency(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	clock := newClock()
	ctrl := NewController(reg, nil, WithControllerClock(clock.now))

	ctrl.Inject(Event{Provider: "p1", Type: EventLatencySpike, DeltaMS: 250, Duration: Duration(time.Minute)})
	p, _ := reg.Get("p1")
	assert.InDelta(t, 550.0, p.EffectiveLatencyMS(), 1e-9)

	clock.advance(2 * time.Minute)
	ctrl.Tick()
	p, _ = reg.Get("p1")
	assert.InDelta(t, 300.0, p.EffectiveLatencyMS(), 1e-9)
}

func TestPriceSpikeMultipliesAndDivides(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	clock := newClock()
	ctrl := NewController(reg, nil, WithControllerClock(clock.now))

	ctrl.Inject(Event{Provider: "p1", Type: EventPriceSpike, Multiplier: 3, Duration: Duration(time.Minute)})
	p, _ := reg.Get("p1")
	assert.InDelta(t, 6.0, p.EffectivePrice(contracts.AcceleratorA100), 1e-9)

	clock.advance(2 * time.Minute)
	ctrl.Tick()
	p, _ = reg.Get("p1")
	assert.InDelta(t, 2.0, p.EffectivePrice(contracts.AcceleratorA100), 1e-9)
}

func TestCapacitySurgeAddsHeadroomThenClamps(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	clock := newClock()
	ctrl := NewController(reg, nil, WithControllerClock(clock.now))

	ctrl.Inject(Event{Provider: "p1", Type: EventCapacitySurge, Multiplier: 2, Duration: Duration(time.Minute)})
	left, _ := reg.Remaining("p1")
	assert.InDelta(t, 20.0, left, 1e-9)

	clock.advance(2 * time.Minute)
	ctrl.Tick()
	left, _ = reg.Remaining("p1")
	assert.InDelta(t, 10.0, left, 1e-9)
}

func TestReputationDropClampedInSnapshot(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	clock := newClock()
	ctrl := NewController(reg, nil, WithControllerClock(clock.now))

	ctrl.Inject(Event{Provider: "p1", Type: EventReputationDrop, Delta: -90, Duration: Duration(time.Minute)})
	p, _ := reg.Get("p1")
	assert.InDelta(t, 0.0, p.EffectiveReputation(), 1e-9)
}

func TestScheduledEventWaitsForOffset(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	clock := newClock()
	ctrl := NewController(reg, []Event{
		{Provider: "p1", Type: EventOutage, After: Duration(time.Minute), Duration: Duration(time.Minute)},
	}, WithControllerClock(clock.now))

	ctrl.Tick()
	p, _ := reg.Get("p1")
	assert.True(t, p.Active)

	clock.advance(61 * time.Second)
	ctrl.Tick()
	p, _ = reg.Get("p1")
	assert.False(t, p.Active)
}

func TestEventWithNonPositiveMultiplierIgnored(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("p1")))
	ctrl := NewController(reg, nil)

	ctrl.Inject(Event{Provider: "p1", Type: EventPriceSpike, Multiplier: 0})
	assert.Empty(t, ctrl.ActiveEffects())
	p, _ := reg.Get("p1")
	assert.InDelta(t, 2.0, p.EffectivePrice(contracts.AcceleratorA100), 1e-9)
}

func TestLoadFileParsesProvidersAndScenario(t *testing.T) {
	raw := `
providers:
  - id: akash
    regions: [eu-west-1, global]
    prices:
      a100: 2.0
      t4: 0.6
    credits_per_hour:
      a100: 1.0
    base_latency_ms: 120
    capacity: 500
    reputation: 88
    active: true
scenario:
  - provider: akash
    event: latency_spike
    after: 30s
    duration: 2m
    delta_ms: 150
`
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, f.Providers, 1)
	assert.Equal(t, 2.0, f.Providers[0].Prices[contracts.AcceleratorA100])
	require.Len(t, f.Scenario, 1)
	assert.Equal(t, EventLatencySpike, f.Scenario[0].Type)
	assert.Equal(t, 30*time.Second, time.Duration(f.Scenario[0].After))
	assert.Equal(t, 2*time.Minute, time.Duration(f.Scenario[0].Duration))

	reg := NewRegistry()
	require.NoError(t, f.Populate(reg))
	assert.Equal(t, 1, reg.Len())
}

func TestLoadFileRejectsUnknownScenarioProvider(t *testing.T) {
	raw := `
providers:
  - id: akash
    regions: [global]
    prices: {a100: 2.0}
    base_latency_ms: 100
    capacity: 10
    reputation: 80
    active: true
scenario:
  - provider: ghost
    event: outage
    after: 0s
`
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := LoadFile(path)
	require.ErrorIs(t, err, contracts.ErrInvalidInput)
}
