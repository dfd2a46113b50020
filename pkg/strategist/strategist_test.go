package strategist

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

func newTestStrategist(t *testing.T, mutate func(*Config), opts ...Option) *Strategist {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	bad := DefaultConfig()
	bad.Alpha = 0
	_, err := New(bad)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.EpsilonMin = 0.5 // above epsilon
	_, err = New(bad)
	assert.Error(t, err)
}

func TestRecommendEmptyCandidates(t *testing.T) {
	s := newTestStrategist(t, nil)
	_, _, err := s.Recommend("state", nil, nil)
	assert.ErrorIs(t, err, contracts.ErrNoViableProviders)
}

// Two candidates, one learned value of 1.0: with exploration off the chosen
// provider is the learned one, and a terminal +1 reward is a fixed point.
func TestExploitPathFixedPoint(t *testing.T) {
	s := newTestStrategist(t, func(c *Config) {
		c.Epsilon = 0
		c.EpsilonMin = 0
	})
	s.table.Set("st", "alpha", 1.0)

	chosen, meta, err := s.Recommend("st", []string{"beta", "alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", chosen)
	assert.Equal(t, contracts.ModeExploit, meta.Mode)
	assert.Equal(t, 1.0, meta.QValue)

	newQ, err := s.Update("st", "alpha", 1.0, "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, newQ)
	assert.Equal(t, 1.0, s.Value("st", "alpha"))
}

// With epsilon pinned at 1 every draw explores, and a fixed seed replays the
// same provider.
func TestExplorePathSeededReplay(t *testing.T) {
	pick := func() string {
		s := newTestStrategist(t, func(c *Config) {
			c.Epsilon = 1
			c.EpsilonMin = 1
		}, WithRNG(NewDeterministicRNG([]byte("seed-42"))))
		chosen, meta, err := s.Recommend("st", []string{"a", "b", "c", "d"}, nil)
		require.NoError(t, err)
		assert.Equal(t, contracts.ModeExplore, meta.Mode)
		return chosen
	}
	first := pick()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, pick())
	}
}

func TestExploitTieBreaksOnLowestID(t *testing.T) {
	s := newTestStrategist(t, func(c *Config) {
		c.Epsilon = 0
		c.EpsilonMin = 0
	})
	// All zero-valued: the lexicographically lowest id must win regardless of
	// candidate order.
	chosen1, _, err := s.Recommend("st", []string{"zeta", "beta", "mu"}, nil)
	require.NoError(t, err)
	chosen2, _, err := s.Recommend("st", []string{"mu", "zeta", "beta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", chosen1)
	assert.Equal(t, chosen1, chosen2)
}

func TestUntouchedPairsStayZero(t *testing.T) {
	s := newTestStrategist(t, nil)
	for i := 0; i < 50; i++ {
		_, err := s.Update("hot", "p1", 1.0, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, s.Value("hot", "p2"))
	assert.Equal(t, 0.0, s.Value("cold", "p1"))

	// Reads themselves must not materialize entries.
	states, entries := s.table.Size()
	assert.Equal(t, 1, states)
	assert.Equal(t, 1, entries)
}

func TestNonFiniteRewardRejectedWithoutMutation(t *testing.T) {
	s := newTestStrategist(t, nil)
	_, err := s.Update("st", "p", 5, "")
	require.NoError(t, err)
	before := s.Value("st", "p")

	for _, r := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := s.Update("st", "p", r, "")
		assert.ErrorIs(t, err, contracts.ErrPoisonedReward)
		assert.Equal(t, before, s.Value("st", "p"))
	}
}

func TestEpsilonDecayMonotoneAndBounded(t *testing.T) {
	s := newTestStrategist(t, nil)
	prev := s.Epsilon()
	for i := 0; i < 2000; i++ {
		cur := s.DecayEpsilon()
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
	assert.InDelta(t, s.cfg.EpsilonMin, s.Epsilon(), 1e-12)
}

func TestSignalShiftsTowardExploitation(t *testing.T) {
	s := newTestStrategist(t, nil)
	sig := 1.0
	_, meta, err := s.Recommend("st", []string{"a"}, &sig)
	require.NoError(t, err)
	// eps * (1 - 0.5*1) = 0.05
	assert.InDelta(t, 0.05, meta.Epsilon, 1e-12)
	assert.True(t, meta.SignalAdjusted)

	_, metaNone, err := s.Recommend("st", []string{"a"}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, metaNone.Epsilon, 1e-12)
	assert.False(t, metaNone.SignalAdjusted)
}

func TestSignalEpsilonClampedAtFloor(t *testing.T) {
	s := newTestStrategist(t, func(c *Config) {
		c.Epsilon = 0.02
		c.EpsilonMin = 0.015
		c.SignalScale = 1.0
	})
	sig := 1.0
	_, meta, err := s.Recommend("st", []string{"a"}, &sig)
	require.NoError(t, err)
	assert.Equal(t, 0.015, meta.Epsilon)
}

func TestUpdateUsesFutureMax(t *testing.T) {
	s := newTestStrategist(t, func(c *Config) {
		c.Alpha = 0.5
		c.Gamma = 0.5
	})
	s.table.Set("next", "x", 4.0)
	s.table.Set("next", "y", 2.0)

	// q=0: 0 + 0.5*(1 + 0.5*4 - 0) = 1.5
	newQ, err := s.Update("st", "p", 1.0, "next")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, newQ, 1e-12)

	// Unknown next state contributes zero future value.
	newQ2, err := s.Update("st2", "p", 1.0, "nowhere")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, newQ2, 1e-12)
}

func TestConcurrentUpdatesOnSamePairLoseNothing(t *testing.T) {
	tbl := NewTable()
	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tbl.Apply("st", "p", func(old float64) float64 { return old + 1 })
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(workers*perWorker), tbl.Get("st", "p"))
}

func TestSnapshotRoundTripByteIdentical(t *testing.T) {
	s := newTestStrategist(t, nil)
	_, err := s.Update("llm_inference|a100|us-west|8|32|50-100|none|none", "akash", 2.5, "")
	require.NoError(t, err)
	_, err = s.Update("general|any|global|4|16|100-200|0.5|0.5", "vast", -1.25, "")
	require.NoError(t, err)
	s.DecayEpsilon()

	first, err := s.Export()
	require.NoError(t, err)

	restored := newTestStrategist(t, nil)
	require.NoError(t, restored.Restore(first))
	second, err := restored.Export()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSnapshotRestoreReconstructsBehavior(t *testing.T) {
	s := newTestStrategist(t, func(c *Config) {
		c.Epsilon = 0
		c.EpsilonMin = 0
	})
	_, err := s.Update("st", "best", 10, "")
	require.NoError(t, err)

	data, err := s.Export()
	require.NoError(t, err)

	clone := newTestStrategist(t, nil)
	require.NoError(t, clone.Restore(data))

	chosen, _, err := clone.Recommend("st", []string{"other", "best"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "best", chosen)
	assert.Equal(t, s.Value("st", "best"), clone.Value("st", "best"))
	assert.Equal(t, s.Epsilon(), clone.Epsilon())
}

func TestSnapshotRejectsIncompatibleSchema(t *testing.T) {
	s := newTestStrategist(t, nil)
	err := s.Restore([]byte(`{"schema_version":"2.0.0","hyperparameters":{"alpha":0.1,"gamma":0.95,"epsilon":0.1,"epsilon_min":0.01,"decay":0.995,"signal_scale":0.5},"epsilon":0.1,"decision_count":0,"table":{}}`))
	assert.Error(t, err)

	err = s.Restore([]byte(`not json`))
	assert.ErrorIs(t, err, contracts.ErrCorruption)
}

func TestSnapshotHyperparametersPrecedeTable(t *testing.T) {
	s := newTestStrategist(t, nil)
	data, err := s.Export()
	require.NoError(t, err)
	doc := string(data)
	hyperIdx := strings.Index(doc, `"hyperparameters"`)
	tableIdx := strings.Index(doc, `"table"`)
	require.GreaterOrEqual(t, hyperIdx, 0)
	require.GreaterOrEqual(t, tableIdx, 0)
	assert.Less(t, hyperIdx, tableIdx)
}
