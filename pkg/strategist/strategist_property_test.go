//go:build property
// +build property

// Package strategist_test contains property-based tests for the value-table
// policy invariants.
package strategist_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/aurora/pkg/strategist"
)

func newStrategist() *strategist.Strategist {
	s, err := strategist.New(strategist.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return s
}

// TestUntouchedPairsReadZero verifies no update sequence leaks value into a
// pair it never names.
func TestUntouchedPairsReadZero(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("untouched pair reads exactly zero", prop.ForAll(
		func(states []string, rewards []int) bool {
			s := newStrategist()
			for i := 0; i < len(states) && i < len(rewards); i++ {
				if states[i] == "" || states[i] == "sentinel" {
					continue
				}
				if _, err := s.Update(states[i], "p", float64(rewards[i]%100), ""); err != nil {
					return false
				}
			}
			return s.Value("sentinel", "p") == 0 && s.Value("sentinel", "q") == 0
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}

// TestEpsilonNeverIncreases verifies decay is monotone non-increasing and
// bounded below under any number of feedback events.
func TestEpsilonNeverIncreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("epsilon monotone non-increasing with floor", prop.ForAll(
		func(steps int) bool {
			s := newStrategist()
			cfg := strategist.DefaultConfig()
			prev := s.Epsilon()
			for i := 0; i < steps%500; i++ {
				cur := s.DecayEpsilon()
				if cur > prev || cur < cfg.EpsilonMin {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}

// TestUpdateDeterminism verifies the same update sequence reproduces the
// same value.
func TestUpdateDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("update sequences are deterministic", prop.ForAll(
		func(rewards []int) bool {
			run := func() float64 {
				s := newStrategist()
				for _, r := range rewards {
					if _, err := s.Update("st", "p", float64(r%50), ""); err != nil {
						return -1
					}
				}
				return s.Value("st", "p")
			}
			return run() == run()
		},
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
