// Package featurizer discretizes a workload context and an optional adaptive
// signal into the state key that indexes the value table. The mapping is pure
// and total: every input produces a key with the same field count, and equal
// logical inputs produce byte-identical keys across restarts.
package featurizer

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Defaults applied when a context omits a sizing field.
const (
	defaultCPUCores  = 4
	defaultMemoryGB  = 16.0
	defaultLatencyMS = 100.0
)

// noSignal is the bucket token for an absent adaptive signal. The field is
// emitted either way so the key's field count never varies.
const noSignal = "none"

// Signal carries the adaptive-exploration metrics that feed the state key.
type Signal struct {
	Coherence float64
	Density   float64
}

// StateKey builds the discrete key for a context and optional signal.
// Layout: workload|accelerator|region|cpu|mem|lat|coherence|density.
func StateKey(ctx *contracts.WorkloadContext, sig *Signal) string {
	fields := []string{
		token(string(ctx.Workload), string(contracts.WorkloadGeneral)),
		token(string(ctx.Accelerator), "any"),
		token(ctx.Region, "global"),
		bucketCPU(ctx.CPUCores),
		bucketMemory(memoryGB(ctx.Memory)),
		bucketLatency(latencyMS(ctx.ExpectedLatencyMS)),
	}
	if sig == nil {
		fields = append(fields, noSignal, noSignal)
	} else {
		fields = append(fields, roundTenth(sig.Coherence), roundTenth(sig.Density))
	}
	return strings.Join(fields, "|")
}

// token normalizes a categorical field: NFC form, lowercased, trimmed.
// Empty fields take the fallback so the key stays total.
func token(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
	if s == "" {
		return fallback
	}
	return s
}

func bucketCPU(cores int) string {
	if cores <= 0 {
		cores = defaultCPUCores
	}
	switch {
	case cores <= 2:
		return "2"
	case cores <= 4:
		return "4"
	case cores <= 8:
		return "8"
	case cores <= 16:
		return "16"
	case cores <= 32:
		return "32"
	default:
		return "64+"
	}
}

func bucketMemory(gb float64) string {
	switch {
	case gb <= 8:
		return "8"
	case gb <= 16:
		return "16"
	case gb <= 32:
		return "32"
	case gb <= 64:
		return "64"
	case gb <= 128:
		return "128"
	default:
		return "256+"
	}
}

func bucketLatency(ms float64) string {
	switch {
	case ms < 50:
		return "<50"
	case ms < 100:
		return "50-100"
	case ms < 200:
		return "100-200"
	default:
		return "200+"
	}
}

// roundTenth renders a signal metric at 0.1 precision, e.g. "0.7".
func roundTenth(v float64) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	rounded := float64(int(v*10+0.5)) / 10
	return strconv.FormatFloat(rounded, 'f', 1, 64)
}

func latencyMS(ms float64) float64 {
	if ms <= 0 {
		return defaultLatencyMS
	}
	return ms
}

// memoryGB parses sizes like "32Gi", "16G", "512Mi", or a plain byte count.
// Unparseable or absent values fall back to the default.
func memoryGB(s string) float64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return defaultMemoryGB
	}
	s = strings.ReplaceAll(s, "I", "")

	parse := func(numPart string, scale float64) (float64, bool) {
		n, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, false
		}
		return n * scale, true
	}

	var (
		gb float64
		ok bool
	)
	switch {
	case strings.HasSuffix(s, "G"):
		gb, ok = parse(strings.TrimSuffix(s, "G"), 1)
	case strings.HasSuffix(s, "M"):
		gb, ok = parse(strings.TrimSuffix(s, "M"), 1.0/1024)
	case strings.HasSuffix(s, "K"):
		gb, ok = parse(strings.TrimSuffix(s, "K"), 1.0/(1024*1024))
	default:
		gb, ok = parse(s, 1.0/(1024*1024*1024))
	}
	if !ok {
		return defaultMemoryGB
	}
	return gb
}
