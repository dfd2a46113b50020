package auditor

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule is one operator-configured anomaly expression. The expression sees a
// single `decision` map and must evaluate to bool.
type Rule struct {
	Name string `json:"name" yaml:"name"`
	Expr string `json:"expr" yaml:"expr"`
}

// AnomalyEngine evaluates anomaly rules over decision records. Rules compile
// once at construction with a hard cost limit; a rule that fails at eval time
// surfaces as a note in the trail, never as a gate.
//
// The decision record exposed to rules carries the selection metadata
// (provider, state_key, mode, epsilon, q_value, decision_count, signal) plus
// history-derived fields: reward (the provider's last observed reward),
// loss_streak, won_before, and q_delta (absolute change of the pair's q-value
// since its previous selection).
type AnomalyEngine struct {
	env      *cel.Env
	rules    []Rule
	programs map[string]cel.Program

	mu      sync.Mutex
	history map[string]*providerHistory
	lastQ   map[string]float64
}

type providerHistory struct {
	lastReward float64
	lossStreak int
	everWon    bool
}

// NewAnomalyEngine compiles the given rules. A rule that does not compile is
// an operator configuration error and fails construction.
func NewAnomalyEngine(rules []Rule) (*AnomalyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("decision", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	programs := make(map[string]cel.Program, len(rules))
	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile anomaly rule %q: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("build anomaly rule %q: %w", r.Name, err)
		}
		programs[r.Expr] = prg
	}
	return &AnomalyEngine{
		env:      env,
		rules:    rules,
		programs: programs,
		history:  make(map[string]*providerHistory),
		lastQ:    make(map[string]float64),
	}, nil
}

// Evaluate runs every rule against the decision record and returns the notes
// to attach. The record is enriched in place with history fields before
// evaluation.
func (e *AnomalyEngine) Evaluate(record map[string]any) []string {
	e.enrich(record)
	input := map[string]any{"decision": record}

	var notes []string
	for _, r := range e.rules {
		out, _, err := e.programs[r.Expr].Eval(input)
		if err != nil {
			notes = append(notes, fmt.Sprintf("ANOMALY RULE ERROR: %s: %v", r.Name, err))
			continue
		}
		fired, ok := out.Value().(bool)
		if !ok {
			notes = append(notes, fmt.Sprintf("ANOMALY RULE ERROR: %s: result not bool", r.Name))
			continue
		}
		if fired {
			notes = append(notes, "ANOMALY: "+r.Name)
		}
	}
	return notes
}

// Observe records a feedback outcome so streak and last-reward fields stay
// current.
func (e *AnomalyEngine) Observe(providerID string, reward float64, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.history[providerID]
	if h == nil {
		h = &providerHistory{}
		e.history[providerID] = h
	}
	h.lastReward = reward
	if success {
		h.lossStreak = 0
		h.everWon = true
	} else {
		h.lossStreak++
	}
}

func (e *AnomalyEngine) enrich(record map[string]any) {
	provider, _ := record["provider"].(string)
	stateKey, _ := record["state_key"].(string)
	q, _ := record["q_value"].(float64)

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.history[provider]
	if h == nil {
		h = &providerHistory{}
	}
	record["reward"] = h.lastReward
	record["loss_streak"] = h.lossStreak
	record["won_before"] = h.everWon

	// Untracked pairs compare against the table's zero default.
	pair := stateKey + "|" + provider
	record["q_delta"] = math.Abs(q - e.lastQ[pair])
	e.lastQ[pair] = q
}
