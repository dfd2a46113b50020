// Package router composes one decision out of the subsystem parts: sample the
// adaptive signal, featurize the context, screen candidates, apply the policy
// gate, select a provider, dispatch, persist the trace. Feedback closes the
// loop: compute the reward, finalize the trace exactly once, update the value
// table, fold the result into the federation log.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/aurora/pkg/auditor"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/executor"
	"github.com/Mindburn-Labs/aurora/pkg/featurizer"
	"github.com/Mindburn-Labs/aurora/pkg/federation"
	"github.com/Mindburn-Labs/aurora/pkg/fleet"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
	"github.com/Mindburn-Labs/aurora/pkg/policyhost"
	"github.com/Mindburn-Labs/aurora/pkg/reward"
	"github.com/Mindburn-Labs/aurora/pkg/signal"
	"github.com/Mindburn-Labs/aurora/pkg/store"
	"github.com/Mindburn-Labs/aurora/pkg/strategist"
)

// defaultSnapshotEvery is the decision interval between value-table autosaves.
const defaultSnapshotEvery = 10

// recordVersion stamps federation records minted by this engine.
const recordVersion = "1"

// DecideRequest asks for one provider choice. An empty candidate list means
// the whole active fleet. TenantReputation feeds the policy gate's reputation
// floor; ingress binds it from the caller's auth claims.
type DecideRequest struct {
	Tenant           string                    `json:"tenant"`
	Context          contracts.WorkloadContext `json:"context"`
	Candidates       []string                  `json:"candidates,omitempty"`
	Signal           *float64                  `json:"signal,omitempty"`
	TenantReputation int                       `json:"tenant_reputation,omitempty"`
}

// DecideResponse names the chosen provider and carries the dispatch
// acknowledgement. A non-accepted dispatch is still a decision: the caller
// reports what actually happened through Feedback, or reissues under a fresh
// decision id.
type DecideResponse struct {
	DecisionID string                   `json:"decision_id"`
	Provider   string                   `json:"provider"`
	Metadata   contracts.ActionMetadata `json:"metadata"`
	Dispatch   executor.DispatchResult  `json:"dispatch"`
}

// FeedbackRequest reports the observed outcome for one decision.
type FeedbackRequest struct {
	DecisionID string            `json:"decision_id"`
	Outcome    contracts.Outcome `json:"outcome"`
}

// FeedbackResponse carries the computed reward and its term breakdown.
// Replayed marks a response rebuilt from an already-finalized trace.
type FeedbackResponse struct {
	DecisionID  string           `json:"decision_id"`
	Provider    string           `json:"provider"`
	Reward      float64          `json:"reward"`
	Explanation reward.Breakdown `json:"explanation"`
	Replayed    bool             `json:"replayed,omitempty"`
}

// StatusReport aggregates subsystem counters for the status surface.
type StatusReport struct {
	StartedAt     time.Time        `json:"started_at"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Decisions     uint64           `json:"decisions"`
	Feedbacks     uint64           `json:"feedbacks"`
	PolicyRejects uint64           `json:"policy_rejects"`
	NoViable      uint64           `json:"no_viable"`
	StoredTraces  int64            `json:"stored_traces"`
	Strategist    strategist.Stats `json:"strategist"`
	Auditor       auditor.Stats    `json:"auditor"`
	Fleet         fleet.Stats      `json:"fleet"`
	Signal        *signal.Stats    `json:"signal,omitempty"`
}

// Ledger receives one federation record per finalized decision. The memory
// store satisfies it directly; daemons that sign outbound records wrap it.
type Ledger interface {
	Put(ctx context.Context, rec *contracts.MemoryRecord) (memory.PutResult, error)
}

// PolicyGate authorizes one order ahead of selection. *policyhost.Host
// satisfies it.
type PolicyGate interface {
	Authorize(ctx context.Context, order policyhost.Order) (policyhost.Decision, error)
}

// Archiver persists value-table snapshots, returning the content-addressed
// storage key.
type Archiver interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// Engine is the router core. Safe for concurrent use: every mutable collaborator
// synchronizes internally.
type Engine struct {
	store    store.DecisionStore
	strat    *strategist.Strategist
	aud      *auditor.Auditor
	exec     *executor.Executor
	registry *fleet.Registry

	signals       signal.Reader
	policy        PolicyGate
	ledger        Ledger
	sign          func(*contracts.MemoryRecord) error
	archive       Archiver
	snapshotEvery uint64

	log   *slog.Logger
	now   func() time.Time
	newID func() string

	started       time.Time
	decisions     atomic.Uint64
	feedbacks     atomic.Uint64
	policyRejects atomic.Uint64
	noViable      atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithSignals sets the adaptive-signal reader. The default serves the neutral
// fallback reading, so selection runs at base epsilon.
func WithSignals(r signal.Reader) Option {
	return func(e *Engine) {
		if r != nil {
			e.signals = r
		}
	}
}

// WithPolicyGate installs the policy host as a hard gate ahead of selection.
func WithPolicyGate(g PolicyGate) Option {
	return func(e *Engine) { e.policy = g }
}

// WithLedger enables the federation fold for finalized decisions.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithRecordSigner signs each minted federation record before it is stored,
// typically with a keyring's SignRecord.
func WithRecordSigner(sign func(*contracts.MemoryRecord) error) Option {
	return func(e *Engine) { e.sign = sign }
}

// WithArchiver enables value-table autosaves into the given archive.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archive = a }
}

// WithSnapshotEvery sets the decision interval between autosaves.
func WithSnapshotEvery(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.snapshotEvery = uint64(n)
		}
	}
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDSource overrides decision-id generation, typically for deterministic
// tests.
func WithIDSource(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New wires the engine. Store, strategist, auditor, executor, and registry are
// mandatory; the signal reader, policy gate, ledger, and archiver are optional
// collaborators.
func New(st store.DecisionStore, strat *strategist.Strategist, aud *auditor.Auditor, exec *executor.Executor, reg *fleet.Registry, opts ...Option) (*Engine, error) {
	switch {
	case st == nil:
		return nil, fmt.Errorf("%w: decision store required", contracts.ErrInvalidInput)
	case strat == nil:
		return nil, fmt.Errorf("%w: strategist required", contracts.ErrInvalidInput)
	case aud == nil:
		return nil, fmt.Errorf("%w: auditor required", contracts.ErrInvalidInput)
	case exec == nil:
		return nil, fmt.Errorf("%w: executor required", contracts.ErrInvalidInput)
	case reg == nil:
		return nil, fmt.Errorf("%w: provider registry required", contracts.ErrInvalidInput)
	}
	e := &Engine{
		store:         st,
		strat:         strat,
		aud:           aud,
		exec:          exec,
		registry:      reg,
		signals:       signal.Static{Reading: signal.Neutral()},
		snapshotEvery: defaultSnapshotEvery,
		log:           slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.started = e.now().UTC()
	return e, nil
}

// Decide runs the full pipeline for one request. The trace is persisted before
// dispatch; if the caller goes away in between, the trace is marked abandoned
// and refuses feedback. Dispatch rejections and timeouts are not errors here:
// they come back in the response for the caller to report or reissue.
//
// An explicit request signal overrides the sampled scalar; the sampled reading
// still supplies the state-key buckets.
func (e *Engine) Decide(ctx context.Context, req DecideRequest) (DecideResponse, error) {
	if req.Tenant == "" {
		return DecideResponse{}, fmt.Errorf("%w: tenant required", contracts.ErrInvalidInput)
	}
	if req.Context.ResourceHours < 0 {
		return DecideResponse{}, fmt.Errorf("%w: negative resource hours", contracts.ErrInvalidInput)
	}

	decisionID := e.newID()
	reading := e.signals.Read(ctx)

	var featSig *featurizer.Signal
	if !reading.Fallback {
		featSig = &featurizer.Signal{Coherence: reading.Coherence, Density: reading.Density}
	}
	stateKey := featurizer.StateKey(&req.Context, featSig)
	scalar := scalarSignal(req.Signal, reading)

	pool := e.pool(req.Candidates)
	if len(pool) == 0 {
		return DecideResponse{}, e.rejectNoViable(decisionID, stateKey, "no active candidates")
	}

	cands, err := e.aud.Screen(decisionID, stateKey, pool, &req.Context)
	if err != nil {
		return DecideResponse{}, fmt.Errorf("screen candidates: %w", err)
	}
	if len(cands) == 0 {
		return DecideResponse{}, e.rejectNoViable(decisionID, stateKey, "all candidates violate constraints")
	}

	if e.policy != nil {
		if err := e.authorize(ctx, decisionID, stateKey, req); err != nil {
			return DecideResponse{}, err
		}
	}

	ids := make([]string, len(cands))
	statuses := make(map[string]contracts.AuditStatus, len(cands))
	for i, c := range cands {
		ids[i] = c.Provider.ID
		statuses[c.Provider.ID] = c.Status
	}

	provider, meta, err := e.strat.Recommend(stateKey, ids, scalar)
	if err != nil {
		return DecideResponse{}, fmt.Errorf("decision %s: %w", decisionID, err)
	}
	if score, ok := e.registry.HeuristicScore(provider, &req.Context); ok {
		meta.HeuristicScore = score
	}

	trace := &contracts.DecisionTrace{
		DecisionID: decisionID,
		Timestamp:  e.now().UTC(),
		Tenant:     req.Tenant,
		StateKey:   stateKey,
		Action:     provider,
		Metadata:   meta,
		Context:    req.Context,
		Status:     contracts.TracePending,
	}
	if err := e.store.Create(ctx, trace); err != nil {
		return DecideResponse{}, fmt.Errorf("persist decision %s: %w", decisionID, err)
	}
	count := e.decisions.Add(1)

	res, derr := e.exec.Execute(ctx, executor.DispatchRequest{
		DecisionID:    decisionID,
		Provider:      provider,
		Tenant:        req.Tenant,
		Workload:      req.Context.Workload,
		Accelerator:   req.Context.RequestedAccelerator(),
		Region:        req.Context.Region,
		ResourceHours: req.Context.ResourceHours,
	})
	if derr != nil {
		if ctx.Err() != nil {
			e.abandon(ctx, decisionID)
			return DecideResponse{}, fmt.Errorf("decision %s abandoned: %w", decisionID, derr)
		}
		e.log.Warn("dispatch failed",
			"decision_id", decisionID,
			"provider", provider,
			"reason", res.Reason,
			"error", derr)
	}

	if err := e.aud.RecordDecision(decisionID, provider, statuses[provider], meta); err != nil {
		return DecideResponse{}, fmt.Errorf("record decision %s: %w", decisionID, err)
	}

	if e.archive != nil && count%e.snapshotEvery == 0 {
		e.saveSnapshot(ctx)
	}

	e.log.Info("decision",
		"decision_id", decisionID,
		"tenant", req.Tenant,
		"provider", provider,
		"mode", meta.Mode,
		"accepted", res.Accepted)
	return DecideResponse{
		DecisionID: decisionID,
		Provider:   provider,
		Metadata:   meta,
		Dispatch:   res,
	}, nil
}

// Feedback finalizes one decision with its observed outcome. Finalization is a
// compare-and-set on the outcome tail, so exactly one caller wins the reward
// computation; replays get the stored result back together with
// ErrAlreadyFinalized. Abandoned and poisoned traces refuse feedback.
func (e *Engine) Feedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	if req.DecisionID == "" {
		return FeedbackResponse{}, fmt.Errorf("%w: decision id required", contracts.ErrInvalidInput)
	}

	trace, err := e.store.Get(ctx, req.DecisionID)
	if err != nil {
		return FeedbackResponse{}, err
	}
	switch trace.Status {
	case contracts.TraceAbandoned:
		return FeedbackResponse{}, fmt.Errorf("decision %s: %w", req.DecisionID, contracts.ErrAbandoned)
	case contracts.TracePoisoned:
		return FeedbackResponse{}, fmt.Errorf("decision %s: %w", req.DecisionID, contracts.ErrPoisonedReward)
	}
	if trace.Finalized() {
		return priorResult(trace), fmt.Errorf("decision %s: %w", req.DecisionID, contracts.ErrAlreadyFinalized)
	}

	r := reward.Compute(&req.Outcome)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		if merr := e.store.MarkStatus(ctx, req.DecisionID, contracts.TracePoisoned); merr != nil {
			e.log.Error("poison mark failed", "decision_id", req.DecisionID, "error", merr)
		}
		return FeedbackResponse{}, fmt.Errorf("reward for %s: %w", req.DecisionID, contracts.ErrPoisonedReward)
	}

	now := e.now().UTC()
	if err := e.store.Finalize(ctx, req.DecisionID, &req.Outcome, r, now); err != nil {
		if errors.Is(err, contracts.ErrAlreadyFinalized) {
			if prior, gerr := e.store.Get(ctx, req.DecisionID); gerr == nil && prior.Finalized() {
				return priorResult(prior), fmt.Errorf("decision %s: %w", req.DecisionID, contracts.ErrAlreadyFinalized)
			}
		}
		return FeedbackResponse{}, fmt.Errorf("finalize decision %s: %w", req.DecisionID, err)
	}

	if _, uerr := e.strat.Update(trace.StateKey, trace.Action, r, ""); uerr != nil {
		e.log.Error("value update failed", "decision_id", req.DecisionID, "error", uerr)
	}
	e.strat.DecayEpsilon()
	e.aud.ObserveOutcome(trace.Action, r, req.Outcome.Success)
	e.feedbacks.Add(1)

	e.fold(ctx, trace, &req.Outcome, r, now)
	e.saveSnapshot(ctx)

	e.log.Info("feedback",
		"decision_id", req.DecisionID,
		"provider", trace.Action,
		"success", req.Outcome.Success,
		"reward", r)
	return FeedbackResponse{
		DecisionID:  req.DecisionID,
		Provider:    trace.Action,
		Reward:      r,
		Explanation: reward.Explain(&req.Outcome),
	}, nil
}

// Status aggregates subsystem counters.
func (e *Engine) Status(ctx context.Context) (StatusReport, error) {
	stored, err := e.store.Count(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("store count: %w", err)
	}
	report := StatusReport{
		StartedAt:     e.started,
		UptimeSeconds: e.now().UTC().Sub(e.started).Seconds(),
		Decisions:     e.decisions.Load(),
		Feedbacks:     e.feedbacks.Load(),
		PolicyRejects: e.policyRejects.Load(),
		NoViable:      e.noViable.Load(),
		StoredTraces:  stored,
		Strategist:    e.strat.Stats(),
		Auditor:       e.aud.Stats(),
		Fleet:         e.registry.Stats(),
	}
	if src, ok := e.signals.(interface{ Stats() signal.Stats }); ok {
		st := src.Stats()
		report.Signal = &st
	}
	return report, nil
}

// pool resolves candidate ids to registry snapshots. Unknown and inactive ids
// are skipped: a caller may name providers this node has not registered or has
// taken out of rotation.
func (e *Engine) pool(candidates []string) []*contracts.Provider {
	if len(candidates) == 0 {
		return e.registry.Active()
	}
	out := make([]*contracts.Provider, 0, len(candidates))
	for _, id := range candidates {
		p, ok := e.registry.Get(id)
		if !ok || !p.Active {
			e.log.Debug("candidate skipped", "provider", id, "known", ok)
			continue
		}
		out = append(out, &p)
	}
	return out
}

// authorize runs the policy gate. Any deny is terminal regardless of auditor
// mode; module malfunctions deny with the error logged for the operator.
func (e *Engine) authorize(ctx context.Context, decisionID, stateKey string, req DecideRequest) error {
	dec, err := e.policy.Authorize(ctx, policyOrder(decisionID, req))
	if err != nil {
		e.log.Error("policy evaluation failed", "decision_id", decisionID, "error", err)
	}
	if dec.Allow {
		return nil
	}
	e.policyRejects.Add(1)
	if aerr := e.aud.RecordRejection(decisionID, stateKey, "policy: "+dec.Reason); aerr != nil {
		return fmt.Errorf("record rejection %s: %w", decisionID, aerr)
	}
	return fmt.Errorf("decision %s: %w", decisionID, &contracts.PolicyRejectError{Reason: dec.Reason})
}

// rejectNoViable writes the decision's final rejected entry and returns the
// terminal error.
func (e *Engine) rejectNoViable(decisionID, stateKey, note string) error {
	e.noViable.Add(1)
	if err := e.aud.RecordRejection(decisionID, stateKey, note); err != nil {
		return fmt.Errorf("record rejection %s: %w", decisionID, err)
	}
	return fmt.Errorf("decision %s: %w", decisionID, contracts.ErrNoViableProviders)
}

// abandon marks a persisted-but-undispatched trace. The request context is
// already dead here, so the write runs detached from it.
func (e *Engine) abandon(ctx context.Context, decisionID string) {
	if err := e.store.MarkStatus(context.WithoutCancel(ctx), decisionID, contracts.TraceAbandoned); err != nil {
		e.log.Error("abandon mark failed", "decision_id", decisionID, "error", err)
		return
	}
	e.log.Warn("decision abandoned", "decision_id", decisionID)
}

// fold mints one federation record for the finalized decision. Fold failures
// are logged, never unwound: the reward is already durable and peers converge
// on the next sync round.
func (e *Engine) fold(ctx context.Context, trace *contracts.DecisionTrace, out *contracts.Outcome, r float64, at time.Time) {
	if e.ledger == nil {
		return
	}
	rec, err := federation.NewRecord(trace.DecisionID, "decision", "router", recordVersion, at, decisionPayload{
		DecisionID: trace.DecisionID,
		Tenant:     trace.Tenant,
		StateKey:   trace.StateKey,
		Provider:   trace.Action,
		Mode:       trace.Metadata.Mode,
		Success:    out.Success,
		Reward:     r,
	})
	if err != nil {
		e.log.Error("federation record build failed", "decision_id", trace.DecisionID, "error", err)
		return
	}
	if e.sign != nil {
		if err := e.sign(rec); err != nil {
			e.log.Error("federation record signing failed", "decision_id", trace.DecisionID, "error", err)
			return
		}
	}
	if _, err := e.ledger.Put(ctx, rec); err != nil {
		e.log.Error("federation fold failed", "decision_id", trace.DecisionID, "error", err)
	}
}

// saveSnapshot archives the current value table. Best effort: a failed save
// costs replayability, not correctness.
func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.archive == nil {
		return
	}
	data, err := e.strat.Export()
	if err != nil {
		e.log.Error("snapshot export failed", "error", err)
		return
	}
	key, err := e.archive.Put(ctx, data)
	if err != nil {
		e.log.Error("snapshot archive failed", "error", err)
		return
	}
	e.log.Debug("value table archived", "key", key)
}

// decisionPayload is the federation record body for one finalized decision.
type decisionPayload struct {
	DecisionID string                  `json:"decision_id"`
	Tenant     string                  `json:"tenant"`
	StateKey   string                  `json:"state_key"`
	Provider   string                  `json:"provider"`
	Mode       contracts.SelectionMode `json:"mode"`
	Success    bool                    `json:"success"`
	Reward     float64                 `json:"reward"`
}

// policyOrder derives the authorization order for one decision. The decision
// id doubles as the replay nonce.
func policyOrder(decisionID string, req DecideRequest) policyhost.Order {
	return policyhost.Order{
		TenantID:          req.Tenant,
		Region:            req.Context.Region,
		GPUHoursRequested: gpuHours(req.Context.ResourceHours),
		Nonce:             decisionID,
		TenantReputation:  req.TenantReputation,
	}
}

// scalarSignal picks the exploitation-bias scalar: an explicit request value
// wins, then a live reading's psi. A fallback reading yields nil so selection
// runs at base epsilon.
func scalarSignal(explicit *float64, reading signal.Reading) *float64 {
	if explicit != nil {
		v := *explicit
		return &v
	}
	if reading.Fallback {
		return nil
	}
	psi := reading.Psi
	return &psi
}

// gpuHours quantizes requested hours for the quota checks. Partial hours
// consume a whole unit.
func gpuHours(h float64) uint32 {
	if h <= 0 {
		return 0
	}
	return uint32(math.Ceil(h))
}

// priorResult rebuilds the feedback response from a finalized trace.
func priorResult(trace *contracts.DecisionTrace) FeedbackResponse {
	resp := FeedbackResponse{DecisionID: trace.DecisionID, Provider: trace.Action, Replayed: true}
	if trace.Reward != nil {
		resp.Reward = *trace.Reward
	}
	if trace.Outcome != nil {
		resp.Explanation = reward.Explain(trace.Outcome)
	}
	return resp
}

var _ PolicyGate = (*policyhost.Host)(nil)
