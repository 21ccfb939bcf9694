// Package engine is the capability dispatch facade: it wires signal
// extraction, scoring, resolution, invocation planning, payload assembly,
// and execution into the two-call API the front end consumes: Dispatch and
// Execute. The engine holds no cross-request state; every dispatch works off
// the immutable registry snapshot it was constructed with.
package engine

import (
	"context"
	"runtime"

	"github.com/jingkaihe/routelet/pkg/assembler"
	"github.com/jingkaihe/routelet/pkg/coordinator"
	"github.com/jingkaihe/routelet/pkg/logger"
	"github.com/jingkaihe/routelet/pkg/policy"
	"github.com/jingkaihe/routelet/pkg/registry"
	"github.com/jingkaihe/routelet/pkg/resolver"
	"github.com/jingkaihe/routelet/pkg/scorer"
	"github.com/jingkaihe/routelet/pkg/signals"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// Options carries every operator-tunable knob of the engine. The original
// material never pins quantitative weights or thresholds; these defaults are
// conservative starting points meant to be tuned via configuration.
type Options struct {
	AgentThreshold      float64
	SkillThreshold      float64
	Epsilon             float64
	SuggestMargin       float64
	ComplexityThreshold int
	MaxChainDepth       int
	MaxRequestBytes     int
	ScoreWorkers        int
	MaxConcurrentSkills int
}

// DefaultOptions returns the default engine tuning
func DefaultOptions() Options {
	return Options{
		AgentThreshold:      0.25,
		SkillThreshold:      0.2,
		Epsilon:             1e-9,
		SuggestMargin:       0.1,
		ComplexityThreshold: 6,
		MaxChainDepth:       assembler.DefaultMaxChainDepth,
		MaxRequestBytes:     assembler.DefaultMaxRequestBytes,
		ScoreWorkers:        runtime.NumCPU(),
		MaxConcurrentSkills: runtime.NumCPU(),
	}
}

// Engine dispatches requests against one registry snapshot
type Engine struct {
	snap    *registry.Snapshot
	opts    Options
	lexicon signals.Lexicon
	// chain carries the parent invocation records for nested dispatch
	chain []dispatchtypes.InvocationRecord
}

// New creates an engine over the given snapshot. The keyword lexicon handed
// to the signal extractor is derived from the snapshot's trigger patterns so
// extraction itself stays registry-agnostic.
func New(snap *registry.Snapshot, opts Options) *Engine {
	return &Engine{
		snap:    snap,
		opts:    opts,
		lexicon: lexiconFrom(snap),
	}
}

// Child returns an engine view carrying the parent invocation chain, so a
// handler's own execution can re-enter dispatch depth-limited.
func (e *Engine) Child(records []dispatchtypes.InvocationRecord) *Engine {
	chain := make([]dispatchtypes.InvocationRecord, len(e.chain), len(e.chain)+len(records))
	copy(chain, e.chain)
	chain = append(chain, records...)

	return &Engine{
		snap:    e.snap,
		opts:    e.opts,
		lexicon: e.lexicon,
		chain:   chain,
	}
}

// Result bundles everything one dispatch produced ahead of execution
type Result struct {
	Request  dispatchtypes.Request
	Signals  dispatchtypes.SignalSet
	Decision dispatchtypes.Decision
	Plan     dispatchtypes.Plan
}

// Confirm clears the confirmation requirement from every Suggested
// invocation. Callers invoke it after the user approved the suggestion;
// unconfirmed invocations are skipped at execution time.
func (r *Result) Confirm() {
	if r.Plan.Agent != nil {
		r.Plan.Agent.Confirm = false
	}
	for i := range r.Plan.Skills {
		r.Plan.Skills[i].Confirm = false
	}
}

// Dispatch resolves a request to zero or more handlers. A proactive request
// no handler clears the threshold for yields a decision with no winner and
// no error; the caller falls back to its generalist path.
func (e *Engine) Dispatch(ctx context.Context, req dispatchtypes.Request, execCtx dispatchtypes.ExecContext) (*Result, error) {
	sig := signals.Extract(req, execCtx, e.lexicon)

	results := scorer.Score(ctx, e.snap, sig, scorer.Options{Workers: e.opts.ScoreWorkers})

	decision, err := resolver.Resolve(e.snap, results, req, resolver.Options{
		AgentThreshold: e.opts.AgentThreshold,
		SkillThreshold: e.opts.SkillThreshold,
		Epsilon:        e.opts.Epsilon,
	})
	if err != nil {
		return nil, err
	}

	complexity := policy.EstimateComplexity(sig)
	plan, err := policy.Plan(e.snap, decision, complexity, policy.Options{
		AgentThreshold:      e.opts.AgentThreshold,
		SuggestMargin:       e.opts.SuggestMargin,
		ComplexityThreshold: e.opts.ComplexityThreshold,
	})
	if err != nil {
		return nil, err
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"dispatch_id": plan.DispatchID,
		"winner":      decision.WinningAgent,
		"skills":      len(decision.ActiveSkills),
		"signals":     sig.Count(),
		"complexity":  complexity,
	}).Debug("dispatch resolved")

	return &Result{
		Request:  req,
		Signals:  sig,
		Decision: decision,
		Plan:     plan,
	}, nil
}

// Execute runs a dispatch result. The winning Agent runs synchronously and
// its failure is returned to the caller; skill failures are logged and
// swallowed. The report carries the append-only invocation records either
// way.
func (e *Engine) Execute(ctx context.Context, res *Result, runners *coordinator.Runners) (coordinator.Report, error) {
	input, err := assembler.Assemble(res.Request, res.Signals, res.Plan, e.chain, assembler.Options{
		MaxChainDepth:   e.opts.MaxChainDepth,
		MaxRequestBytes: e.opts.MaxRequestBytes,
	})
	if err != nil {
		return coordinator.Report{}, err
	}

	if res.Decision.HasWinner() {
		input.Matched = matchedRules(res.Decision.Results, res.Decision.WinningAgent)
	}

	report := coordinator.Execute(ctx, res.Plan, input, runners, coordinator.Options{
		MaxConcurrentSkills: e.opts.MaxConcurrentSkills,
	})

	return report, report.AgentErr
}

// DispatchAndExecute is the one-shot convenience path
func (e *Engine) DispatchAndExecute(ctx context.Context, req dispatchtypes.Request, execCtx dispatchtypes.ExecContext, runners *coordinator.Runners) (*Result, coordinator.Report, error) {
	res, err := e.Dispatch(ctx, req, execCtx)
	if err != nil {
		return nil, coordinator.Report{}, err
	}

	report, err := e.Execute(ctx, res, runners)
	return res, report, err
}

func lexiconFrom(snap *registry.Snapshot) signals.Lexicon {
	var lex signals.Lexicon
	seen := make(map[string]bool)
	for _, desc := range snap.All() {
		for _, rule := range desc.Triggers {
			if rule.Kind != dispatchtypes.TriggerKeyword {
				continue
			}
			normalized := signals.Normalize(rule.Pattern)
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true
			lex.Keywords = append(lex.Keywords, normalized)
		}
	}
	return lex
}

func matchedRules(results []dispatchtypes.MatchResult, id string) []dispatchtypes.RuleMatch {
	for _, r := range results {
		if r.HandlerID == id {
			return r.Matched
		}
	}
	return nil
}
