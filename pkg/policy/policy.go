// Package policy maps a dispatch decision to an invocation plan: which mode
// each winning handler runs under and how much compute it gets. Keeping this
// separate from resolution makes "which handler" and "how much compute"
// independently testable.
package policy

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jingkaihe/routelet/pkg/registry"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// Options carries the planning thresholds
type Options struct {
	// AgentThreshold mirrors the resolver's global agent threshold; winners
	// whose score sits within SuggestMargin above it are only Suggested and
	// require caller confirmation.
	AgentThreshold float64
	SuggestMargin  float64
	// ComplexityThreshold is the complexity score above which a handler's
	// default tier escalates to Deep.
	ComplexityThreshold int
}

// multiStepMarkers are request phrases hinting at multi-step work
var multiStepMarkers = []string{
	"step", "plan", "migrate", "refactor", "and then", "pipeline", "end-to-end", "rollout",
}

// EstimateComplexity is a simple request complexity heuristic: signal count,
// request length, and presence of multi-step keywords.
func EstimateComplexity(sig dispatchtypes.SignalSet) int {
	score := sig.Count()

	// one point per ~160 runes of request text, capped
	lengthScore := sig.RawLength / 160
	if lengthScore > 4 {
		lengthScore = 4
	}
	score += lengthScore

	for _, marker := range multiStepMarkers {
		if strings.Contains(sig.NormalizedText, marker) {
			score += 3
			break
		}
	}

	return score
}

// Plan maps the decision to concrete invocations. Explicit winners keep
// ModeExplicit; proactive winners whose score clears the threshold with
// margin run ModeProactive, otherwise ModeSuggested with a confirmation
// requirement. Tiers start from each handler's default and escalate to Deep
// when the request complexity exceeds the configured threshold.
func Plan(snap *registry.Snapshot, decision dispatchtypes.Decision, complexity int, opts Options) (dispatchtypes.Plan, error) {
	plan := dispatchtypes.Plan{DispatchID: uuid.NewString()}
	escalate := complexity > opts.ComplexityThreshold

	if decision.HasWinner() {
		desc, ok := snap.Get(decision.WinningAgent)
		if !ok {
			return dispatchtypes.Plan{}, errors.Errorf("winning handler %q not in registry snapshot", decision.WinningAgent)
		}

		mode := dispatchtypes.ModeExplicit
		confirm := false
		if decision.Mode != dispatchtypes.ModeExplicit {
			mode = dispatchtypes.ModeProactive
			if score, found := scoreOf(decision.Results, desc.ID); found && score < opts.AgentThreshold+opts.SuggestMargin {
				mode = dispatchtypes.ModeSuggested
				confirm = true
			}
		}

		plan.Agent = &dispatchtypes.Invocation{
			HandlerID: desc.ID,
			Kind:      desc.Kind,
			Mode:      mode,
			Tier:      tierFor(desc.DefaultComputeTier, escalate),
			Confirm:   confirm,
		}
	}

	for _, id := range decision.ActiveSkills {
		desc, ok := snap.Get(id)
		if !ok {
			return dispatchtypes.Plan{}, errors.Errorf("active skill %q not in registry snapshot", id)
		}
		plan.Skills = append(plan.Skills, dispatchtypes.Invocation{
			HandlerID: desc.ID,
			Kind:      desc.Kind,
			Mode:      dispatchtypes.ModeProactive,
			Tier:      tierFor(desc.DefaultComputeTier, escalate),
		})
	}

	return plan, nil
}

func scoreOf(results []dispatchtypes.MatchResult, id string) (float64, bool) {
	for _, r := range results {
		if r.HandlerID == id {
			return r.Score, true
		}
	}
	return 0, false
}

func tierFor(base dispatchtypes.ComputeTier, escalate bool) dispatchtypes.ComputeTier {
	if escalate {
		return dispatchtypes.TierDeep
	}
	return base
}
