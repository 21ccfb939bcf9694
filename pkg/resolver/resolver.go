// Package resolver turns a score table into a dispatch decision: at most one
// winning Agent, any number of passively activated Skills. Resolution is
// order-independent over the input results: ties break on specificity and
// then id, never on arrival order.
package resolver

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/jingkaihe/routelet/pkg/handlers"
	"github.com/jingkaihe/routelet/pkg/registry"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

const (
	// maxSuggestionDistance bounds the edit distance for id suggestions
	maxSuggestionDistance = 2
	maxSuggestions        = 5
)

// Options carries the resolution thresholds. Global thresholds are in
// normalized score units; a per-handler activation_threshold from the
// manifest overrides them and is compared against MatchedWeight in
// declared-weight units instead.
type Options struct {
	AgentThreshold float64
	SkillThreshold float64
	// Epsilon is the score difference below which two handlers tie
	Epsilon float64
}

// NoSuchHandlerError reports an explicit dispatch to an unknown handler id,
// carrying fuzzy-matched suggestions within edit distance 2.
type NoSuchHandlerError struct {
	ID          string
	Suggestions []string
}

func (e *NoSuchHandlerError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("no such handler %q", e.ID)
	}
	return fmt.Sprintf("no such handler %q (did you mean: %s?)", e.ID, strings.Join(e.Suggestions, ", "))
}

// Resolve applies exclusivity and tie-break rules to produce a decision.
// When req.ExplicitHandlerID is set, scoring is bypassed and the target
// handler becomes the sole Agent winner. Otherwise the highest-scoring Agent
// above threshold wins; no winner is a valid "do nothing" decision, not an
// error. Skills activate independently of the Agent outcome.
func Resolve(snap *registry.Snapshot, results []dispatchtypes.MatchResult, req dispatchtypes.Request, opts Options) (dispatchtypes.Decision, error) {
	if req.ExplicitHandlerID != "" {
		return resolveExplicit(snap, results, req.ExplicitHandlerID)
	}

	decision := dispatchtypes.Decision{
		Mode:    dispatchtypes.ModeProactive,
		Results: results,
	}

	byID := make(map[string]dispatchtypes.MatchResult, len(results))
	for _, r := range results {
		byID[r.HandlerID] = r
	}

	var winner *handlers.Descriptor
	var winnerResult dispatchtypes.MatchResult

	for _, desc := range snap.All() {
		result, ok := byID[desc.ID]
		if !ok || !desc.HasPositiveTriggers() {
			continue
		}

		switch desc.Kind {
		case dispatchtypes.KindAgent:
			if !clearsAgentThreshold(desc, result, opts) {
				continue
			}
			if winner == nil || beats(result, winnerResult, opts.Epsilon) {
				winner = desc
				winnerResult = result
			}
		case dispatchtypes.KindSkill:
			if clearsSkillThreshold(desc, result, opts) {
				decision.ActiveSkills = append(decision.ActiveSkills, desc.ID)
			}
		}
	}

	if winner != nil {
		decision.WinningAgent = winner.ID
		decision.ComputeTier = winner.DefaultComputeTier
	}
	sort.Strings(decision.ActiveSkills)

	return decision, nil
}

func resolveExplicit(snap *registry.Snapshot, results []dispatchtypes.MatchResult, id string) (dispatchtypes.Decision, error) {
	desc, ok := snap.Get(id)
	if !ok {
		return dispatchtypes.Decision{}, &NoSuchHandlerError{
			ID:          id,
			Suggestions: Suggest(snap.IDs(), id),
		}
	}

	return dispatchtypes.Decision{
		WinningAgent: desc.ID,
		Mode:         dispatchtypes.ModeExplicit,
		ComputeTier:  desc.DefaultComputeTier,
		Results:      results,
	}, nil
}

func clearsAgentThreshold(desc *handlers.Descriptor, r dispatchtypes.MatchResult, opts Options) bool {
	if desc.ActivationThreshold > 0 {
		return r.MatchedWeight >= desc.ActivationThreshold
	}
	return r.Score > opts.AgentThreshold
}

func clearsSkillThreshold(desc *handlers.Descriptor, r dispatchtypes.MatchResult, opts Options) bool {
	if desc.ActivationThreshold > 0 {
		return r.MatchedWeight >= desc.ActivationThreshold
	}
	return r.Score >= opts.SkillThreshold
}

// beats reports whether candidate strictly beats the current winner. Scores
// within epsilon tie and fall through to (a) higher specificity sum, then
// (b) lexicographically smaller id; the winner was seen first in sorted id
// order, so on a full tie it is kept.
func beats(candidate, current dispatchtypes.MatchResult, epsilon float64) bool {
	diff := candidate.Score - current.Score
	if math.Abs(diff) >= epsilon {
		return diff > 0
	}
	return candidate.SpecificitySum > current.SpecificitySum
}

// Suggest returns known ids within edit distance 2 of the requested id,
// closest first, ties broken alphabetically.
func Suggest(ids []string, target string) []string {
	type scored struct {
		id   string
		dist int
	}
	var candidates []scored
	for _, id := range ids {
		d := levenshtein.ComputeDistance(strings.ToLower(target), strings.ToLower(id))
		if d <= maxSuggestionDistance {
			candidates = append(candidates, scored{id: id, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].id < candidates[j].id
	})

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, c.id)
	}
	return out
}
