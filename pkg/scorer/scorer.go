// Package scorer computes per-handler match scores from trigger rules
// against an extracted SignalSet. Scoring is embarrassingly parallel across
// handlers: the registry snapshot is read-only and every result slot is
// owned by exactly one worker.
package scorer

import (
	"context"
	"math"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/routelet/pkg/handlers"
	"github.com/jingkaihe/routelet/pkg/registry"
	"github.com/jingkaihe/routelet/pkg/signals"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// Options configures scoring
type Options struct {
	// Workers bounds the scoring worker pool; defaults to NumCPU
	Workers int
}

// Score computes one MatchResult per registered handler, including zero and
// negative scores; filtering is the resolver's job, which keeps the full
// score table auditable. Results are ordered by handler id and deterministic
// for a fixed (snapshot, signal set) pair.
func Score(ctx context.Context, snap *registry.Snapshot, sig dispatchtypes.SignalSet, opts Options) []dispatchtypes.MatchResult {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	descs := snap.All()
	results := make([]dispatchtypes.MatchResult, len(descs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, desc := range descs {
		i, desc := i, desc
		g.Go(func() error {
			results[i] = scoreHandler(desc, sig)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return results
}

// Specificity is a monotonically increasing function of a pattern's token
// count, so a rule matching "gRPC bidirectional streaming" outweighs a
// generic rule matching "API".
func Specificity(pattern string) float64 {
	tokens := len(strings.Fields(pattern))
	return 1 + math.Log(1+float64(tokens))
}

func scoreHandler(desc *handlers.Descriptor, sig dispatchtypes.SignalSet) dispatchtypes.MatchResult {
	result := dispatchtypes.MatchResult{HandlerID: desc.ID}

	// Normalization denominator: the handler's total specificity-weighted
	// positive declared weight. Bounds any verbose handler's score to 1.
	var denom float64
	for _, rule := range desc.Triggers {
		if !rule.Negate {
			denom += rule.Weight * Specificity(rule.Pattern)
		}
	}

	var contribution float64
	for _, rule := range desc.Triggers {
		matchedSignal, ok := matchRule(rule, sig)
		if !ok {
			continue
		}

		var c float64
		if rule.Negate {
			c = -rule.Weight
			result.MatchedWeight -= rule.Weight
		} else {
			spec := Specificity(rule.Pattern)
			c = rule.Weight * spec
			result.MatchedWeight += rule.Weight
			result.SpecificitySum += spec
		}
		contribution += c
		result.Matched = append(result.Matched, dispatchtypes.RuleMatch{
			Rule:         rule,
			Signal:       matchedSignal,
			Contribution: c,
		})
	}

	if denom > 0 {
		result.Score = clamp(contribution/denom, -1, 1)
	}
	return result
}

// matchRule tests whether the rule's pattern is present in the relevant
// signal category, returning the first matching signal for explainability.
func matchRule(rule dispatchtypes.TriggerRule, sig dispatchtypes.SignalSet) (dispatchtypes.Signal, bool) {
	switch rule.Kind {
	case dispatchtypes.TriggerKeyword:
		normalized := signals.Normalize(rule.Pattern)
		if normalized == "" {
			return dispatchtypes.Signal{}, false
		}
		for _, s := range sig.Keywords {
			if s.Value == normalized {
				return s, true
			}
		}
		// Fallback substring scan keeps the scorer usable with signal sets
		// extracted without a lexicon.
		if idx := strings.Index(sig.NormalizedText, normalized); idx >= 0 {
			return dispatchtypes.Signal{
				Category: dispatchtypes.SignalKeyword,
				Value:    normalized,
				Origin:   "request",
				Span:     dispatchtypes.Span{Start: idx, End: idx + len(normalized)},
			}, true
		}
	case dispatchtypes.TriggerFilePattern:
		for _, s := range sig.Files {
			if ok, err := doublestar.Match(rule.Pattern, toSlash(s.Value)); err == nil && ok {
				return s, true
			}
			// A bare glob like "*.proto" should also match nested paths
			if ok, err := doublestar.Match(rule.Pattern, baseName(s.Value)); err == nil && ok {
				return s, true
			}
		}
	case dispatchtypes.TriggerToolUsage:
		want := strings.ToLower(strings.TrimSpace(rule.Pattern))
		for _, s := range sig.Tools {
			if s.Value == want {
				return s, true
			}
		}
	case dispatchtypes.TriggerImportDetected:
		want := strings.ToLower(strings.TrimSpace(rule.Pattern))
		if want == "" {
			return dispatchtypes.Signal{}, false
		}
		for _, s := range sig.Imports {
			if strings.Contains(s.Value, want) {
				return s, true
			}
		}
	}
	return dispatchtypes.Signal{}, false
}

func toSlash(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

func baseName(path string) string {
	slashed := toSlash(path)
	if idx := strings.LastIndex(slashed, "/"); idx >= 0 {
		return slashed[idx+1:]
	}
	return slashed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
