package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/routelet/pkg/handlers"
	"github.com/jingkaihe/routelet/pkg/registry"
	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

func desc(id string, kind dispatchtypes.Kind, triggers ...dispatchtypes.TriggerRule) *handlers.Descriptor {
	return &handlers.Descriptor{
		ID:                 id,
		Kind:               kind,
		DefaultComputeTier: dispatchtypes.TierFast,
		Exclusive:          kind == dispatchtypes.KindAgent,
		Triggers:           triggers,
	}
}

func trigger(pattern string, weight float64) dispatchtypes.TriggerRule {
	return dispatchtypes.TriggerRule{Kind: dispatchtypes.TriggerKeyword, Pattern: pattern, Weight: weight}
}

func mustSnapshot(t *testing.T, descs ...*handlers.Descriptor) *registry.Snapshot {
	t.Helper()
	snap, err := registry.NewSnapshot(descs...)
	require.NoError(t, err)
	return snap
}

func defaultOptions() Options {
	return Options{AgentThreshold: 0.25, SkillThreshold: 0.2, Epsilon: 1e-9}
}

func TestResolveProactiveWinner(t *testing.T) {
	snap := mustSnapshot(t,
		desc("api-architect", dispatchtypes.KindAgent, trigger("REST API", 5)),
		desc("grpc-expert", dispatchtypes.KindAgent, trigger("gRPC", 6)),
		desc("proto-linter", dispatchtypes.KindSkill, trigger("proto", 2)),
	)
	results := []dispatchtypes.MatchResult{
		{HandlerID: "grpc-expert", Score: 0.55, MatchedWeight: 6, SpecificitySum: 1.7},
		{HandlerID: "api-architect", Score: 0.0},
		{HandlerID: "proto-linter", Score: 0.4, MatchedWeight: 2, SpecificitySum: 1.7},
	}

	decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "grpc-expert", decision.WinningAgent)
	assert.Equal(t, dispatchtypes.ModeProactive, decision.Mode)
	assert.Equal(t, []string{"proto-linter"}, decision.ActiveSkills)
	assert.Equal(t, dispatchtypes.TierFast, decision.ComputeTier)
}

func TestResolveExclusivity(t *testing.T) {
	// multiple agents above threshold still produce exactly one winner
	snap := mustSnapshot(t,
		desc("first", dispatchtypes.KindAgent, trigger("a", 5)),
		desc("second", dispatchtypes.KindAgent, trigger("b", 5)),
		desc("third", dispatchtypes.KindAgent, trigger("c", 5)),
	)
	results := []dispatchtypes.MatchResult{
		{HandlerID: "first", Score: 0.6, SpecificitySum: 1.7},
		{HandlerID: "second", Score: 0.9, SpecificitySum: 1.7},
		{HandlerID: "third", Score: 0.7, SpecificitySum: 1.7},
	}

	decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "second", decision.WinningAgent)
}

func TestResolveNoWinnerIsNotAnError(t *testing.T) {
	snap := mustSnapshot(t, desc("grpc-expert", dispatchtypes.KindAgent, trigger("gRPC", 6)))
	results := []dispatchtypes.MatchResult{{HandlerID: "grpc-expert", Score: 0.0}}

	decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
	require.NoError(t, err)
	assert.False(t, decision.HasWinner())
	assert.Empty(t, decision.ActiveSkills)
}

func TestResolveTieBreaks(t *testing.T) {
	t.Run("higher specificity wins", func(t *testing.T) {
		snap := mustSnapshot(t,
			desc("aa-generic", dispatchtypes.KindAgent, trigger("api", 5)),
			desc("zz-specific", dispatchtypes.KindAgent, trigger("grpc streaming api", 5)),
		)
		results := []dispatchtypes.MatchResult{
			{HandlerID: "aa-generic", Score: 1.0, SpecificitySum: 1.69},
			{HandlerID: "zz-specific", Score: 1.0, SpecificitySum: 2.38},
		}
		decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
		require.NoError(t, err)
		assert.Equal(t, "zz-specific", decision.WinningAgent)
	})

	t.Run("full tie goes to smaller id", func(t *testing.T) {
		snap := mustSnapshot(t,
			desc("bravo", dispatchtypes.KindAgent, trigger("api", 5)),
			desc("alpha", dispatchtypes.KindAgent, trigger("api", 5)),
		)
		results := []dispatchtypes.MatchResult{
			{HandlerID: "bravo", Score: 1.0, SpecificitySum: 1.69},
			{HandlerID: "alpha", Score: 1.0, SpecificitySum: 1.69},
		}
		decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
		require.NoError(t, err)
		assert.Equal(t, "alpha", decision.WinningAgent)
	})

	t.Run("order independent", func(t *testing.T) {
		snap := mustSnapshot(t,
			desc("bravo", dispatchtypes.KindAgent, trigger("api", 5)),
			desc("alpha", dispatchtypes.KindAgent, trigger("api", 5)),
		)
		forward := []dispatchtypes.MatchResult{
			{HandlerID: "alpha", Score: 1.0, SpecificitySum: 1.69},
			{HandlerID: "bravo", Score: 1.0, SpecificitySum: 1.69},
		}
		reversed := []dispatchtypes.MatchResult{forward[1], forward[0]}

		d1, err := Resolve(snap, forward, dispatchtypes.Request{}, defaultOptions())
		require.NoError(t, err)
		d2, err := Resolve(snap, reversed, dispatchtypes.Request{}, defaultOptions())
		require.NoError(t, err)
		assert.Equal(t, d1.WinningAgent, d2.WinningAgent)
	})
}

func TestResolvePerHandlerThreshold(t *testing.T) {
	guardian := desc("react-guardian", dispatchtypes.KindSkill, trigger("react", 5))
	guardian.ActivationThreshold = 4

	snap := mustSnapshot(t, guardian)

	t.Run("matched weight clears threshold", func(t *testing.T) {
		results := []dispatchtypes.MatchResult{
			// low normalized score but enough raw matched weight
			{HandlerID: "react-guardian", Score: 0.1, MatchedWeight: 5},
		}
		decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"react-guardian"}, decision.ActiveSkills)
	})

	t.Run("matched weight below threshold", func(t *testing.T) {
		results := []dispatchtypes.MatchResult{
			{HandlerID: "react-guardian", Score: 0.9, MatchedWeight: 3},
		}
		decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
		require.NoError(t, err)
		assert.Empty(t, decision.ActiveSkills)
	})
}

func TestResolveAllNegatedHandlerNeverWins(t *testing.T) {
	negOnly := desc("nay-sayer", dispatchtypes.KindAgent,
		dispatchtypes.TriggerRule{Kind: dispatchtypes.TriggerKeyword, Pattern: "x", Weight: 5, Negate: true})
	snap := mustSnapshot(t, negOnly)

	results := []dispatchtypes.MatchResult{{HandlerID: "nay-sayer", Score: 1.0, MatchedWeight: 10}}
	decision, err := Resolve(snap, results, dispatchtypes.Request{}, defaultOptions())
	require.NoError(t, err)
	assert.False(t, decision.HasWinner())
}

func TestResolveExplicit(t *testing.T) {
	grpc := desc("grpc-expert", dispatchtypes.KindAgent, trigger("gRPC", 6))
	grpc.DefaultComputeTier = dispatchtypes.TierDeep
	snap := mustSnapshot(t, grpc, desc("api-architect", dispatchtypes.KindAgent, trigger("REST API", 5)))

	t.Run("bypasses scoring", func(t *testing.T) {
		req := dispatchtypes.Request{Text: "totally unrelated", ExplicitHandlerID: "grpc-expert"}
		decision, err := Resolve(snap, nil, req, defaultOptions())
		require.NoError(t, err)
		assert.Equal(t, "grpc-expert", decision.WinningAgent)
		assert.Equal(t, dispatchtypes.ModeExplicit, decision.Mode)
		assert.Equal(t, dispatchtypes.TierDeep, decision.ComputeTier)
	})

	t.Run("unknown id with near suggestions", func(t *testing.T) {
		req := dispatchtypes.Request{ExplicitHandlerID: "grpc-expret"}
		_, err := Resolve(snap, nil, req, defaultOptions())
		require.Error(t, err)

		nsErr, ok := err.(*NoSuchHandlerError)
		require.True(t, ok)
		assert.Equal(t, "grpc-expret", nsErr.ID)
		assert.Equal(t, []string{"grpc-expert"}, nsErr.Suggestions)
		assert.Contains(t, nsErr.Error(), "did you mean")
	})

	t.Run("unknown id with no near ids", func(t *testing.T) {
		req := dispatchtypes.Request{ExplicitHandlerID: "nonexistent-agent"}
		_, err := Resolve(snap, nil, req, defaultOptions())
		require.Error(t, err)

		nsErr, ok := err.(*NoSuchHandlerError)
		require.True(t, ok)
		assert.Empty(t, nsErr.Suggestions)
	})
}

func TestSuggest(t *testing.T) {
	ids := []string{"grpc-expert", "api-architect", "react-guardian", "grpc-export"}

	assert.Equal(t, []string{"grpc-expert", "grpc-export"}, Suggest(ids, "grpc-expret"))
	assert.Empty(t, Suggest(ids, "database-admin"))

	// case insensitive
	assert.Equal(t, []string{"grpc-expert", "grpc-export"}, Suggest(ids, "GRPC-EXPERT"))
}
