// Package dispatch defines the shared data model of the capability dispatch
// engine: handler kinds, trigger rules, extracted signals, match results,
// dispatch decisions, invocation plans, and the handler invocation contract.
package dispatch

import (
	"context"
	"time"
)

// Kind identifies the handler category. Agents are exclusive (at most one
// wins per dispatch); Skills are passive and any number may activate.
type Kind string

const (
	KindAgent Kind = "agent"
	KindSkill Kind = "skill"
)

// Valid reports whether the kind is a known handler category
func (k Kind) Valid() bool {
	return k == KindAgent || k == KindSkill
}

// TriggerKind identifies which signal category a trigger rule tests
type TriggerKind string

const (
	TriggerKeyword        TriggerKind = "keyword"
	TriggerFilePattern    TriggerKind = "file_pattern"
	TriggerToolUsage      TriggerKind = "tool_usage"
	TriggerImportDetected TriggerKind = "import_detected"
)

// Valid reports whether the trigger kind is known
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerKeyword, TriggerFilePattern, TriggerToolUsage, TriggerImportDetected:
		return true
	}
	return false
}

// ComputeTier is the resource/quality budget assigned to a handler execution
type ComputeTier string

const (
	TierFast ComputeTier = "fast"
	TierDeep ComputeTier = "deep"
)

// Valid reports whether the tier is known
func (t ComputeTier) Valid() bool {
	return t == TierFast || t == TierDeep
}

// Mode is the invocation mode of a planned handler execution. Suggested
// invocations require a caller-visible confirmation before they run.
type Mode string

const (
	ModeExplicit  Mode = "explicit"
	ModeProactive Mode = "proactive"
	ModeSuggested Mode = "suggested"
)

// TriggerRule is a weighted, optionally negated pattern-match condition.
// Weight must be positive; a negated rule subtracts its weight when the
// pattern is present.
type TriggerRule struct {
	Kind    TriggerKind `yaml:"kind" json:"kind"`
	Pattern string      `yaml:"pattern" json:"pattern"`
	Weight  float64     `yaml:"weight" json:"weight"`
	Negate  bool        `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// Request is the raw dispatch input. ExplicitHandlerID, when set, bypasses
// scoring and targets a single handler directly.
type Request struct {
	Text              string `json:"text"`
	ExplicitHandlerID string `json:"explicit_handler_id,omitempty"`
}

// ExecContext carries the execution context a request arrived with: files
// currently being edited, recently invoked tools, and file contents for
// import detection.
type ExecContext struct {
	ActiveFiles  []string          `json:"active_files,omitempty"`
	RecentTools  []string          `json:"recent_tools,omitempty"`
	FileContents map[string]string `json:"file_contents,omitempty"`
}

// SignalCategory classifies an extracted signal
type SignalCategory string

const (
	SignalKeyword SignalCategory = "keyword"
	SignalFile    SignalCategory = "file"
	SignalTool    SignalCategory = "tool"
	SignalImport  SignalCategory = "import"
)

// Span records the byte offsets of the originating substring within its
// source, kept for explainability and audit.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Signal is one normalized piece of evidence extracted from a request or
// its execution context.
type Signal struct {
	Category SignalCategory `json:"category"`
	Value    string         `json:"value"`
	Origin   string         `json:"origin,omitempty"` // file path or "request" for text signals
	Span     Span           `json:"span"`
}

// SignalSet is the normalized evidence extracted from one request
type SignalSet struct {
	Keywords []Signal `json:"keywords,omitempty"`
	Files    []Signal `json:"files,omitempty"`
	Tools    []Signal `json:"tools,omitempty"`
	Imports  []Signal `json:"imports,omitempty"`

	// NormalizedText is the NFKC-folded, lowercased, whitespace-collapsed
	// request text the keyword signals were scanned over.
	NormalizedText string `json:"normalized_text,omitempty"`
	// RawLength is the length of the original request text in runes
	RawLength int `json:"raw_length"`
}

// Empty reports whether the set carries no signals at all
func (s SignalSet) Empty() bool {
	return len(s.Keywords) == 0 && len(s.Files) == 0 && len(s.Tools) == 0 && len(s.Imports) == 0
}

// Count returns the total number of extracted signals
func (s SignalSet) Count() int {
	return len(s.Keywords) + len(s.Files) + len(s.Tools) + len(s.Imports)
}

// RuleMatch records a single trigger rule firing against a signal, with its
// signed score contribution.
type RuleMatch struct {
	Rule         TriggerRule `json:"rule"`
	Signal       Signal      `json:"signal"`
	Contribution float64     `json:"contribution"`
}

// MatchResult is the scorer output for one handler. Score is normalized to
// [-1, 1]; MatchedWeight is the signed sum of the plain declared weights of
// matched rules, the unit per-handler activation thresholds are declared in.
type MatchResult struct {
	HandlerID      string      `json:"handler_id"`
	Score          float64     `json:"score"`
	MatchedWeight  float64     `json:"matched_weight"`
	SpecificitySum float64     `json:"specificity_sum"`
	Matched        []RuleMatch `json:"matched,omitempty"`
}

// Decision is the resolver output: at most one winning Agent, any number of
// passively activated Skills, and the full score table for auditability.
type Decision struct {
	WinningAgent string        `json:"winning_agent,omitempty"`
	ActiveSkills []string      `json:"active_skills,omitempty"`
	Mode         Mode          `json:"mode"`
	ComputeTier  ComputeTier   `json:"compute_tier,omitempty"`
	Results      []MatchResult `json:"results,omitempty"`
}

// HasWinner reports whether an Agent won the dispatch
func (d Decision) HasWinner() bool {
	return d.WinningAgent != ""
}

// Invocation is one planned handler execution
type Invocation struct {
	HandlerID string      `json:"handler_id"`
	Kind      Kind        `json:"kind"`
	Mode      Mode        `json:"mode"`
	Tier      ComputeTier `json:"tier"`
	// Confirm marks a Suggested invocation that must be confirmed by the
	// caller before it runs.
	Confirm bool `json:"confirm,omitempty"`
}

// Plan maps a decision to concrete invocations with modes and compute tiers
type Plan struct {
	DispatchID string       `json:"dispatch_id"`
	Agent      *Invocation  `json:"agent,omitempty"`
	Skills     []Invocation `json:"skills,omitempty"`
}

// Outcome classifies how an invocation finished
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// InvocationRecord is one entry of the append-only audit trail. Records are
// appended in completion order and causally linked via ChainedFrom.
type InvocationRecord struct {
	ID          string      `json:"id"`
	HandlerID   string      `json:"handler_id"`
	Mode        Mode        `json:"mode"`
	Tier        ComputeTier `json:"tier"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Outcome     Outcome     `json:"outcome"`
	Err         string      `json:"error,omitempty"`
	ChainedFrom string      `json:"chained_from,omitempty"`
}

// HandlerInput is the bounded, serializable payload handed to a handler
type HandlerInput struct {
	DispatchID string             `json:"dispatch_id"`
	Request    Request            `json:"request"`
	Signals    SignalSet          `json:"signals"`
	Matched    []RuleMatch        `json:"matched,omitempty"`
	Chain      []InvocationRecord `json:"chain,omitempty"`
	Tier       ComputeTier        `json:"tier"`
}

// HandlerOutput is whatever a handler produced; its content is opaque to
// the engine.
type HandlerOutput struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Runner is the only contract a handler implementation must satisfy
type Runner interface {
	Run(ctx context.Context, input HandlerInput) (HandlerOutput, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, input HandlerInput) (HandlerOutput, error)

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context, input HandlerInput) (HandlerOutput, error) {
	return f(ctx, input)
}
