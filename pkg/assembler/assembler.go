// Package assembler builds the bounded, serializable payload handed to a
// handler: the original request, the matched signals for explainability, and
// the prior invocation records up the dispatch chain, capped at a maximum
// depth to prevent unbounded recursive dispatch.
package assembler

import (
	"fmt"
	"unicode/utf8"

	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

const (
	// DefaultMaxChainDepth bounds nested dispatch chains
	DefaultMaxChainDepth = 4
	// DefaultMaxRequestBytes bounds the request text carried in the payload
	DefaultMaxRequestBytes = 64 * 1024
)

// Options configures payload assembly
type Options struct {
	MaxChainDepth   int
	MaxRequestBytes int
}

func (o Options) withDefaults() Options {
	if o.MaxChainDepth <= 0 {
		o.MaxChainDepth = DefaultMaxChainDepth
	}
	if o.MaxRequestBytes <= 0 {
		o.MaxRequestBytes = DefaultMaxRequestBytes
	}
	return o
}

// ChainDepthExceededError reports a nested dispatch that would exceed the
// configured chain depth.
type ChainDepthExceededError struct {
	Depth int
	Max   int
}

func (e *ChainDepthExceededError) Error() string {
	return fmt.Sprintf("dispatch chain depth %d exceeds maximum %d", e.Depth, e.Max)
}

// Assemble produces the handler payload for one dispatch. prior carries the
// invocation records up the call chain for chained dispatch; when the chain
// is already at the depth cap, assembly fails instead of recursing further.
func Assemble(req dispatchtypes.Request, sig dispatchtypes.SignalSet, plan dispatchtypes.Plan, prior []dispatchtypes.InvocationRecord, opts Options) (dispatchtypes.HandlerInput, error) {
	opts = opts.withDefaults()

	if len(prior) >= opts.MaxChainDepth {
		return dispatchtypes.HandlerInput{}, &ChainDepthExceededError{Depth: len(prior), Max: opts.MaxChainDepth}
	}

	chain := make([]dispatchtypes.InvocationRecord, len(prior))
	copy(chain, prior)

	bounded := req
	bounded.Text = truncate(req.Text, opts.MaxRequestBytes)

	return dispatchtypes.HandlerInput{
		DispatchID: plan.DispatchID,
		Request:    bounded,
		Signals:    sig,
		Chain:      chain,
	}, nil
}

// truncate cuts text at the byte limit, dropping only a trailing rune the
// cut split in half. Bytes that were invalid before the cut are kept as-is.
func truncate(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}

	cut := text[:maxBytes]
	for trim := 1; trim < utf8.UTFMax && trim <= len(cut); trim++ {
		if !utf8.RuneStart(cut[len(cut)-trim]) {
			continue
		}
		// the last rune start inside the cut: if the full rune in the
		// original text extends past the limit, the cut split it
		if _, size := utf8.DecodeRuneInString(text[maxBytes-trim:]); size > trim {
			cut = cut[:len(cut)-trim]
		}
		break
	}
	return cut
}
