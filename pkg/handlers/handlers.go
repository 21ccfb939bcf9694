// Package handlers defines handler descriptors and loads them from HANDLER.md
// manifest files. A handler is a unit of capability packaged as a directory
// containing a HANDLER.md with YAML frontmatter (id, kind, triggers, tags,
// compute tier) followed by an opaque markdown body.
package handlers

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	dispatchtypes "github.com/jingkaihe/routelet/pkg/types/dispatch"
)

// maxTriggerWeight bounds a single trigger's declared weight
const maxTriggerWeight = 100

// Descriptor is an immutable handler description loaded from a manifest.
// Doc is the human documentation string, deliberately separate from the
// machine-parsable trigger rules.
type Descriptor struct {
	ID                  string
	Kind                dispatchtypes.Kind
	Doc                 string
	Triggers            []dispatchtypes.TriggerRule
	CapabilityTags      []string
	DefaultComputeTier  dispatchtypes.ComputeTier
	Exclusive           bool
	ActivationThreshold float64 // declared-weight units; 0 means unset
	Body                string  // opaque handler content, never interpreted
	Path                string  // manifest file the descriptor was loaded from
}

// ValidationError reports a single invalid manifest field
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validate checks descriptor invariants: known kind and tier, at least one
// trigger, positive bounded weights, and compilable file patterns.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "name", Msg: "handler name is required"}
	}
	if !d.Kind.Valid() {
		return &ValidationError{Field: "kind", Msg: fmt.Sprintf("unknown handler kind %q", d.Kind)}
	}
	if !d.DefaultComputeTier.Valid() {
		return &ValidationError{Field: "compute_tier", Msg: fmt.Sprintf("unknown compute tier %q", d.DefaultComputeTier)}
	}
	if len(d.Triggers) == 0 {
		return &ValidationError{Field: "triggers", Msg: "at least one trigger is required"}
	}
	if d.ActivationThreshold < 0 {
		return &ValidationError{Field: "activation_threshold", Msg: "activation threshold must not be negative"}
	}
	for i, rule := range d.Triggers {
		field := fmt.Sprintf("triggers[%d]", i)
		if !rule.Kind.Valid() {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("unknown trigger kind %q", rule.Kind)}
		}
		if rule.Pattern == "" {
			return &ValidationError{Field: field, Msg: "trigger pattern is required"}
		}
		if rule.Weight <= 0 || rule.Weight > maxTriggerWeight {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("trigger weight %g out of range (0, %d]", rule.Weight, maxTriggerWeight)}
		}
		if rule.Kind == dispatchtypes.TriggerFilePattern {
			if !doublestar.ValidatePattern(rule.Pattern) {
				return &ValidationError{Field: field, Msg: fmt.Sprintf("invalid file pattern %q", rule.Pattern)}
			}
		}
	}
	return nil
}

// PositiveWeight returns the sum of the handler's non-negated trigger weights
func (d *Descriptor) PositiveWeight() float64 {
	var total float64
	for _, rule := range d.Triggers {
		if !rule.Negate {
			total += rule.Weight
		}
	}
	return total
}

// HasPositiveTriggers reports whether the handler declares any non-negated
// trigger. A handler without one can never win a dispatch.
func (d *Descriptor) HasPositiveTriggers() bool {
	for _, rule := range d.Triggers {
		if !rule.Negate {
			return true
		}
	}
	return false
}
