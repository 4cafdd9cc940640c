// Package validation defines the issue taxonomy shared by the pipeline
// stages. Issues are aggregated and returned, never thrown mid-stream;
// only Fatal issues stop a stage.
package validation

import (
	"fmt"
)

// Kind classifies a physical-constraint violation.
type Kind int

const (
	// BelowPlatform: the transformed height dropped to or below the
	// build platform.
	BelowPlatform Kind = iota

	// AngleExceeded: the rotary angle magnitude passed the configured
	// warning threshold.
	AngleExceeded

	// SelfIntersection: the bending curve doubles back on itself over
	// the printed height range.
	SelfIntersection

	// ImplausibleMove: the transform produced a height too far from the
	// nominal one; the move was left untransformed.
	ImplausibleMove
)

// String returns the issue kind name.
func (k Kind) String() string {
	switch k {
	case BelowPlatform:
		return "BelowPlatform"
	case AngleExceeded:
		return "AngleExceeded"
	case SelfIntersection:
		return "SelfIntersection"
	case ImplausibleMove:
		return "ImplausibleMove"
	default:
		return "Unknown"
	}
}

// Severity of an issue.
type Severity int

const (
	// Warning issues are reported but do not block artifact production.
	Warning Severity = iota

	// Fatal issues halt the stage; no artifact is produced.
	Fatal
)

// String returns the severity name.
func (s Severity) String() string {
	if s == Fatal {
		return "Fatal"
	}
	return "Warning"
}

// Issue is one detected violation, referencing the offending layer band.
type Issue struct {
	Kind     Kind
	Severity Severity

	// Layer is the offending layer band index.
	Layer int

	// Height is the nominal build height of the band in mm.
	Height float64

	// Detail is a human-readable explanation.
	Detail string
}

// String formats the issue for the process log.
func (i Issue) String() string {
	return fmt.Sprintf("%s/%s layer %d (Z=%.3f mm): %s", i.Severity, i.Kind, i.Layer, i.Height, i.Detail)
}

// Issues is an ordered list of issues for one stage run.
type Issues []Issue

// HasFatal reports whether any issue is fatal.
func (is Issues) HasFatal() bool {
	for _, i := range is {
		if i.Severity == Fatal {
			return true
		}
	}
	return false
}

// Count returns the number of issues of the given kind.
func (is Issues) Count(kind Kind) int {
	n := 0
	for _, i := range is {
		if i.Kind == kind {
			n++
		}
	}
	return n
}
