// Package kinematics maps bent logical coordinates plus rotary angles
// into physical machine coordinates.
//
// The tool tip hangs off the carriage on a two-link arm: link A of
// length La rotates about the carriage X axis, link B of length Lb about
// the A link's end. The A and B values produced by bending are the two
// joint angles in degrees; forward kinematics yields the tip offset that
// the physical X/Y/Z must absorb so the tip traces the logical path.
package kinematics

import (
	"math"

	"bend5x/pkg/errors"
	"bend5x/pkg/gcode"
	"bend5x/pkg/log"
	"bend5x/pkg/validation"
)

// Default link lengths in mm, measured on the production tool head.
const (
	DefaultLa = 28.4
	DefaultLb = 47.7
)

// DefaultJointLimit is the mechanically reachable joint angle magnitude
// in degrees. Angle pairs beyond it have no physical pose.
const DefaultJointLimit = 170.0

// Offset is the tip displacement relative to the carriage reference
// point for a joint angle pair.
type Offset struct {
	X, Y, Z float64
}

// TwoLink is the fixed-geometry arm model.
type TwoLink struct {
	La, Lb float64

	// JointLimit is the reachable angle magnitude in degrees.
	JointLimit float64
}

// NewTwoLink creates the arm model with validation.
func NewTwoLink(la, lb float64) (*TwoLink, error) {
	if la <= 0 || lb <= 0 {
		return nil, errors.ConfigError("linkage", "link lengths must be positive, got La=%.2f Lb=%.2f", la, lb)
	}
	return &TwoLink{La: la, Lb: lb, JointLimit: DefaultJointLimit}, nil
}

// TipOffset computes forward kinematics for the joint angles in degrees.
// At A=B=0 the offset is exactly zero: the arm hangs straight down and
// the tip coincides with the carriage reference.
func (k *TwoLink) TipOffset(aDeg, bDeg float64) Offset {
	a := aDeg * math.Pi / 180
	b := bDeg * math.Pi / 180
	sinA, cosA := math.Sincos(a)
	sinB, cosB := math.Sincos(b)
	return Offset{
		X: sinA*k.La + cosA*sinB*k.Lb,
		Y: -k.La + cosA*k.La - sinA*sinB*k.Lb,
		Z: cosB*k.Lb - k.Lb,
	}
}

// Reachable reports whether the joint angle pair has a finite physical
// pose within the arm's mechanical range.
func (k *TwoLink) Reachable(aDeg, bDeg float64) bool {
	if math.IsNaN(aDeg) || math.IsInf(aDeg, 0) || math.IsNaN(bDeg) || math.IsInf(bDeg, 0) {
		return false
	}
	return math.Abs(aDeg) <= k.JointLimit && math.Abs(bDeg) <= k.JointLimit
}

// Result is the output of one translation run.
type Result struct {
	Lines  []gcode.Line
	Issues validation.Issues

	// Shift is the workspace translation applied to every move.
	Shift Offset
}

// Translator applies the arm model to a whole program.
type Translator struct {
	model       *TwoLink
	layerHeight float64
	logger      *log.Logger
}

// NewTranslator creates a translator for the given arm model. The layer
// height is only used to attribute issues to a layer band; zero disables
// band attribution.
func NewTranslator(model *TwoLink, layerHeight float64) *Translator {
	return &Translator{
		model:       model,
		layerHeight: layerHeight,
		logger:      log.GetLogger("kinematics"),
	}
}

// band maps a height to its layer band index.
func (t *Translator) band(z float64) int {
	if t.layerHeight <= 0 {
		return 0
	}
	return int(math.Floor(z/t.layerHeight + 1e-9))
}

// Translate maps every move into the physical frame. E and F pass
// through unchanged; A and B are retained on the move for the emitter.
//
// The workspace translation is chosen once from the full file: after
// forward kinematics the per-axis minimum of all physical coordinates is
// computed and the whole program is shifted so the minimum lands exactly
// at zero. This guarantees no negative physical coordinate without
// per-move clamping (which would silently distort geometry).
//
// An unreachable angle pair is a fatal issue: translation stops and no
// output is produced.
func (t *Translator) Translate(lines []gcode.Line) (*Result, error) {
	type pending struct {
		line             int // index into lines
		x, y, z          float64
		hasX, hasY, hasZ bool
	}

	var (
		moves            []pending
		minX, minY, minZ float64
		curZ             float64
	)

	// Pass 1: forward kinematics, collecting the per-axis minima.
	for idx, line := range lines {
		m := line.Move
		if m == nil {
			continue
		}
		if m.Kind != gcode.KindRapid && m.Kind != gcode.KindLinear {
			continue
		}
		if m.Z.Set {
			curZ = m.Z.Value
		}
		a, b := m.A.Value, m.B.Value
		if !t.model.Reachable(a, b) {
			issue := validation.Issue{
				Kind:     validation.AngleExceeded,
				Severity: validation.Fatal,
				Layer:    t.band(curZ),
				Height:   curZ,
				Detail:   "joint angles A=" + gcode.FormatFloat(a, 3) + " B=" + gcode.FormatFloat(b, 3) + " have no reachable pose",
			}
			t.logger.WithField("line", line.Num).Error("%s", issue.String())
			return &Result{Issues: validation.Issues{issue}},
				errors.New(errors.ErrKinematics, "unreachable joint angles on line %d", line.Num).WithLine(line.Num)
		}
		off := t.model.TipOffset(a, b)
		p := pending{line: idx}
		if m.X.Set {
			p.x, p.hasX = m.X.Value+off.X, true
			minX = math.Min(minX, p.x)
		}
		if m.Y.Set {
			p.y, p.hasY = m.Y.Value+off.Y, true
			minY = math.Min(minY, p.y)
		}
		if m.Z.Set {
			p.z, p.hasZ = m.Z.Value+off.Z, true
			minZ = math.Min(minZ, p.z)
		}
		moves = append(moves, p)
	}

	// The shift only ever raises coordinates; a file already inside the
	// workspace is left exactly where it was (identity kinematics).
	shift := Offset{
		X: math.Max(0, -minX),
		Y: math.Max(0, -minY),
		Z: math.Max(0, -minZ),
	}

	// Pass 2: rewrite moves with the translation applied.
	out := make([]gcode.Line, len(lines))
	copy(out, lines)
	for _, p := range moves {
		src := lines[p.line]
		m := src.Move.Edited()
		if p.hasX {
			m.X = gcode.P(p.x + shift.X)
		}
		if p.hasY {
			m.Y = gcode.P(p.y + shift.Y)
		}
		if p.hasZ {
			m.Z = gcode.P(p.z + shift.Z)
		}
		out[p.line] = gcode.Line{Move: m, Num: src.Num}
	}

	if shift != (Offset{}) {
		t.logger.Info("workspace translation applied: X+%.3f Y+%.3f Z+%.3f", shift.X, shift.Y, shift.Z)
	}
	return &Result{Lines: out, Shift: shift}, nil
}
