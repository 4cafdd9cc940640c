// Package bend applies the bending curve to a flat 3-axis program.
//
// Moves are grouped into layer frames by height band; each band is
// evaluated once on the curve and every move in the band is displaced
// along the curve normal, assigned the band's rotary angle, and has its
// extrusion rescaled by the segment length change. The transform is
// deterministic and pure: identical inputs produce identical outputs and
// issue lists.
package bend

import (
	"context"
	"math"
	"sort"

	"bend5x/pkg/errors"
	"bend5x/pkg/gcode"
	"bend5x/pkg/log"
	"bend5x/pkg/spline"
	"bend5x/pkg/validation"
)

// maxHeightDeviation is the plausibility bound in mm: a bent height this
// far from the nominal one marks the move implausible and leaves it
// untransformed.
const maxHeightDeviation = 50.0

// LayerFrame aggregates the moves of one height band together with the
// band's curve evaluation.
type LayerFrame struct {
	// Index is the band index (nominal height / layer height).
	Index int

	// Height is the band's representative nominal height in mm.
	Height float64

	// CurveHeight is the arc-length-corrected height on the curve.
	CurveHeight float64

	// AngleDeg is the rotary angle assigned to the band, degrees.
	AngleDeg float64

	// Offset is the band's lateral displacement relative to the curve's
	// start anchor, in mm.
	Offset float64

	// Moves is the number of motion commands transformed in the band.
	Moves int

	// ExtrusionFactor is the cumulative extrusion correction applied in
	// the band (mean of per-segment factors).
	ExtrusionFactor float64

	factorSum float64

	belowPlatform bool
	implausible   int
}

// Result is the output of one bending run.
type Result struct {
	Lines  []gcode.Line
	Frames []*LayerFrame
	Issues validation.Issues
}

// Engine bends programs along a fixed curve with fixed parameters.
type Engine struct {
	curve        *spline.Curve
	layerHeight  float64
	warningAngle float64
	logger       *log.Logger
	notify       func(validation.Issue)
}

// NewEngine creates a bending engine.
func NewEngine(curve *spline.Curve, layerHeight, warningAngle float64) (*Engine, error) {
	if curve == nil {
		return nil, errors.ConfigError("spline", "bending curve is required")
	}
	if layerHeight <= 0 {
		return nil, errors.ConfigError("layer_height", "must be positive, got %.4f", layerHeight)
	}
	if warningAngle <= 0 {
		return nil, errors.ConfigError("warning_angle", "must be positive, got %.2f", warningAngle)
	}
	return &Engine{
		curve:        curve,
		layerHeight:  layerHeight,
		warningAngle: warningAngle,
		logger:       log.GetLogger("bend"),
	}, nil
}

// Notify registers a callback invoked for each validation issue as it is
// found, before the run finishes. Per-band findings fire when their band
// closes; curve-wide findings fire once the whole program is seen.
func (e *Engine) Notify(fn func(validation.Issue)) {
	e.notify = fn
}

// Bend transforms the program. The returned error is non-nil only when
// the context is canceled between layer bands; validation findings are
// collected in Result.Issues instead.
func (e *Engine) Bend(ctx context.Context, lines []gcode.Line) (*Result, error) {
	res := &Result{Lines: make([]gcode.Line, 0, len(lines))}

	var (
		frame      *LayerFrame
		lastX      float64
		lastY      float64
		curZ       float64
		havePrev   bool
		prevOld    [3]float64
		prevNew    [3]float64
		haveMotion bool
	)

	for _, line := range lines {
		m := line.Move
		if m == nil {
			res.Lines = append(res.Lines, line)
			continue
		}

		switch m.Kind {
		case gcode.KindRelative:
			// Motion was normalized to absolute at parse time; the mode
			// directive is realized as absolute in the output so the
			// artifact stays an independently valid program.
			res.Lines = append(res.Lines, gcode.Line{
				Move: &gcode.Move{Kind: gcode.KindAbsolute, Comment: m.Comment},
				Num:  line.Num,
			})
			continue
		case gcode.KindHome:
			lastX, lastY, curZ = 0, 0, 0
			havePrev = false
			res.Lines = append(res.Lines, line)
			continue
		case gcode.KindAbsolute, gcode.KindSetOrigin:
			if m.Kind == gcode.KindSetOrigin {
				lastX, lastY, curZ = m.Position(lastX, lastY, curZ)
			}
			res.Lines = append(res.Lines, line)
			continue
		}

		// G0/G1 from here on.
		if m.Z.Set {
			curZ = m.Z.Value
		}

		band := int(math.Floor(curZ/e.layerHeight + 1e-9))
		if frame == nil || frame.Index != band {
			// Cooperative cancellation between layer-band iterations.
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.ErrStageCanceled, "bending canceled at layer %d", band)
			}
			if frame != nil {
				e.emit(res, e.frameIssues(frame))
			}
			frame = e.newFrame(band, curZ)
			res.Frames = append(res.Frames, frame)
		}

		switch {
		case m.X.Set && m.Y.Set:
			x, y := m.X.Value, m.Y.Value
			r := x - e.curve.XStart()
			theta := frame.AngleDeg * math.Pi / 180
			newX := e.curve.LateralAt(frame.CurveHeight) + r*math.Cos(theta)
			newZ := frame.CurveHeight - r*math.Sin(theta)

			if newZ <= 0 {
				frame.belowPlatform = true
			}
			if newZ < 0 || math.Abs(newZ-curZ) > maxHeightDeviation {
				frame.implausible++
				e.logger.WithField("layer", band).Warn("implausible move at Z=%.3f mm, left untransformed", curZ)
				res.Lines = append(res.Lines, line)
				lastX, lastY = x, y
				havePrev = false
				haveMotion = true
				continue
			}

			out := m.Edited()
			out.X = gcode.P(newX)
			out.Z = gcode.P(newZ)
			out.A = gcode.P(0)
			out.B = gcode.P(frame.AngleDeg)

			factor := 1.0
			if havePrev {
				oldLen := dist3(prevOld, [3]float64{x, y, curZ})
				newLen := dist3(prevNew, [3]float64{newX, y, newZ})
				if oldLen > 0 {
					factor = newLen / oldLen
				}
			}
			if m.E.Set {
				out.E = gcode.P(m.E.Value * factor)
			}

			frame.Moves++
			frame.factorSum += factor
			frame.ExtrusionFactor = frame.factorSum / float64(frame.Moves)

			res.Lines = append(res.Lines, gcode.Line{Move: out, Num: line.Num})

			lastX, lastY = x, y
			prevOld = [3]float64{x, y, curZ}
			prevNew = [3]float64{newX, y, newZ}
			havePrev = true
			haveMotion = true

		case m.Z.Set:
			// Bare-Z travel (layer change): the height is re-mapped onto
			// the curve at the bend anchor; no lateral displacement is
			// involved.
			out := m.Edited()
			out.Z = gcode.P(frame.CurveHeight)
			res.Lines = append(res.Lines, gcode.Line{Move: out, Num: line.Num})
			havePrev = false
			haveMotion = true

		default:
			// Feed-only or extrusion-only (retraction) moves carry no
			// position to bend.
			res.Lines = append(res.Lines, line)
		}
	}

	if frame != nil {
		e.emit(res, e.frameIssues(frame))
	}
	e.emit(res, e.monotonicityIssues(res.Frames))
	if !haveMotion {
		e.logger.Debug("no motion commands found")
	}
	return res, nil
}

// emit records issues on the result, logs them and feeds the Notify
// callback.
func (e *Engine) emit(res *Result, issues validation.Issues) {
	for _, i := range issues {
		e.logger.WithField("layer", i.Layer).Warn("%s", i.String())
		if e.notify != nil {
			e.notify(i)
		}
	}
	res.Issues = append(res.Issues, issues...)
}

// newFrame evaluates the curve for a band.
func (e *Engine) newFrame(band int, z float64) *LayerFrame {
	s := e.curve.HeightFor(z)
	return &LayerFrame{
		Index:       band,
		Height:      z,
		CurveHeight: s,
		AngleDeg:    e.curve.AngleDegAt(s),
		Offset:      e.curve.OffsetAt(s),
	}
}

// validate runs the three independent checks over finished frames and
// collects every triggered issue, not just the first.
func (e *Engine) validate(frames []*LayerFrame) validation.Issues {
	var issues validation.Issues
	issues = append(issues, e.monotonicityIssues(frames)...)
	for _, f := range frames {
		issues = append(issues, e.frameIssues(f)...)
	}
	return issues
}

// monotonicityIssues flags lateral-offset reversals. Monotonicity is a
// property of the curve over strictly increasing height, not of the
// order bands are visited in: z-hops and ironing revisit lower bands
// after higher ones, so the frames are put in height order first.
func (e *Engine) monotonicityIssues(frames []*LayerFrame) validation.Issues {
	ordered := make([]*LayerFrame, len(frames))
	copy(ordered, frames)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Height < ordered[j].Height })

	var issues validation.Issues

	// Direction of the lateral offset: 0 until established, then +1/-1.
	dir := 0
	var prev *LayerFrame
	for _, f := range ordered {
		if prev != nil && f.Height > prev.Height {
			d := f.Offset - prev.Offset
			switch {
			case d == 0:
				// Flat runs are allowed in a monotone profile.
			case dir == 0:
				if d > 0 {
					dir = 1
				} else {
					dir = -1
				}
			case (d > 0) != (dir > 0):
				issues = append(issues, validation.Issue{
					Kind:     validation.SelfIntersection,
					Severity: validation.Warning,
					Layer:    f.Index,
					Height:   f.Height,
					Detail:   "bending curve doubles back on itself",
				})
			}
		}
		prev = f
	}
	return issues
}

// frameIssues runs the per-band checks on one finished frame.
func (e *Engine) frameIssues(f *LayerFrame) validation.Issues {
	var issues validation.Issues
	if f.belowPlatform {
		issues = append(issues, validation.Issue{
			Kind:     validation.BelowPlatform,
			Severity: validation.Warning,
			Layer:    f.Index,
			Height:   f.Height,
			Detail:   "movement below build platform, check the curve",
		})
	}
	if math.Abs(f.AngleDeg) > e.warningAngle {
		issues = append(issues, validation.Issue{
			Kind:     validation.AngleExceeded,
			Severity: validation.Warning,
			Layer:    f.Index,
			Height:   f.Height,
			Detail:   "curve angle " + gcode.FormatFloat(f.AngleDeg, 2) + " deg exceeds warning threshold",
		})
	}
	if f.implausible > 0 {
		issues = append(issues, validation.Issue{
			Kind:     validation.ImplausibleMove,
			Severity: validation.Warning,
			Layer:    f.Index,
			Height:   f.Height,
			Detail:   "moves left untransformed as implausible",
		})
	}
	return issues
}

func dist3(a, b [3]float64) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	dz := b[2] - a[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
