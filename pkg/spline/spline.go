// Package spline builds the 2D bending curve and evaluates it per height.
//
// The curve maps build height to the lateral position of the bend axis.
// It is a clamped cubic through the two configured anchors with fixed
// boundary slopes, evaluated through an arc-length lookup table so that
// material deposited along the bent path keeps its nominal layer spacing.
package spline

import (
	"math"

	"gonum.org/v1/gonum/interp"

	"bend5x/pkg/errors"
	"bend5x/pkg/log"
)

// Boundary slopes of the bending cubic. The curve leaves the platform
// vertically (slope 0) and reaches the configured end inclination at the
// top anchor. These values are a fixed contract: changing them changes
// every produced artifact.
const (
	DefaultStartSlope = 0.0
	DefaultEndSlope   = 2.5
)

// DefaultDiscretization is the arc-length table step in mm.
const DefaultDiscretization = 0.01

// Config describes a bending curve.
type Config struct {
	// XStart, XEnd are the lateral anchor positions in mm.
	XStart, XEnd float64

	// ZStart, ZEnd are the height anchor positions in mm.
	ZStart, ZEnd float64

	// StartSlope, EndSlope are the clamped boundary derivatives
	// (dX/dZ). Use NewDefault for the standard 0 / 2.5 pair.
	StartSlope, EndSlope float64

	// Discretization is the arc-length table step in mm; zero selects
	// the default 0.01.
	Discretization float64
}

// Sample is one preview point of the evaluated curve.
type Sample struct {
	// Height in mm.
	Height float64

	// LateralOffset is the curve's lateral displacement relative to the
	// start anchor, in mm.
	LateralOffset float64

	// TangentAngle is the local tangent angle in degrees.
	TangentAngle float64
}

// Curve is the evaluated bending profile. Built once per run; read-only.
type Curve struct {
	cubic  interp.PiecewiseCubic
	cfg    Config
	arc    []float64 // cumulative arc length at zStart + i*step
	logger *log.Logger
}

// New fits the bending curve and precomputes its arc-length table.
func New(cfg Config) (*Curve, error) {
	if cfg.ZEnd <= cfg.ZStart {
		return nil, errors.ConfigError("spline_z", "end height %.3f must exceed start height %.3f", cfg.ZEnd, cfg.ZStart)
	}
	if cfg.Discretization == 0 {
		cfg.Discretization = DefaultDiscretization
	}
	if cfg.Discretization < 0 {
		return nil, errors.ConfigError("discretization_length", "must be positive, got %.4f", cfg.Discretization)
	}
	c := &Curve{cfg: cfg, logger: log.GetLogger("spline")}
	xs := []float64{cfg.ZStart, cfg.ZEnd}
	ys := []float64{cfg.XStart, cfg.XEnd}
	dydxs := []float64{cfg.StartSlope, cfg.EndSlope}
	// Anchors are validated above, so the fit cannot panic on its
	// strictly-increasing-xs requirement.
	c.cubic.FitWithDerivatives(xs, ys, dydxs)

	c.buildArcTable()
	return c, nil
}

// NewDefault fits the curve with the standard boundary slopes.
func NewDefault(xStart, xEnd, zStart, zEnd float64) (*Curve, error) {
	return New(Config{
		XStart:     xStart,
		XEnd:       xEnd,
		ZStart:     zStart,
		ZEnd:       zEnd,
		StartSlope: DefaultStartSlope,
		EndSlope:   DefaultEndSlope,
	})
}

// buildArcTable tabulates cumulative curve arc length per discretization
// step, so nominal heights can be re-mapped onto the stretched curve.
func (c *Curve) buildArcTable() {
	step := c.cfg.Discretization
	n := int((c.cfg.ZEnd-c.cfg.ZStart)/step) + 1
	c.arc = make([]float64, 1, n+1)
	c.arc[0] = 0
	prev := c.lateral(c.cfg.ZStart)
	for i := 1; i <= n; i++ {
		h := c.cfg.ZStart + float64(i)*step
		if h > c.cfg.ZEnd {
			break
		}
		cur := c.lateral(h)
		d := cur - prev
		c.arc = append(c.arc, c.arc[len(c.arc)-1]+math.Sqrt(d*d+step*step))
		prev = cur
	}
}

// clamp restricts a query height to the fitted range.
func (c *Curve) clamp(h float64) float64 {
	if h < c.cfg.ZStart {
		return c.cfg.ZStart
	}
	if h > c.cfg.ZEnd {
		return c.cfg.ZEnd
	}
	return h
}

func (c *Curve) lateral(h float64) float64 {
	return c.cubic.Predict(c.clamp(h))
}

func (c *Curve) slope(h float64) float64 {
	return c.cubic.PredictDerivative(c.clamp(h))
}

// HeightFor maps a nominal build height to the curve height whose
// cumulative arc length reaches it. Heights beyond the tabulated curve
// are returned unchanged with a warning; the curve should be configured
// at least as tall as the model.
func (c *Curve) HeightFor(z float64) float64 {
	for i, length := range c.arc {
		if length >= z {
			return c.cfg.ZStart + float64(i)*c.cfg.Discretization
		}
	}
	c.logger.Warn("curve not defined high enough for Z=%.3f", z)
	return z
}

// OffsetAt returns the lateral displacement relative to the start anchor
// at the given curve height.
func (c *Curve) OffsetAt(h float64) float64 {
	return c.lateral(h) - c.cfg.XStart
}

// LateralAt returns the absolute lateral curve position at the given
// curve height.
func (c *Curve) LateralAt(h float64) float64 {
	return c.lateral(h)
}

// AngleAt returns the tangent angle in radians at the given curve height.
func (c *Curve) AngleAt(h float64) float64 {
	return math.Atan(c.slope(h))
}

// AngleDegAt returns the tangent angle in degrees.
func (c *Curve) AngleDegAt(h float64) float64 {
	return c.AngleAt(h) * 180 / math.Pi
}

// ZRange returns the fitted height range.
func (c *Curve) ZRange() (zStart, zEnd float64) {
	return c.cfg.ZStart, c.cfg.ZEnd
}

// XStart returns the lateral start anchor.
func (c *Curve) XStart() float64 {
	return c.cfg.XStart
}

// Samples evaluates the curve at the given height step for preview. The
// result is ordered by strictly increasing height, performs no I/O and
// has no side effects.
func (c *Curve) Samples(step float64) []Sample {
	if step <= 0 {
		step = 1
	}
	var out []Sample
	for h := c.cfg.ZStart; h <= c.cfg.ZEnd; h += step {
		out = append(out, Sample{
			Height:        h,
			LateralOffset: c.OffsetAt(h),
			TangentAngle:  c.AngleDegAt(h),
		})
	}
	return out
}
