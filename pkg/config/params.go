package config

import (
	"bend5x/pkg/errors"
)

// Production machine defaults. The spline anchors and linkage lengths
// are measured properties of the shipped tool head and bend fixture.
const (
	DefaultXStart = 115.5
	DefaultXEnd   = 205.5
	DefaultZStart = 0.0
	DefaultZEnd   = 100.0

	DefaultStartSlope     = 0.0
	DefaultEndSlope       = 2.5
	DefaultDiscretization = 0.01

	DefaultLayerHeight  = 0.28
	DefaultWarningAngle = 100.0

	DefaultLa         = 28.4
	DefaultLb         = 47.7
	DefaultJointLimit = 170.0

	DefaultMoonrakerURL = "http://localhost:7125"
)

// Params is the validated, immutable parameter record for one pipeline
// run. It is constructed once at the boundary; stages receive values,
// never the raw config file.
type Params struct {
	// Spline curve anchors and shape, mm and unitless slopes.
	SplineXStart, SplineXEnd float64
	SplineZStart, SplineZEnd float64
	StartSlope, EndSlope     float64

	// Discretization is the arc-length table step in mm.
	Discretization float64

	// LayerHeight is the band size for per-layer evaluation, mm.
	LayerHeight float64

	// WarningAngle triggers AngleExceeded above this magnitude, degrees.
	WarningAngle float64

	// Two-link arm geometry, mm, and reachable joint range, degrees.
	La, Lb     float64
	JointLimit float64

	// Stepper is the rotary axis name in emitted actuation commands.
	Stepper string

	// ArtifactDir is where stage artifacts are written. Empty means
	// alongside the input file.
	ArtifactDir string

	// Printer connection.
	MoonrakerURL string
	APIKey       string
}

// Default returns the production parameter record.
func Default() Params {
	return Params{
		SplineXStart:   DefaultXStart,
		SplineXEnd:     DefaultXEnd,
		SplineZStart:   DefaultZStart,
		SplineZEnd:     DefaultZEnd,
		StartSlope:     DefaultStartSlope,
		EndSlope:       DefaultEndSlope,
		Discretization: DefaultDiscretization,
		LayerHeight:    DefaultLayerHeight,
		WarningAngle:   DefaultWarningAngle,
		La:             DefaultLa,
		Lb:             DefaultLb,
		JointLimit:     DefaultJointLimit,
		Stepper:        "b_stepper",
		MoonrakerURL:   DefaultMoonrakerURL,
	}
}

// Load reads the file at path into a validated Params. Options not
// present keep their production defaults; unknown options are an error.
func Load(path string) (Params, error) {
	f, err := ParseFile(path)
	if err != nil {
		return Params{}, err
	}
	return FromFile(f)
}

// FromFile builds a validated Params from a parsed file.
func FromFile(f *File) (Params, error) {
	p := Default()

	type floatOpt struct {
		sec, opt string
		dst      *float64
	}
	opts := []floatOpt{
		{"spline", "x_start", &p.SplineXStart},
		{"spline", "x_end", &p.SplineXEnd},
		{"spline", "z_start", &p.SplineZStart},
		{"spline", "z_end", &p.SplineZEnd},
		{"spline", "start_slope", &p.StartSlope},
		{"spline", "end_slope", &p.EndSlope},
		{"spline", "discretization", &p.Discretization},
		{"bend", "layer_height", &p.LayerHeight},
		{"bend", "warning_angle", &p.WarningAngle},
		{"kinematics", "la", &p.La},
		{"kinematics", "lb", &p.Lb},
		{"kinematics", "joint_limit", &p.JointLimit},
	}
	for _, o := range opts {
		v, err := f.Section(o.sec).GetFloat(o.opt, *o.dst)
		if err != nil {
			return Params{}, err
		}
		*o.dst = v
	}

	p.Stepper = f.Section("emitter").Get("stepper", p.Stepper)
	p.ArtifactDir = f.Section("pipeline").Get("artifact_dir", p.ArtifactDir)
	p.MoonrakerURL = f.Section("printer").Get("moonraker_url", p.MoonrakerURL)
	p.APIKey = f.Section("printer").Get("api_key", p.APIKey)

	if err := f.CheckUnusedOptions(); err != nil {
		return Params{}, err
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the record's physical constraints.
func (p Params) Validate() error {
	switch {
	case p.SplineZEnd <= p.SplineZStart:
		return errors.ConfigError("z_end", "curve height range is empty: %.3f..%.3f", p.SplineZStart, p.SplineZEnd)
	case p.Discretization <= 0:
		return errors.ConfigError("discretization", "must be positive, got %.4f", p.Discretization)
	case p.LayerHeight <= 0:
		return errors.ConfigError("layer_height", "must be positive, got %.4f", p.LayerHeight)
	case p.WarningAngle <= 0:
		return errors.ConfigError("warning_angle", "must be positive, got %.4f", p.WarningAngle)
	case p.La <= 0 || p.Lb <= 0:
		return errors.ConfigError("la/lb", "link lengths must be positive, got %.2f and %.2f", p.La, p.Lb)
	case p.JointLimit <= 0 || p.JointLimit > 180:
		return errors.ConfigError("joint_limit", "must be in (0, 180], got %.2f", p.JointLimit)
	case p.Stepper == "":
		return errors.ConfigError("stepper", "must not be empty")
	}
	return nil
}
