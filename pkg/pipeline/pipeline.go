// Package pipeline orchestrates the three processing stages over one
// input program.
//
// A Run owns the per-file state machine Raw -> Bent -> Translated ->
// Ready. Each stage consumes the previous stage's artifact from disk
// and produces its own atomically, so a run can also resume against
// artifacts a previous process left behind. Missing prerequisites are
// reported before any processing begins.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bend5x/pkg/bend"
	"bend5x/pkg/config"
	"bend5x/pkg/emitter"
	"bend5x/pkg/errors"
	"bend5x/pkg/gcode"
	"bend5x/pkg/kinematics"
	"bend5x/pkg/log"
	"bend5x/pkg/metrics"
	"bend5x/pkg/spline"
	"bend5x/pkg/validation"
)

// State of a run. Transitions are one-directional.
type State int

const (
	StateRaw State = iota
	StateBent
	StateTranslated
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRaw:
		return "Raw"
	case StateBent:
		return "Bent"
	case StateTranslated:
		return "Translated"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Stage identifies one processing stage.
type Stage int

const (
	StageBend Stage = iota
	StageTranslate
	StageEmit
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageBend:
		return "bend"
	case StageTranslate:
		return "translate"
	case StageEmit:
		return "emit"
	default:
		return "unknown"
	}
}

// Report is the structured result of one stage run.
type Report struct {
	Stage    Stage
	Artifact string
	Lines    int
	Issues   validation.Issues
	Elapsed  time.Duration
}

// Run is one pipeline execution context for one input file. A Run owns
// its move sequences and issue lists; independent runs share nothing
// but the artifact directory.
type Run struct {
	input  string
	dir    string
	base   string
	params config.Params
	curve  *spline.Curve
	logger *log.Logger

	mu      sync.Mutex
	state   State
	metrics *metrics.PipelineMetrics
	sink    func(Stage, validation.Issue)
}

// New creates a run for the input file with validated parameters.
func New(input string, params config.Params) (*Run, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	curve, err := spline.New(spline.Config{
		XStart:         params.SplineXStart,
		XEnd:           params.SplineXEnd,
		ZStart:         params.SplineZStart,
		ZEnd:           params.SplineZEnd,
		StartSlope:     params.StartSlope,
		EndSlope:       params.EndSlope,
		Discretization: params.Discretization,
	})
	if err != nil {
		return nil, err
	}

	dir := params.ArtifactDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return &Run{
		input:  input,
		dir:    dir,
		base:   filepath.Base(input),
		params: params,
		curve:  curve,
		logger: log.GetLogger("pipeline"),
	}, nil
}

// SetMetrics attaches metric instruments. Optional; a run without
// instruments records nothing.
func (r *Run) SetMetrics(pm *metrics.PipelineMetrics) {
	r.mu.Lock()
	r.metrics = pm
	r.mu.Unlock()
}

// State returns the run's current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ArtifactPath returns where the stage's artifact lives.
func (r *Run) ArtifactPath(stage Stage) string {
	prefix := PrefixBent
	switch stage {
	case StageTranslate:
		prefix = PrefixTranslate
	case StageEmit:
		prefix = PrefixEmit
	}
	return filepath.Join(r.dir, prefix+r.base)
}

// Preview samples the bending curve at the given height step. Pure: no
// file I/O, no state change.
func (r *Run) Preview(step float64) []spline.Sample {
	return r.curve.Samples(step)
}

// RunBending executes the bending stage: input program in, BENT_
// artifact out.
func (r *Run) RunBending(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := r.bendStage(ctx)
	r.finishStage(StageBend, StateBent, report, err, start)
	return report, err
}

func (r *Run) bendStage(ctx context.Context) (*Report, error) {
	f, err := os.Open(r.input)
	if err != nil {
		return &Report{Stage: StageBend}, errors.DependencyError(r.input, "input program not available: %v", err)
	}
	lines, perr := gcode.ParseProgram(f)
	f.Close()
	if perr != nil {
		return &Report{Stage: StageBend}, errors.IOError(perr, r.input)
	}

	engine, err := bend.NewEngine(r.curve, r.params.LayerHeight, r.params.WarningAngle)
	if err != nil {
		return &Report{Stage: StageBend}, err
	}
	engine.Notify(func(issue validation.Issue) { r.notifyIssue(StageBend, issue) })
	res, err := engine.Bend(ctx, lines)
	if err != nil {
		return &Report{Stage: StageBend}, err
	}

	report := &Report{Stage: StageBend, Lines: len(res.Lines), Issues: res.Issues}
	if res.Issues.HasFatal() {
		return report, errors.New(errors.ErrValidation, "bending produced fatal issues")
	}
	path, size, err := writeArtifact(r.dir, PrefixBent+r.base, res.Lines)
	if err != nil {
		return report, err
	}
	report.Artifact = path
	r.recordArtifact(StageBend, size)
	return report, nil
}

// RunTranslation executes the kinematic stage: BENT_ artifact in, IK_
// artifact out.
func (r *Run) RunTranslation(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := r.translateStage(ctx)
	r.finishStage(StageTranslate, StateTranslated, report, err, start)
	return report, err
}

func (r *Run) translateStage(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return &Report{Stage: StageTranslate}, errors.New(errors.ErrStageCanceled, "translation canceled")
	}
	lines, err := readArtifact(r.ArtifactPath(StageBend))
	if err != nil {
		return &Report{Stage: StageTranslate}, err
	}

	model, err := kinematics.NewTwoLink(r.params.La, r.params.Lb)
	if err != nil {
		return &Report{Stage: StageTranslate}, err
	}
	model.JointLimit = r.params.JointLimit
	res, err := kinematics.NewTranslator(model, r.params.LayerHeight).Translate(lines)
	report := &Report{Stage: StageTranslate, Lines: len(lines), Issues: res.Issues}
	for _, issue := range res.Issues {
		r.notifyIssue(StageTranslate, issue)
	}
	if err != nil {
		return report, err
	}

	path, size, err := writeArtifact(r.dir, PrefixTranslate+r.base, res.Lines)
	if err != nil {
		return report, err
	}
	report.Artifact = path
	r.recordArtifact(StageTranslate, size)
	return report, nil
}

// RunEmission executes the controller stage: IK_ artifact in, KLIPPER_
// artifact out.
func (r *Run) RunEmission(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := r.emitStage(ctx)
	r.finishStage(StageEmit, StateReady, report, err, start)
	return report, err
}

func (r *Run) emitStage(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return &Report{Stage: StageEmit}, errors.New(errors.ErrStageCanceled, "emission canceled")
	}
	lines, err := readArtifact(r.ArtifactPath(StageTranslate))
	if err != nil {
		return &Report{Stage: StageEmit}, err
	}

	res := emitter.New(r.params.Stepper).Emit(lines)
	report := &Report{Stage: StageEmit, Lines: len(res.Lines)}

	path, size, err := writeArtifact(r.dir, PrefixEmit+r.base, res.Lines)
	if err != nil {
		return report, err
	}
	report.Artifact = path
	r.recordArtifact(StageEmit, size)
	if pm := r.instruments(); pm != nil {
		pm.ActuationCommands.Add(metrics.Labels{}, float64(res.Commands))
	}
	return report, nil
}

// RunAll executes the three stages in order, stopping at the first
// failure.
func (r *Run) RunAll(ctx context.Context) ([]*Report, error) {
	var reports []*Report
	for _, fn := range []func(context.Context) (*Report, error){
		r.RunBending, r.RunTranslation, r.RunEmission,
	} {
		report, err := fn(ctx)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// finishStage advances state, logs and records the run.
func (r *Run) finishStage(stage Stage, next State, report *Report, err error, start time.Time) {
	report.Elapsed = time.Since(start)

	result := "ok"
	switch {
	case err == nil:
		r.mu.Lock()
		if next > r.state {
			r.state = next
		}
		r.mu.Unlock()
	case errors.IsCode(err, errors.ErrStageCanceled):
		result = "canceled"
	case errors.IsCode(err, errors.ErrStageDependency):
		result = "dependency"
	case report.Issues.HasFatal():
		result = "fatal"
	default:
		result = "error"
	}

	entry := r.logger.WithFields(log.Fields{
		"stage":   stage.String(),
		"result":  result,
		"elapsed": report.Elapsed.String(),
		"lines":   report.Lines,
		"issues":  len(report.Issues),
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("stage failed")
	} else {
		entry.Info("stage complete")
	}

	if pm := r.instruments(); pm != nil {
		pm.RecordStageRun(stage.String(), result, report.Elapsed, report.Lines)
		for _, issue := range report.Issues {
			pm.RecordIssue(stage.String(), issue.Kind.String(), issue.Severity.String())
		}
	}
}

func (r *Run) instruments() *metrics.PipelineMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// setSink installs the live issue sink for the duration of a dispatch.
func (r *Run) setSink(fn func(Stage, validation.Issue)) {
	r.mu.Lock()
	r.sink = fn
	r.mu.Unlock()
}

func (r *Run) notifyIssue(stage Stage, issue validation.Issue) {
	r.mu.Lock()
	fn := r.sink
	r.mu.Unlock()
	if fn != nil {
		fn(stage, issue)
	}
}

func (r *Run) recordArtifact(stage Stage, size int64) {
	if pm := r.instruments(); pm != nil {
		pm.RecordArtifact(stage.String(), size)
	}
}
