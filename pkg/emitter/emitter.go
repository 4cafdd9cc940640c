// Package emitter rewrites rotary-axis motion into the downstream
// controller's actuation dialect.
//
// The controller does not interpret A or B as axis letters. The B angle
// timeline is realized as ACTUATE commands placed immediately before the
// motion lines they belong to, and the rotary parameters are stripped
// from the motion lines themselves. The actuation command is synchronous
// with respect to subsequently queued motion, so ordering alone
// guarantees the rotary move lands before the motion executes.
package emitter

import (
	"bend5x/pkg/gcode"
	"bend5x/pkg/log"
)

// DefaultStepper is the rotary B axis stepper name on the production
// machine.
const DefaultStepper = "b_stepper"

// ActuationCommand formats one absolute angular actuation for the named
// stepper.
func ActuationCommand(stepper string, deg float64) string {
	return "ACTUATE STEPPER=" + stepper + " MOVE=" + gcode.FormatFloat(deg, 3)
}

// Emitter converts a translated program into controller-ready form.
type Emitter struct {
	stepper string
	logger  *log.Logger
}

// New creates an emitter targeting the named rotary stepper. An empty
// name selects DefaultStepper.
func New(stepper string) *Emitter {
	if stepper == "" {
		stepper = DefaultStepper
	}
	return &Emitter{
		stepper: stepper,
		logger:  log.GetLogger("emitter"),
	}
}

// Result is the output of one emission run.
type Result struct {
	Lines []gcode.Line

	// Commands is the number of actuation commands inserted.
	Commands int
}

// Emit scans moves in order tracking the last actuated B angle. A move
// whose B differs from the last actuated value gets one actuation
// command inserted immediately before its own motion line; an unchanged
// B inserts nothing. A and B are then stripped from the motion line.
// Pass-through lines and non-motion moves come out verbatim in their
// original position.
func (e *Emitter) Emit(lines []gcode.Line) *Result {
	out := make([]gcode.Line, 0, len(lines))
	commands := 0

	// lastB is the last actuated angle; actuated flags the sentinel
	// state before the first command.
	var lastB float64
	actuated := false

	for _, line := range lines {
		m := line.Move
		if m == nil || (m.Kind != gcode.KindRapid && m.Kind != gcode.KindLinear) {
			out = append(out, line)
			continue
		}

		if m.B.Set && (!actuated || m.B.Value != lastB) {
			out = append(out, gcode.Line{Raw: ActuationCommand(e.stepper, m.B.Value)})
			lastB = m.B.Value
			actuated = true
			commands++
		}

		if m.A.Set || m.B.Set {
			c := m.Edited()
			c.A = gcode.Param{}
			c.B = gcode.Param{}
			out = append(out, gcode.Line{Move: c, Num: line.Num})
		} else {
			out = append(out, line)
		}
	}

	e.logger.Info("emitted %d actuation commands for stepper %s", commands, e.stepper)
	return &Result{Lines: out, Commands: commands}
}
