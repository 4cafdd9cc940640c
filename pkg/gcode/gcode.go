// Package gcode provides the line model for the bending pipeline.
//
// It parses individual program lines into structured move records and
// serializes them back in the firmware-consumed dialect. Anything the
// model does not recognize is retained verbatim and re-emitted unchanged
// by every pipeline stage.
package gcode

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"bend5x/pkg/errors"
	"bend5x/pkg/log"
	"bend5x/pkg/pool"
)

// Kind identifies the command a Move was parsed from.
type Kind int

const (
	// KindRapid is a G0 rapid move
	KindRapid Kind = iota
	// KindLinear is a G1 linear move
	KindLinear
	// KindHome is a G28 homing command
	KindHome
	// KindSetOrigin is a G92 set-position command
	KindSetOrigin
	// KindAbsolute is a G90 absolute-mode marker
	KindAbsolute
	// KindRelative is a G91 relative-mode marker. Motion following the
	// marker has already been normalized to absolute coordinates, so the
	// marker is a no-op retained only for positional fidelity.
	KindRelative
)

// String returns the G-code word for the kind.
func (k Kind) String() string {
	switch k {
	case KindRapid:
		return "G0"
	case KindLinear:
		return "G1"
	case KindHome:
		return "G28"
	case KindSetOrigin:
		return "G92"
	case KindAbsolute:
		return "G90"
	case KindRelative:
		return "G91"
	default:
		return "G?"
	}
}

// Param is an optional letter parameter on a move.
type Param struct {
	Value float64
	Set   bool
}

// P makes a set Param.
func P(v float64) Param {
	return Param{Value: v, Set: true}
}

// Move is one parsed motion-related command. A Move is immutable once
// parsed; pipeline stages derive edited copies instead of mutating.
type Move struct {
	Kind Kind

	X, Y, Z Param
	E, F    Param
	A, B    Param

	// Comment is the trailing ';' comment, without the semicolon.
	Comment string

	// Raw is the source text. It is non-empty only while the move is
	// untouched; any stage that edits a move drops Raw so serialization
	// switches to the canonical dialect.
	Raw string
}

// Line is one program line: a parsed Move or verbatim pass-through text.
type Line struct {
	// Move is nil for pass-through lines.
	Move *Move

	// Raw is the source text (without line terminator).
	Raw string

	// Num is the 1-based source line number.
	Num int
}

// IsMove reports whether the line parsed into a Move.
func (l Line) IsMove() bool {
	return l.Move != nil
}

// Text serializes the line for output.
func (l Line) Text() string {
	if l.Move == nil {
		return l.Raw
	}
	return l.Move.Serialize()
}

// Decimal places per parameter in the output dialect. X/Y and E keep five
// places, Z and the rotary angles three, feed rates are whole numbers.
const (
	precXY    = 5
	precZ     = 3
	precAngle = 3
	precE     = 5
	precF     = 0
)

// FormatFloat renders v with at most the given number of decimal places,
// fixed notation, no trailing zeros and never scientific.
func FormatFloat(v float64, decimals int) string {
	scale := math.Pow(10, float64(decimals))
	r := math.Round(v*scale) / scale
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if s == "-0" {
		s = "0"
	}
	return s
}

// Serialize renders the move in the firmware-consumed dialect. An
// untouched move reproduces its source text byte-for-byte.
func (m *Move) Serialize() string {
	if m.Raw != "" {
		return m.Raw
	}
	switch m.Kind {
	case KindAbsolute:
		return "G90"
	case KindRelative:
		return "G91"
	case KindHome, KindSetOrigin:
		// Stages never edit these, so Raw is normally present. The
		// fallback renders the bare word.
		return m.Kind.String()
	}

	b := pool.GetBuilder()
	defer pool.PutBuilder(b)

	b.WriteString(m.Kind.String())
	writeParam(b, 'X', m.X, precXY)
	writeParam(b, 'Y', m.Y, precXY)
	writeParam(b, 'Z', m.Z, precZ)
	writeParam(b, 'A', m.A, precAngle)
	writeParam(b, 'B', m.B, precAngle)
	writeParam(b, 'E', m.E, precE)
	writeParam(b, 'F', m.F, precF)
	if m.Comment != "" {
		b.WriteString(" ;")
		b.WriteString(m.Comment)
	}
	return b.String()
}

func writeParam(b *strings.Builder, letter byte, p Param, decimals int) {
	if !p.Set {
		return
	}
	b.WriteByte(' ')
	b.WriteByte(letter)
	b.WriteString(FormatFloat(p.Value, decimals))
}

// Edited returns a copy of the move with Raw dropped, ready for field
// replacement by a stage.
func (m *Move) Edited() *Move {
	c := *m
	c.Raw = ""
	return &c
}

// Position returns the X/Y/Z values, substituting fallback for unset axes.
func (m *Move) Position(fx, fy, fz float64) (x, y, z float64) {
	x, y, z = fx, fy, fz
	if m.X.Set {
		x = m.X.Value
	}
	if m.Y.Set {
		y = m.Y.Value
	}
	if m.Z.Set {
		z = m.Z.Value
	}
	return x, y, z
}

// Parser converts program text to Lines, tracking absolute/relative mode
// as running context across the file. Relative motion is normalized to
// absolute coordinates before leaving the parser; downstream math only
// ever sees absolute terms.
type Parser struct {
	absolute bool
	pos      [3]float64
	logger   *log.Logger
}

// NewParser creates a parser in the default absolute mode at origin.
func NewParser() *Parser {
	return &Parser{
		absolute: true,
		logger:   log.GetLogger("gcode"),
	}
}

// ParseLine parses one line of program text. Malformed or unrecognized
// content is returned as pass-through, never as an error; parse problems
// are logged and recovered locally.
func (p *Parser) ParseLine(text string, num int) Line {
	line := Line{Raw: text, Num: num}

	code := text
	comment := ""
	if idx := strings.IndexByte(text, ';'); idx >= 0 {
		code = text[:idx]
		comment = text[idx+1:]
	}

	fields := strings.Fields(code)
	if len(fields) == 0 {
		return line
	}

	switch strings.ToUpper(fields[0]) {
	case "G90":
		p.absolute = true
		line.Move = &Move{Kind: KindAbsolute, Comment: comment, Raw: text}
		return line
	case "G91":
		p.absolute = false
		line.Move = &Move{Kind: KindRelative, Comment: comment, Raw: text}
		return line
	case "G0", "G1", "G28", "G92":
	default:
		return line
	}

	params := pool.GetParamsMap()
	defer pool.PutParamsMap(params)
	for _, f := range fields[1:] {
		if len(f) < 1 {
			continue
		}
		letter := upperByte(f[0])
		params[letter] = f[1:]
	}

	m := &Move{Comment: comment, Raw: text}
	switch strings.ToUpper(fields[0]) {
	case "G0":
		m.Kind = KindRapid
	case "G1":
		m.Kind = KindLinear
	case "G28":
		m.Kind = KindHome
	case "G92":
		m.Kind = KindSetOrigin
	}

	for letter, val := range params {
		target := m.param(letter)
		if target == nil {
			// Unknown letter on a recognized command: keep the whole
			// line verbatim rather than dropping information.
			p.logger.Debug("line %d: unknown parameter %c, passing through", num, letter)
			return line
		}
		if val == "" && m.Kind == KindHome {
			// Bare axis letters on G28 are flags, not values.
			*target = Param{Value: 0, Set: true}
			continue
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			pe := errors.ParseError(num, "bad value %c%s in %q", letter, val, text)
			p.logger.Warn("%s", pe.Error())
			return line
		}
		*target = P(v)
	}

	p.track(m)
	return Line{Move: m, Raw: text, Num: num}
}

// param maps a parameter letter to its field, or nil if unsupported.
func (m *Move) param(letter byte) *Param {
	switch letter {
	case 'X':
		return &m.X
	case 'Y':
		return &m.Y
	case 'Z':
		return &m.Z
	case 'E':
		return &m.E
	case 'F':
		return &m.F
	case 'A':
		return &m.A
	case 'B':
		return &m.B
	}
	return nil
}

// track updates the running position context and normalizes relative
// motion to absolute coordinates.
func (p *Parser) track(m *Move) {
	switch m.Kind {
	case KindRapid, KindLinear:
		if !p.absolute {
			// Normalize to absolute: the move keeps its meaning but its
			// text no longer matches, so Raw is dropped.
			if m.X.Set {
				m.X.Value += p.pos[0]
			}
			if m.Y.Set {
				m.Y.Value += p.pos[1]
			}
			if m.Z.Set {
				m.Z.Value += p.pos[2]
			}
			m.Raw = ""
		}
		p.pos[0], p.pos[1], p.pos[2] = m.Position(p.pos[0], p.pos[1], p.pos[2])
	case KindSetOrigin:
		p.pos[0], p.pos[1], p.pos[2] = m.Position(p.pos[0], p.pos[1], p.pos[2])
	case KindHome:
		if !m.X.Set && !m.Y.Set && !m.Z.Set {
			p.pos = [3]float64{}
			return
		}
		if m.X.Set {
			p.pos[0] = 0
		}
		if m.Y.Set {
			p.pos[1] = 0
		}
		if m.Z.Set {
			p.pos[2] = 0
		}
	}
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// ParseProgram reads a whole program. The returned error is I/O only;
// malformed lines are retained as pass-through.
func ParseProgram(r io.Reader) ([]Line, error) {
	p := NewParser()
	var lines []Line

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	num := 0
	for scanner.Scan() {
		num++
		lines = append(lines, p.ParseLine(scanner.Text(), num))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// WriteProgram serializes lines to w, one per line.
func WriteProgram(w io.Writer, lines []Line) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := bw.WriteString(l.Text()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
