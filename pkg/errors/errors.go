// Unified error handling for the bending pipeline
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// G-code parsing errors
	ErrGCodeParse ErrorCode = "GCODE_PARSE"

	// Transform errors
	ErrKinematics ErrorCode = "KINEMATICS"
	ErrValidation ErrorCode = "VALIDATION"

	// Pipeline errors
	ErrStageDependency ErrorCode = "STAGE_DEPENDENCY"
	ErrStageCanceled   ErrorCode = "STAGE_CANCELED"
	ErrIO              ErrorCode = "IO"

	// Printer communication errors
	ErrPrinter ErrorCode = "PRINTER"
)

// PipelineError is the unified error type for the pipeline.
type PipelineError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Stage names the pipeline stage the error occurred in, if any
	Stage string

	// Path is the file path involved, if any
	Path string

	// Line is the 1-based source line number, or 0 if not applicable
	Line int

	// Layer is the offending layer band index, or -1 if not applicable
	Layer int

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("[%s] %s (%s:%d)", e.Code, e.Message, e.Path, e.Line)
	case e.Path != "":
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Path)
	case e.Layer >= 0:
		return fmt.Sprintf("[%s] %s (layer %d)", e.Code, e.Message, e.Layer)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// WithStage sets the pipeline stage name
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithPath sets the offending file path
func (e *PipelineError) WithPath(path string) *PipelineError {
	e.Path = path
	return e
}

// WithLine sets the offending source line number
func (e *PipelineError) WithLine(line int) *PipelineError {
	e.Line = line
	return e
}

// WithLayer sets the offending layer band index
func (e *PipelineError) WithLayer(layer int) *PipelineError {
	e.Layer = layer
	return e
}

// New creates a PipelineError with the given code and message.
func New(code ErrorCode, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Layer:   -1,
	}
}

// Wrap creates a PipelineError wrapping an underlying error.
func Wrap(err error, code ErrorCode, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Layer:   -1,
		Err:     err,
	}
}

// ParseError reports a malformed G-code line. Parse errors are recovered
// locally (the line is retained as pass-through), so this is mostly logged,
// not returned.
func ParseError(line int, format string, args ...interface{}) *PipelineError {
	return New(ErrGCodeParse, format, args...).WithLine(line)
}

// DependencyError reports a missing or unparsable prerequisite artifact.
func DependencyError(path string, format string, args ...interface{}) *PipelineError {
	return New(ErrStageDependency, format, args...).WithPath(path)
}

// IOError reports a failed artifact read or write with its offending path.
func IOError(err error, path string) *PipelineError {
	return Wrap(err, ErrIO, "artifact I/O failed").WithPath(path)
}

// ConfigError reports an invalid configuration value.
func ConfigError(option string, format string, args ...interface{}) *PipelineError {
	e := New(ErrConfigValidation, format, args...)
	e.Message = option + ": " + e.Message
	return e
}

// IsCode reports whether err is a PipelineError with the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok {
			return pe.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
