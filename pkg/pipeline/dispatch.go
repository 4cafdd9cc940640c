// Asynchronous stage dispatch
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pipeline

import (
	"context"

	"bend5x/pkg/errors"
	"bend5x/pkg/validation"
)

// EventKind classifies a dispatch event.
type EventKind int

const (
	// EventIssue reports one validation issue found during the run.
	EventIssue EventKind = iota

	// EventCompleted reports a finished stage with its report.
	EventCompleted

	// EventFailed reports a stage that stopped with an error. The
	// report, when present, still carries any issues found before the
	// failure.
	EventFailed
)

// Event is one message on a dispatch channel.
type Event struct {
	Stage  Stage
	Kind   EventKind
	Issue  validation.Issue
	Report *Report
	Err    error
}

// Dispatch runs a stage off the calling goroutine and reports through
// the returned channel: EventIssue messages as the stage finds them,
// followed by exactly one EventCompleted or EventFailed, after which the
// channel is closed. Cancel ctx to stop the stage cooperatively; a
// canceled stage leaves no partial artifact behind.
func (r *Run) Dispatch(ctx context.Context, stage Stage) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)

		r.setSink(func(st Stage, issue validation.Issue) {
			events <- Event{Stage: st, Kind: EventIssue, Issue: issue}
		})
		defer r.setSink(nil)

		var report *Report
		var err error
		switch stage {
		case StageBend:
			report, err = r.RunBending(ctx)
		case StageTranslate:
			report, err = r.RunTranslation(ctx)
		case StageEmit:
			report, err = r.RunEmission(ctx)
		default:
			events <- Event{Stage: stage, Kind: EventFailed,
				Err: errors.New(errors.ErrValidation, "unknown stage %d", int(stage))}
			return
		}

		if err != nil {
			events <- Event{Stage: stage, Kind: EventFailed, Report: report, Err: err}
			return
		}
		events <- Event{Stage: stage, Kind: EventCompleted, Report: report}
	}()
	return events
}

// DispatchAll runs the full pipeline off the calling goroutine,
// streaming each stage's events in order and stopping at the first
// failure.
func (r *Run) DispatchAll(ctx context.Context) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for _, stage := range []Stage{StageBend, StageTranslate, StageEmit} {
			failed := false
			for ev := range r.Dispatch(ctx, stage) {
				events <- ev
				if ev.Kind == EventFailed {
					failed = true
				}
			}
			if failed {
				return
			}
		}
	}()
	return events
}
