// Pipeline-specific metric instruments
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"time"
)

// PipelineMetrics bundles the instruments the stages and the printer
// client report into.
type PipelineMetrics struct {
	registry *Registry

	// StageRuns counts stage executions by stage and result
	// (ok, fatal, canceled, error).
	StageRuns *Counter

	// StageDuration tracks wall-clock stage run time in seconds.
	StageDuration *Histogram

	// LinesProcessed counts program lines consumed per stage.
	LinesProcessed *Counter

	// Issues counts validation issues by stage, kind and severity.
	Issues *Counter

	// ActuationCommands counts emitted controller commands.
	ActuationCommands *Counter

	// ArtifactBytes records the size of the last written artifact.
	ArtifactBytes *Gauge

	// PrinterRequests counts printer API calls by endpoint and result.
	PrinterRequests *Counter
}

// NewPipelineMetrics creates and registers the pipeline instruments in
// their own registry.
func NewPipelineMetrics() *PipelineMetrics {
	r := NewRegistry()
	pm := &PipelineMetrics{
		registry: r,
		StageRuns: NewCounter("bend5x_stage_runs_total",
			"Stage executions by stage and result"),
		StageDuration: NewHistogram("bend5x_stage_duration_seconds",
			"Stage wall-clock run time", DurationBuckets()),
		LinesProcessed: NewCounter("bend5x_lines_processed_total",
			"Program lines consumed per stage"),
		Issues: NewCounter("bend5x_validation_issues_total",
			"Validation issues by stage, kind and severity"),
		ActuationCommands: NewCounter("bend5x_actuation_commands_total",
			"Controller actuation commands emitted"),
		ArtifactBytes: NewGauge("bend5x_artifact_bytes",
			"Size of the last written artifact per stage"),
		PrinterRequests: NewCounter("bend5x_printer_requests_total",
			"Printer API requests by endpoint and result"),
	}
	r.MustRegister(pm.StageRuns)
	r.MustRegister(pm.StageDuration)
	r.MustRegister(pm.LinesProcessed)
	r.MustRegister(pm.Issues)
	r.MustRegister(pm.ActuationCommands)
	r.MustRegister(pm.ArtifactBytes)
	r.MustRegister(pm.PrinterRequests)
	return pm
}

// Registry returns the registry holding the instruments.
func (pm *PipelineMetrics) Registry() *Registry {
	return pm.registry
}

// RecordStageRun records one stage execution.
func (pm *PipelineMetrics) RecordStageRun(stage, result string, elapsed time.Duration, lines int) {
	pm.StageRuns.Inc(Labels{"stage": stage, "result": result})
	pm.StageDuration.Observe(Labels{"stage": stage}, elapsed.Seconds())
	pm.LinesProcessed.Add(Labels{"stage": stage}, float64(lines))
}

// RecordIssue records one validation issue.
func (pm *PipelineMetrics) RecordIssue(stage, kind, severity string) {
	pm.Issues.Inc(Labels{"stage": stage, "kind": kind, "severity": severity})
}

// RecordArtifact records a written artifact's size.
func (pm *PipelineMetrics) RecordArtifact(stage string, bytes int64) {
	pm.ArtifactBytes.Set(Labels{"stage": stage}, float64(bytes))
}

// RecordPrinterRequest records one printer API call.
func (pm *PipelineMetrics) RecordPrinterRequest(endpoint string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pm.PrinterRequests.Inc(Labels{"endpoint": endpoint, "result": result})
}
