// Unit tests for metrics collection and exposition
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "test counter")
	labels := Labels{"stage": "bend"}

	c.Inc(labels)
	c.Add(labels, 4)
	if got := c.Get(labels); got != 5 {
		t.Errorf("Get = %v; want 5", got)
	}

	// Negative deltas must not move a counter.
	c.Add(labels, -3)
	if got := c.Get(labels); got != 5 {
		t.Errorf("Get after negative Add = %v; want 5", got)
	}

	// Distinct label sets are distinct series.
	other := Labels{"stage": "emit"}
	c.Inc(other)
	if got := c.Get(other); got != 1 {
		t.Errorf("Get(other) = %v; want 1", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "test gauge")
	labels := Labels{}

	g.Set(labels, 12.5)
	g.Add(labels, 2.5)
	g.Dec(labels)
	if got := g.Get(labels); got != 14 {
		t.Errorf("Get = %v; want 14", got)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_seconds", "test histogram", []float64{0.1, 1, 10})
	labels := Labels{"stage": "bend"}

	h.Observe(labels, 0.05)
	h.Observe(labels, 0.5)
	h.Observe(labels, 100)
	if got := h.Count(labels); got != 3 {
		t.Errorf("Count = %v; want 3", got)
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`test_seconds_bucket{le="0.1",stage="bend"} 1`,
		`test_seconds_bucket{le="1",stage="bend"} 2`,
		`test_seconds_bucket{le="10",stage="bend"} 2`,
		`test_seconds_bucket{le="+Inf",stage="bend"} 3`,
		`test_seconds_count{stage="bend"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistogramBucketsCumulateOnce(t *testing.T) {
	// Repeated observations of one value must show the same cumulative
	// count in every bucket at or above it, never more than the total.
	h := NewHistogram("once_seconds", "cumulation", []float64{1, 5, 10})
	labels := Labels{}
	for i := 0; i < 3; i++ {
		h.Observe(labels, 0.5)
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`once_seconds_bucket{le="1"} 3`,
		`once_seconds_bucket{le="5"} 3`,
		`once_seconds_bucket{le="10"} 3`,
		`once_seconds_bucket{le="+Inf"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("timer_seconds", "timer", DurationBuckets())
	done := h.Timer(Labels{})
	time.Sleep(time.Millisecond)
	done()
	if got := h.Count(Labels{}); got != 1 {
		t.Errorf("Count = %v; want 1", got)
	}
}

func TestRegistryGatherFormat(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("runs_total", "runs")
	g := NewGauge("bytes", "artifact size")
	r.MustRegister(c)
	r.MustRegister(g)

	c.Inc(Labels{"stage": "bend"})
	g.Set(Labels{"stage": "bend"}, 1024)

	out := r.Gather()
	for _, want := range []string{
		"# HELP runs_total runs\n# TYPE runs_total counter\n",
		`runs_total{stage="bend"} 1`,
		"# TYPE bytes gauge",
		`bytes{stage="bend"} 1024`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Gather missing %q:\n%s", want, out)
		}
	}

	// Registration order is preserved.
	if strings.Index(out, "runs_total") > strings.Index(out, "bytes") {
		t.Error("Gather does not preserve registration order")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCounter("dup_total", "dup"))
	if err := r.Register(NewCounter("dup_total", "dup again")); err == nil {
		t.Error("Register accepted a duplicate name")
	}
}

func TestLabelEscaping(t *testing.T) {
	c := NewCounter("paths_total", "paths")
	c.Inc(Labels{"path": `C:\in"dir`})

	var sb strings.Builder
	c.Write(&sb)
	if !strings.Contains(sb.String(), `path="C:\\in\"dir"`) {
		t.Errorf("label not escaped:\n%s", sb.String())
	}
}

func TestPipelineMetricsRecording(t *testing.T) {
	pm := NewPipelineMetrics()

	pm.RecordStageRun("bend", "ok", 50*time.Millisecond, 120)
	pm.RecordIssue("bend", "BelowPlatform", "Warning")
	pm.RecordArtifact("bend", 2048)
	pm.RecordPrinterRequest("/server/info", nil)
	pm.RecordPrinterRequest("/server/info", io.EOF)

	if got := pm.StageRuns.Get(Labels{"stage": "bend", "result": "ok"}); got != 1 {
		t.Errorf("StageRuns = %v; want 1", got)
	}
	if got := pm.LinesProcessed.Get(Labels{"stage": "bend"}); got != 120 {
		t.Errorf("LinesProcessed = %v; want 120", got)
	}
	if got := pm.Issues.Get(Labels{"stage": "bend", "kind": "BelowPlatform", "severity": "Warning"}); got != 1 {
		t.Errorf("Issues = %v; want 1", got)
	}
	if got := pm.ArtifactBytes.Get(Labels{"stage": "bend"}); got != 2048 {
		t.Errorf("ArtifactBytes = %v; want 2048", got)
	}
	if got := pm.PrinterRequests.Get(Labels{"endpoint": "/server/info", "result": "error"}); got != 1 {
		t.Errorf("PrinterRequests errors = %v; want 1", got)
	}
}

func TestServerEndpoints(t *testing.T) {
	pm := NewPipelineMetrics()
	pm.RecordStageRun("emit", "ok", time.Millisecond, 10)

	s := NewServer(pm.Registry(), ":0")
	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "bend5x_stage_runs_total") {
		t.Errorf("/metrics body missing stage counter:\n%s", body)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /metrics status = %d; want 405", resp.StatusCode)
	}
}
