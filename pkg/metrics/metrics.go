// Metrics collection for the bending pipeline
//
// Counters, gauges and histograms rendered in Prometheus text format.
// Stage runs, validation issues and printer traffic are the interesting
// series; everything registers against a registry that the exposition
// server gathers on scrape.
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Labels is one metric's label set.
type Labels map[string]string

// key produces a stable identity for a label set.
func (l Labels) key() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// format renders the label set in exposition syntax.
func (l Labels) format() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(l[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func (l Labels) clone() Labels {
	c := make(Labels, len(l))
	for k, v := range l {
		c[k] = v
	}
	return c
}

// Metric is anything the registry can gather.
type Metric interface {
	Name() string
	Write(sb *strings.Builder)
}

func writeHeader(sb *strings.Builder, name, help, typ string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

// Counter is a monotonically increasing series per label set.
type Counter struct {
	name, help string

	mu     sync.Mutex
	series map[string]*counterSeries
}

type counterSeries struct {
	labels Labels
	value  float64
}

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help, series: make(map[string]*counterSeries)}
}

func (c *Counter) Name() string { return c.name }

// Inc increments the series by 1.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the series by delta; negative deltas are ignored.
func (c *Counter) Add(labels Labels, delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := labels.key()
	s, ok := c.series[key]
	if !ok {
		s = &counterSeries{labels: labels.clone()}
		c.series[key] = s
	}
	s.value += delta
}

// Get returns the series value.
func (c *Counter) Get(labels Labels) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[labels.key()]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeHeader(sb, c.name, c.help, "counter")
	for _, key := range sortedKeys(c.series) {
		s := c.series[key]
		fmt.Fprintf(sb, "%s%s %s\n", c.name, s.labels.format(), formatFloat(s.value))
	}
}

// Gauge is a series that can move both ways.
type Gauge struct {
	name, help string

	mu     sync.Mutex
	series map[string]*counterSeries
}

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help, series: make(map[string]*counterSeries)}
}

func (g *Gauge) Name() string { return g.name }

// Set sets the series to value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := labels.key()
	s, ok := g.series[key]
	if !ok {
		s = &counterSeries{labels: labels.clone()}
		g.series[key] = s
	}
	s.value = value
}

// Add adds delta to the series.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := labels.key()
	s, ok := g.series[key]
	if !ok {
		s = &counterSeries{labels: labels.clone()}
		g.series[key] = s
	}
	s.value += delta
}

// Inc increments the series by 1.
func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }

// Dec decrements the series by 1.
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Get returns the series value.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[labels.key()]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	writeHeader(sb, g.name, g.help, "gauge")
	for _, key := range sortedKeys(g.series) {
		s := g.series[key]
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels.format(), formatFloat(s.value))
	}
}

// Histogram tracks the distribution of observations in fixed buckets.
type Histogram struct {
	name, help string
	buckets    []float64

	mu     sync.Mutex
	series map[string]*histogramSeries
}

type histogramSeries struct {
	labels Labels
	counts []uint64
	count  uint64
	sum    float64
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{name: name, help: help, buckets: sorted, series: make(map[string]*histogramSeries)}
}

// DurationBuckets returns bounds suited to stage run times in seconds.
func DurationBuckets() []float64 {
	return []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
}

func (h *Histogram) Name() string { return h.name }

// Observe records one value.
func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := labels.key()
	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{labels: labels.clone(), counts: make([]uint64, len(h.buckets))}
		h.series[key] = s
	}
	s.count++
	s.sum += value
	// counts holds per-bucket tallies; exposition cumulates them.
	for i, bound := range h.buckets {
		if value <= bound {
			s.counts[i]++
			break
		}
	}
}

// Timer returns a function that observes the elapsed time when called.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

// Count returns the observation count for the series.
func (h *Histogram) Count(labels Labels) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[labels.key()]; ok {
		return s.count
	}
	return 0
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeHeader(sb, h.name, h.help, "histogram")
	for _, key := range sortedKeys(h.series) {
		s := h.series[key]
		cumulative := uint64(0)
		for i, bound := range h.buckets {
			cumulative += s.counts[i]
			bl := s.labels.clone()
			bl["le"] = formatFloat(bound)
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, bl.format(), cumulative)
		}
		bl := s.labels.clone()
		bl["le"] = "+Inf"
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, bl.format(), s.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels.format(), formatFloat(s.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels.format(), s.count)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Registry holds registered metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric; duplicate names are an error.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := m.Name()
	if _, ok := r.metrics[name]; ok {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = m
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a metric, panicking on a duplicate name.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Gather renders every metric in Prometheus text format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
