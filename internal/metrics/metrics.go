// Package metrics records run counters in a private Prometheus registry and
// can write them in node_exporter textfile format at the end of a run.
package metrics

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/backmassage/metascrub/internal/cleaner"
	"github.com/backmassage/metascrub/internal/runner"
)

// Metrics holds the collectors for one run. All methods are goroutine-safe.
type Metrics struct {
	reg *prometheus.Registry

	FilesTotal      *prometheus.CounterVec
	BytesReclaimed  prometheus.Counter
	CleanDuration   *prometheus.HistogramVec
	ToolInvocations *prometheus.CounterVec
	VideoFallbacks  prometheus.Counter
	RunInterrupted  prometheus.Gauge
}

// New registers the run collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		FilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metascrub_files_total",
				Help: "Files processed, by category and final status",
			},
			[]string{"category", "status"},
		),
		BytesReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "metascrub_bytes_reclaimed_total",
				Help: "Bytes removed from cleaned files",
			},
		),
		CleanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metascrub_clean_duration_seconds",
				Help:    "Time spent cleaning one file, by category",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"category"},
		),
		ToolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metascrub_tool_invocations_total",
				Help: "External tool runs, by tool and result",
			},
			[]string{"tool", "result"},
		),
		VideoFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "metascrub_video_fallbacks_total",
				Help: "Video re-encodes that fell back to a remux",
			},
		),
		RunInterrupted: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "metascrub_run_interrupted",
				Help: "1 when the run was cancelled before every file was processed",
			},
		),
	}
}

// Registry exposes the underlying registry for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// RecordOutcome counts one finished file.
func (m *Metrics) RecordOutcome(o cleaner.Outcome, elapsed time.Duration) {
	category := o.Task.Category.String()
	m.FilesTotal.WithLabelValues(category, o.Status.String()).Inc()
	if r := o.Reclaimed(); r > 0 {
		m.BytesReclaimed.Add(float64(r))
	}
	if o.FellBack {
		m.VideoFallbacks.Inc()
	}
	if !o.Projected {
		m.CleanDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	}
}

// ObserveCommand is a runner.Observer counting tool invocations.
func (m *Metrics) ObserveCommand(cmd runner.Command, res runner.Result) {
	result := "ok"
	switch {
	case res.TimedOut:
		result = "timeout"
	case !res.OK():
		result = "error"
	}
	m.ToolInvocations.WithLabelValues(filepath.Base(cmd.Name), result).Inc()
}

// WriteTextfile writes every metric to path in textfile-collector format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
