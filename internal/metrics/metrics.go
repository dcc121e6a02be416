// Package metrics exports the outcome of a snapshot run in the Prometheus
// textfile format read by node_exporter's textfile collector.
package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/bamsammich/linkback/internal/engine"
)

const lastSuccessName = "linkback_last_success_timestamp_seconds"

// Run holds the gauges for one run. Each run writes a fresh file, so every
// value is a gauge describing that run.
type Run struct {
	reg *prometheus.Registry

	files        *prometheus.GaugeVec
	bytes        *prometheus.GaugeVec
	fallbacks    prometheus.Gauge
	duration     prometheus.Gauge
	published    prometheus.Gauge
	verifyFailed prometheus.Gauge
	lastSuccess  prometheus.Gauge
	// lastStamp mirrors lastSuccess.
	lastStamp float64
}

// New creates the gauges on a private registry.
func New() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		reg: reg,
		files: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linkback_files",
				Help: "Entries handled by the last run, by outcome",
			},
			[]string{"outcome"},
		),
		bytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linkback_bytes",
				Help: "Bytes placed in the last snapshot, by method",
			},
			[]string{"method"},
		),
		fallbacks: f.NewGauge(prometheus.GaugeOpts{
			Name: "linkback_link_fallbacks",
			Help: "Hardlinks that fell back to a copy in the last run",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "linkback_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		published: f.NewGauge(prometheus.GaugeOpts{
			Name: "linkback_published",
			Help: "1 if the last run published a snapshot",
		}),
		verifyFailed: f.NewGauge(prometheus.GaugeOpts{
			Name: "linkback_verify_failed",
			Help: "Files that failed verification in the last run",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: lastSuccessName,
			Help: "Unix time of the last run that published a snapshot without failures",
		}),
	}
}

// Observe records res. verifyFailed is the number of verification
// mismatches, or zero when no verify pass ran. now stamps a clean run.
func (m *Run) Observe(res engine.RunResult, verifyFailed int64, now time.Time) {
	m.files.WithLabelValues("linked").Set(float64(res.Linked))
	m.files.WithLabelValues("copied").Set(float64(res.Copied))
	m.files.WithLabelValues("failed").Set(float64(res.Failed))
	m.files.WithLabelValues("skipped").Set(float64(res.Skipped))
	m.files.WithLabelValues("ignored").Set(float64(res.Ignored))
	m.bytes.WithLabelValues("copied").Set(float64(res.BytesCopied))
	m.bytes.WithLabelValues("linked").Set(float64(res.BytesLinked))
	m.fallbacks.Set(float64(res.LinkFallbacks))
	m.duration.Set(res.Elapsed.Seconds())
	m.verifyFailed.Set(float64(verifyFailed))

	if res.Published() {
		m.published.Set(1)
	} else {
		m.published.Set(0)
	}
	if res.OK() && verifyFailed == 0 {
		m.lastStamp = float64(now.Unix())
		m.lastSuccess.Set(m.lastStamp)
	}
}

// Carry keeps the last success timestamp from an earlier textfile at path
// unless this run set a newer one. A missing file is not an error.
func (m *Run) Carry(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read metrics file: %w", err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parse metrics file %s: %w", path, err)
	}
	fam, ok := families[lastSuccessName]
	if !ok || len(fam.GetMetric()) == 0 {
		return nil
	}
	prev := fam.GetMetric()[0].GetGauge().GetValue()
	if prev > m.lastStamp {
		m.lastStamp = prev
		m.lastSuccess.Set(prev)
	}
	return nil
}

// WriteFile atomically replaces path with the current values.
func (m *Run) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

// Registry exposes the gatherer for tests and callers that serve it.
func (m *Run) Registry() *prometheus.Registry {
	return m.reg
}
