// Package metrics exports Prometheus counters for model downloads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"whisper-desk/internal/models"
)

const namespace = "whisper_desk"

// Downloads records download metrics on its own registry. It implements
// models.Recorder.
type Downloads struct {
	registry *prometheus.Registry
	textfile string
	log      logrus.FieldLogger

	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	bytes    prometheus.Counter
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// New registers the download collectors. When textfile is set, every
// finished download rewrites it in the node_exporter textfile format.
func New(textfile string, log logrus.FieldLogger) *Downloads {
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Downloads{
		registry: reg,
		textfile: textfile,
		log:      log,
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "started_total",
			Help:      "Model downloads started.",
		}, []string{"model"}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "finished_total",
			Help:      "Model downloads finished, by outcome.",
		}, []string{"model", "outcome"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "received_bytes_total",
			Help:      "Bytes received by model downloads.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "duration_seconds",
			Help:      "Wall time of finished model downloads.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"outcome"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "active",
			Help:      "Model downloads in progress.",
		}),
	}
}

// Registry exposes the collectors, mainly for tests and exporters.
func (d *Downloads) Registry() *prometheus.Registry {
	return d.registry
}

// DownloadStarted implements models.Recorder.
func (d *Downloads) DownloadStarted(modelID string) {
	d.started.WithLabelValues(modelID).Inc()
	d.active.Inc()
}

// DownloadFinished implements models.Recorder.
func (d *Downloads) DownloadFinished(report models.DownloadReport) {
	outcome := string(report.Outcome.Kind)
	d.finished.WithLabelValues(report.ModelID, outcome).Inc()
	if report.BytesReceived > 0 {
		d.bytes.Add(float64(report.BytesReceived))
	}
	if elapsed := report.FinishedAt.Sub(report.StartedAt); elapsed > 0 {
		d.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
	d.active.Dec()

	if err := d.Flush(); err != nil {
		d.log.WithError(err).Warn("write metrics textfile")
	}
}

// Flush writes the textfile, if one is configured.
func (d *Downloads) Flush() error {
	if d.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(d.textfile, d.registry)
}
