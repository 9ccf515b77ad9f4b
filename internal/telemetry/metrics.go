// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// used by the scan pipeline.
package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raysh454/lumen/internal/queue"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	scansSubmitted *prometheus.CounterVec
	jobsTotal      *prometheus.CounterVec
	auditDuration  *prometheus.HistogramVec
	scoreHist      prometheus.Histogram
	queueJobs      *prometheus.GaugeVec
	queuePaused    prometheus.Gauge
}

// NewMetrics registers the pipeline metrics plus Go and process collectors.
func NewMetrics(cfg Config) (*Metrics, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultConfig().Namespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "scans_submitted_total",
			Help:      "Scans accepted by the orchestrator, by enqueue result.",
		}, []string{"result"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "jobs_total",
			Help:      "Processed scan jobs by outcome.",
		}, []string{"outcome"}),
		auditDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "audit_duration_seconds",
			Help:      "Wall time of audit runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		scoreHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "compliance_score",
			Help:      "Distribution of compliance scores of completed scans.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queue_jobs",
			Help:      "Jobs in the scan queue by state.",
		}, []string{"state"}),
		queuePaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queue_paused",
			Help:      "1 while the queue is paused.",
		}),
	}

	cs := []prometheus.Collector{
		m.scansSubmitted,
		m.jobsTotal,
		m.auditDuration,
		m.scoreHist,
		m.queueJobs,
		m.queuePaused,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("telemetry: register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ScanSubmitted(result string) {
	m.scansSubmitted.WithLabelValues(result).Inc()
}

// JobCompleted records a successful audit and its score.
func (m *Metrics) JobCompleted(d time.Duration, score int) {
	m.jobsTotal.WithLabelValues("completed").Inc()
	m.auditDuration.WithLabelValues("completed").Observe(d.Seconds())
	m.scoreHist.Observe(float64(score))
}

// JobFailed records an audit failure. outcome is "retried" or "dead".
func (m *Metrics) JobFailed(d time.Duration, outcome string) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.auditDuration.WithLabelValues("failed").Observe(d.Seconds())
}

// ObserveQueue copies a queue snapshot into the gauges.
func (m *Metrics) ObserveQueue(s queue.Stats) {
	m.queueJobs.WithLabelValues("waiting").Set(float64(s.Waiting))
	m.queueJobs.WithLabelValues("delayed").Set(float64(s.Delayed))
	m.queueJobs.WithLabelValues("active").Set(float64(s.Active))
	m.queueJobs.WithLabelValues("completed").Set(float64(s.Completed))
	m.queueJobs.WithLabelValues("failed").Set(float64(s.Failed))
	if s.Paused {
		m.queuePaused.Set(1)
	} else {
		m.queuePaused.Set(0)
	}
}
