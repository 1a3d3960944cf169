package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type JobMetrics struct {
	registry *prometheus.Registry

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	retryTotal   *prometheus.CounterVec
	pollTotal    *prometheus.CounterVec
}

func NewJobMetrics(service string) *JobMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfx",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total processed extraction jobs by backend and status.",
		},
		[]string{"service", "backend", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfx",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Extraction job duration in seconds by backend and status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "backend", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfx",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of extraction jobs currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfx",
			Subsystem: "jobs",
			Name:      "retry_attempts_total",
			Help:      "Total remote submission attempts beyond the first.",
		},
		[]string{"service", "backend"},
	)
	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfx",
			Subsystem: "jobs",
			Name:      "poll_cycles_total",
			Help:      "Total vendor poll cycles.",
		},
		[]string{"service", "backend"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, retryTotal, pollTotal)

	return &JobMetrics{
		registry:     registry,
		jobsTotal:    jobsTotal,
		jobDuration:  jobDuration,
		jobsInFlight: jobsInFlight,
		retryTotal:   retryTotal,
		pollTotal:    pollTotal,
	}
}

func (m *JobMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *JobMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *JobMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *JobMetrics) FinishJob(service, backend string, duration time.Duration, err error) {
	m.jobsInFlight.Dec()

	status := "completed"
	if err != nil {
		status = "failed"
	}

	m.jobsTotal.WithLabelValues(service, backend, status).Inc()
	m.jobDuration.WithLabelValues(service, backend, status).Observe(duration.Seconds())
}

func (m *JobMetrics) ObserveRetries(service, backend string, attempts int) {
	if attempts > 1 {
		m.retryTotal.WithLabelValues(service, backend).Add(float64(attempts - 1))
	}
}

func (m *JobMetrics) ObservePollCycle(service, backend string) {
	m.pollTotal.WithLabelValues(service, backend).Inc()
}
