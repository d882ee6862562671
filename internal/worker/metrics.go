package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	warningsTotal        prometheus.Counter
	pixelsConvertedTotal prometheus.Counter
	bytesWrittenTotal    prometheus.Counter
	chunksCarriedTotal   prometheus.Counter
	chunksReusedTotal    prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshot_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screenshot_worker_active_jobs",
			Help: "Current number of active conversion jobs in the worker.",
		}),
		warningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_worker_warnings_total",
			Help: "Total non-fatal warnings reported by conversions.",
		}),
		pixelsConvertedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_usage_pixels_converted_total",
			Help: "Total pixels converted across all successful jobs.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_usage_bytes_written_total",
			Help: "Total output bytes written across all successful jobs.",
		}),
		chunksCarriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_worker_chunks_carried_total",
			Help: "Total ancillary chunks carried over from source screenshots.",
		}),
		chunksReusedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_worker_chunks_reused_total",
			Help: "Total source chunks reused instead of synthesized defaults.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.warningsTotal,
		m.pixelsConvertedTotal,
		m.bytesWrittenTotal,
		m.chunksCarriedTotal,
		m.chunksReusedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
