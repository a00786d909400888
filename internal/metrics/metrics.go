// Package metrics exposes Prometheus instrumentation for the carousel
// service: job lifecycle counters, upload attempt/retry counters, and a
// publish latency histogram. Metrics are served at /metrics by the HTTP
// boundary via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the service.
type Collector struct {
	jobsCreated   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsReaped    prometheus.Counter

	uploads       prometheus.Counter
	uploadRetries prometheus.Counter

	publishDuration prometheus.Histogram
}

// NewCollector creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carousel_jobs_created_total",
			Help: "Total number of carousel jobs created",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carousel_jobs_completed_total",
			Help: "Total number of carousel jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carousel_jobs_failed_total",
			Help: "Total number of carousel jobs that ended in failure",
		}),
		jobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carousel_jobs_reaped_total",
			Help: "Total number of jobs evicted or force-failed by the reaper",
		}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carousel_uploads_total",
			Help: "Total number of media assets uploaded successfully",
		}),
		uploadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carousel_upload_retries_total",
			Help: "Total number of upload attempts retried after a transient failure",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carousel_publish_duration_seconds",
			Help:    "End-to-end duration of the publish call in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.jobsCreated,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsReaped,
		c.uploads,
		c.uploadRetries,
		c.publishDuration,
	)

	return c
}

// RecordJobCreated records a new job entering the registry.
func (c *Collector) RecordJobCreated() {
	c.jobsCreated.Inc()
}

// RecordJobCompleted records a job reaching the completed state.
func (c *Collector) RecordJobCompleted() {
	c.jobsCompleted.Inc()
}

// RecordJobFailed records a job reaching the failed state.
func (c *Collector) RecordJobFailed() {
	c.jobsFailed.Inc()
}

// RecordJobReaped records a reaper eviction or forced timeout.
func (c *Collector) RecordJobReaped() {
	c.jobsReaped.Inc()
}

// RecordUpload records a successfully committed media upload.
func (c *Collector) RecordUpload() {
	c.uploads.Inc()
}

// RecordUploadRetry records one retried upload attempt.
func (c *Collector) RecordUploadRetry() {
	c.uploadRetries.Inc()
}

// ObservePublishDuration records the duration of one publish call.
func (c *Collector) ObservePublishDuration(seconds float64) {
	c.publishDuration.Observe(seconds)
}
