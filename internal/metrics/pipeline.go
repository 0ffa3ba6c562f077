// Package metrics exposes the Prometheus instrumentation of the job
// pipeline. All collectors register on the default registry via
// promauto; the ops HTTP surface serves them under /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts accepted submissions by queue tier.
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaforge_jobs_submitted_total",
		Help: "Jobs accepted by the submission coordinator",
	}, []string{"queue", "action"})

	// JobsClaimed counts broker deliveries taken by workers.
	JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaforge_jobs_claimed_total",
		Help: "Queue entries claimed by workers",
	}, []string{"queue"})

	// JobsSettled counts terminal job outcomes.
	JobsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaforge_jobs_settled_total",
		Help: "Jobs reaching a terminal status",
	}, []string{"queue", "status", "error_code"})

	// JobRetries counts retriable failures sent back to the queue.
	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaforge_job_retries_total",
		Help: "Retriable worker failures re-scheduled with backoff",
	}, []string{"queue"})

	// JobDuration tracks end-to-end processing time per action.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediaforge_job_duration_seconds",
		Help:    "Wall time from claim to settle",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"queue", "action"})

	// QueueDepth gauges the per-queue backlog, exported by the sweep.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediaforge_queue_depth",
		Help: "Entries currently waiting or scheduled per queue",
	}, []string{"queue"})

	// QueueActive gauges in-flight deliveries per queue.
	QueueActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediaforge_queue_active",
		Help: "Entries currently claimed per queue",
	}, []string{"queue"})

	// ThumbnailFailures counts best-effort thumbnail generation errors.
	// Thumbnails never fail a job, so this is the only place they show.
	ThumbnailFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediaforge_thumbnail_failures_total",
		Help: "Thumbnail generation or upload failures",
	})

	// StalledJobs counts jobs the reconciler force-failed.
	StalledJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediaforge_stalled_jobs_total",
		Help: "Jobs failed by the reconciler after losing their queue entry",
	})

	// MediaExpired counts media files soft-deleted by the retention sweep.
	MediaExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediaforge_media_expired_total",
		Help: "Media files removed by retention",
	})
)

// ObserveJobDuration records one settled job's wall time.
func ObserveJobDuration(queue, action string, d time.Duration) {
	JobDuration.WithLabelValues(queue, action).Observe(d.Seconds())
}

// SetQueueDepth updates the backlog gauges for one queue.
func SetQueueDepth(queue string, waiting, active int64) {
	QueueDepth.WithLabelValues(queue).Set(float64(waiting))
	QueueActive.WithLabelValues(queue).Set(float64(active))
}
