package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SourcesUploaded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_sources_uploaded_total", Help: "Source images accepted"})
	JobsAdmitted     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "studio_jobs_admitted_total", Help: "Jobs promoted to processing"}, []string{"lane"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_jobs_succeeded_total", Help: "Jobs completed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_jobs_failed_total", Help: "Job attempts that failed"})
	JobsEnded        = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_jobs_ended_total", Help: "Jobs killed after three strikes"})
	PolicyRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_policy_rejects_total", Help: "Backend content policy refusals"})
	FanoutJobs       = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_fanout_jobs_total", Help: "Jobs synthesized by scan fan-out"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_rate_limit_rejects_total", Help: "Uploads rejected by rate limiter"})
	SnapshotFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "studio_snapshot_failures_total", Help: "Workspace snapshot write failures"})
	PendingGauge     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "studio_jobs_pending", Help: "Pending jobs per lane"}, []string{"lane"})
	ProcessingGauge  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "studio_jobs_processing", Help: "In-flight jobs per lane"}, []string{"lane"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SourcesUploaded,
			JobsAdmitted,
			JobsSucceeded,
			JobsFailed,
			JobsEnded,
			PolicyRejects,
			FanoutJobs,
			RateLimitRejects,
			SnapshotFailures,
			PendingGauge,
			ProcessingGauge,
		)
	})
	return promhttp.Handler()
}
