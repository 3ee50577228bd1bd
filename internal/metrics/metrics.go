package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Identification pipeline Prometheus metrics.
var (
	IdentificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drugid",
			Name:      "identifications_total",
			Help:      "Total identification requests by match type",
		},
		[]string{"match_type", "success"},
	)

	ImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drugid",
			Name:      "images_total",
			Help:      "Images seen by the pipeline by outcome",
		},
		[]string{"outcome"}, // ok / invalid / timeout
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drugid",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	OCREngineCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drugid",
			Name:      "ocr_engine_calls_total",
			Help:      "OCR engine invocations by engine and status",
		},
		[]string{"engine", "status"},
	)

	RegistryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drugid",
			Name:      "registry_requests_total",
			Help:      "Registry lookups by operation and status",
		},
		[]string{"operation", "status"},
	)

	RegistryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drugid",
			Name:      "registry_cache_total",
			Help:      "Registry cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drugid",
			Name:      "queue_jobs_total",
			Help:      "Queued identification jobs by driver and final status",
		},
		[]string{"driver", "status"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IdentificationsTotal,
			ImagesTotal,
			StageDuration,
			OCREngineCallsTotal,
			RegistryRequestsTotal,
			RegistryCacheTotal,
			QueueJobsTotal,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
