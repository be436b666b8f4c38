// Package metrics defines the Prometheus instruments for VIN resolution.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/httpcache"
)

var (
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vehicle_resolutions_total",
			Help: "Total number of VIN resolutions by outcome and search source",
		},
		[]string{"outcome", "source"},
	)

	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vehicle_resolution_duration_seconds",
			Help:    "Duration of uncached VIN resolutions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vehicle_search_attempts_total",
			Help: "Total number of listing search attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	SearchAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vehicle_search_attempt_duration_seconds",
			Help:    "Duration of listing search attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vehicle_result_cache_total",
			Help: "Result cache lookups by result (hit, miss, expired, error)",
		},
		[]string{"result"},
	)

	EnrichmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vehicle_enrichment_fetches_total",
			Help: "Enrichment fetches by source and result",
		},
		[]string{"source", "result"},
	)

	ResultCacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vehicle_result_cache_entries",
			Help: "Result cache rows by state (fresh, expired)",
		},
		[]string{"state"},
	)

	ResponseCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vehicle_response_cache_entries",
			Help: "Entries held in the in-process HTTP response cache",
		},
	)

	UpstreamQuotaRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vehicle_upstream_quota_remaining",
			Help: "Remaining request quota reported by upstream rate-limit headers",
		},
		[]string{"service"},
	)
)

var registerOnce sync.Once

// Register registers all instruments with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ResolutionsTotal,
			ResolutionDuration,
			SearchAttemptsTotal,
			SearchAttemptDuration,
			ResultCacheTotal,
			EnrichmentTotal,
			ResultCacheEntries,
			ResponseCacheEntries,
			UpstreamQuotaRemaining,
		)
	})
}

// ObserveAttempt records one search attempt.
func ObserveAttempt(a model.Attempt, elapsed time.Duration) {
	result := "empty"
	switch {
	case a.Error != "":
		result = "error"
	case a.ResultCount != nil && *a.ResultCount > 0:
		result = "match"
	}
	SearchAttemptsTotal.WithLabelValues(a.Strategy, result).Inc()
	SearchAttemptDuration.WithLabelValues(a.Strategy).Observe(elapsed.Seconds())
}

// ObserveEnrichment records one enrichment fetch.
func ObserveEnrichment(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EnrichmentTotal.WithLabelValues(source, result).Inc()
}

// ObserveRateLimit is an httpcache.RateLimitHook that tracks quota.
func ObserveRateLimit(service string, rl httpcache.RateLimit) {
	if rl.Remaining != nil {
		UpstreamQuotaRemaining.WithLabelValues(service).Set(float64(*rl.Remaining))
	}
}

var _ httpcache.RateLimitHook = ObserveRateLimit
