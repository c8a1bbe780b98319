package core

import (
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "hcpcs"

// Metrics holds the Prometheus collectors for validation runs.
// A nil *Metrics records nothing.
type Metrics struct {
	runs                *prometheus.CounterVec
	runDuration         prometheus.Histogram
	codes               prometheus.Counter
	cacheHits           prometheus.Counter
	providerValidations *prometheus.CounterVec
	quotaErrors         prometheus.Counter
	manualReviews       prometheus.Counter
	activeRuns          prometheus.Gauge
	staleRemoved        prometheus.Counter
}

// NewMetrics registers the validation collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "validation_runs_total",
			Help:      "Validation runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "validation_run_duration_seconds",
			Help:      "Wall time of a validation run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		codes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "codes_total",
			Help:      "Normalized codes submitted for validation.",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Codes answered from the validation cache.",
		}),
		providerValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_validations_total",
			Help:      "Codes sent to the provider pool, by verdict status.",
		}, []string{"status"}),
		quotaErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "quota_errors_total",
			Help:      "Codes that failed open because provider quota was exhausted.",
		}),
		manualReviews: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "manual_reviews_total",
			Help:      "Codes flagged for manual review.",
		}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_runs",
			Help:      "Validation runs currently holding a run slot.",
		}),
		staleRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_stale_removed_total",
			Help:      "Expired cache entries removed by the sweeper.",
		}),
	}
}

func (m *Metrics) observeRun(mode string, stats RunStats, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	m.codes.Add(float64(stats.TotalCodes))
	m.cacheHits.Add(float64(stats.CacheHits))
	m.quotaErrors.Add(float64(stats.QuotaErrors))
	m.manualReviews.Add(float64(stats.ManualReviews))
}

func (m *Metrics) observeProvider(status hcpcs.Status) {
	if m == nil {
		return
	}
	m.providerValidations.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}

func (m *Metrics) observeSweep(removed int) {
	if m == nil {
		return
	}
	m.staleRemoved.Add(float64(removed))
}
