// Package metrics exposes Prometheus collectors for the frontier service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	frontierEnqueuedTotal   *prometheus.CounterVec
	frontierDispatchedTotal *prometheus.CounterVec
	frontierCompletedTotal  *prometheus.CounterVec
	frontierFailedTotal     *prometheus.CounterVec
	frontierDeadTotal       *prometheus.CounterVec

	frontierClaimConflictsTotal prometheus.Counter
	frontierReclaimedTotal      prometheus.Counter
	frontierRequeuedTotal       prometheus.Counter

	frontierRecords *prometheus.GaugeVec

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
)

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		frontierEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_enqueued_total",
			Help: "Number of new URL records admitted to the frontier.",
		}, []string{"domain"})

		frontierDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_dispatched_total",
			Help: "Number of URL claims handed out, by claiming node.",
		}, []string{"node"})

		frontierCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_completed_total",
			Help: "Number of URLs reported successfully crawled.",
		}, []string{"domain"})

		frontierFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_failed_total",
			Help: "Number of crawl failures scheduled for retry.",
		}, []string{"domain"})

		frontierDeadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_dead_total",
			Help: "Number of URLs that exhausted their retries.",
		}, []string{"domain"})

		frontierClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "frontier_claim_conflicts_total",
			Help: "Number of conditional writes lost to a concurrent claimant.",
		})

		frontierReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "frontier_reclaimed_total",
			Help: "Number of expired leases returned to the pending pool.",
		})

		frontierRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "frontier_retries_requeued_total",
			Help: "Number of failed URLs requeued after their backoff elapsed.",
		})

		frontierRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "frontier_records",
			Help: "Current record count per status, sampled on stats reads.",
		}, []string{"status"})

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Number of HTTP requests served.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEnqueue records a newly admitted URL.
func ObserveEnqueue(domain string) {
	if frontierEnqueuedTotal != nil {
		frontierEnqueuedTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveDispatch records claims handed out to a node.
func ObserveDispatch(node string, count int) {
	if frontierDispatchedTotal != nil && count > 0 {
		frontierDispatchedTotal.WithLabelValues(node).Add(float64(count))
	}
}

// ObserveComplete records a successful crawl report.
func ObserveComplete(domain string) {
	if frontierCompletedTotal != nil {
		frontierCompletedTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveFail records a failure scheduled for retry.
func ObserveFail(domain string) {
	if frontierFailedTotal != nil {
		frontierFailedTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveDead records a URL going terminally dead.
func ObserveDead(domain string) {
	if frontierDeadTotal != nil {
		frontierDeadTotal.WithLabelValues(domain).Inc()
	}
}

// ObserveClaimConflict records a conditional write lost to a racer.
func ObserveClaimConflict() {
	if frontierClaimConflictsTotal != nil {
		frontierClaimConflictsTotal.Inc()
	}
}

// ObserveReclaim records expired leases swept back to pending.
func ObserveReclaim(count int) {
	if frontierReclaimedTotal != nil && count > 0 {
		frontierReclaimedTotal.Add(float64(count))
	}
}

// ObserveRetryRequeue records failed URLs requeued for another attempt.
func ObserveRetryRequeue(count int) {
	if frontierRequeuedTotal != nil && count > 0 {
		frontierRequeuedTotal.Add(float64(count))
	}
}

// SetRecordCount sets the sampled record gauge for one status.
func SetRecordCount(status string, count int) {
	if frontierRecords != nil {
		frontierRecords.WithLabelValues(status).Set(float64(count))
	}
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, httpCode(code)).Inc()
	}
	if httpRequestDurationSeconds != nil {
		httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
