package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store metrics, scraped from /metrics.
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jema_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jema_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"repo", "operation"},
	)

	// PrivilegeConflicts counts unique-name conflicts resolved by re-lookup
	PrivilegeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jema_privilege_conflicts_total",
			Help: "Privilege creations that lost a uniqueness race and were re-read",
		},
	)
)

// HTTP metrics
var (
	// HTTPRequests tracks requests by route pattern and status class
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jema_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
)

// DB operation statuses
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// ObserveDB records the outcome of one repository call. Errors matching one
// of misses are counted as not_found rather than error. Use it as
//
//	defer metrics.ObserveDB("accounts", "get_by_id", time.Now(), &err, identity.ErrAccountNotFound)
func ObserveDB(repo, operation string, start time.Time, errp *error, misses ...error) {
	status := StatusSuccess
	if errp != nil && *errp != nil {
		status = StatusError
		for _, miss := range misses {
			if errors.Is(*errp, miss) {
				status = StatusNotFound
				break
			}
		}
	}
	DBOperations.WithLabelValues(repo, operation, status).Inc()
	DBDuration.WithLabelValues(repo, operation).Observe(time.Since(start).Seconds())
}
