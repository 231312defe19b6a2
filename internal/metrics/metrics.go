package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the credit pipeline and the HTTP surface
var (
	SubmissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "energy_submissions_total",
			Help: "Total number of energy submissions accepted",
		},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_decisions_total",
			Help: "Total number of verifier decisions applied",
		},
		[]string{"decision"},
	)

	MintsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_mints_total",
			Help: "Total number of submissions minted",
		},
	)

	CreditTokensMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_tokens_minted_total",
			Help: "Total credit tokens created by minting",
		},
	)

	LostRacesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compare_and_set_lost_total",
			Help: "Operations rejected because a concurrent writer won the compare-and-set",
		},
		[]string{"operation"},
	)

	TradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_trades_total",
			Help: "Total number of settled trades",
		},
	)

	InvariantViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Invariant checks that failed and rolled a transaction back",
		},
		[]string{"operation"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Domain events dropped because the dispatch queue was full or closed",
		},
		[]string{"type"},
	)

	EventDeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_delivery_failures_total",
			Help: "Failed event deliveries by sink",
		},
		[]string{"sink"},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry. It is
// safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			DecisionsTotal,
			MintsTotal,
			CreditTokensMinted,
			LostRacesTotal,
			TradesTotal,
			InvariantViolationsTotal,
			EventsDropped,
			EventDeliveryFailures,
			JobRunsTotal,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Instrument records request counts and latency per matched route.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(startTime).Seconds()
		httpRequestDuration.WithLabelValues(route, c.Request.Method).Observe(duration)
		httpRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
