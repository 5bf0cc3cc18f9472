// Package metrics exposes Prometheus collectors for the visit scheduler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queuedOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queued_orders",
			Help: "Number of visit orders waiting in the queue.",
		},
	)

	acquiredOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_acquired_orders",
			Help: "Number of visit orders currently in flight.",
		},
	)

	hostQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_host_queues",
			Help: "Number of live host queues.",
		},
	)

	acquisitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_acquisitions_total",
			Help: "Total number of visit orders handed out.",
		},
	)

	acquireWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_acquire_wait_seconds",
			Help:    "Histogram of time spent waiting for an eligible order.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
	)

	releasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_releases_total",
			Help: "Total number of released orders, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_polls_total",
			Help: "Total number of work polls, labeled by result.",
		},
		[]string{"result"},
	)

	polledOrdersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_polled_orders_total",
			Help: "Total number of orders received from the work poller.",
		},
	)

	redirectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_redirects_total",
			Help: "Total number of resolved redirects, labeled by outcome status.",
		},
		[]string{"status"},
	)

	filterRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_filter_rejects_total",
			Help: "Total number of orders rejected by a pipeline filter.",
		},
		[]string{"filter"},
	)

	robotsFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_robots_fallbacks_total",
			Help: "Total robots.txt fetches answered with allow-all after transient TLS failures.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Release outcomes.
const (
	OutcomeDone           = "done"
	OutcomeRevisit        = "revisit"
	OutcomeRevisitDropped = "revisit_dropped"
)

// Poll results.
const (
	PollSuccess = "success"
	PollFailure = "failure"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetQueueSizes records the queue gauges in one call.
func SetQueueSizes(queued, acquired, hosts int) {
	queuedOrders.Set(float64(queued))
	acquiredOrders.Set(float64(acquired))
	hostQueues.Set(float64(hosts))
}

// ObserveAcquire counts an acquisition and how long the caller waited for it.
func ObserveAcquire(wait time.Duration) {
	acquisitionsTotal.Inc()
	acquireWaitSeconds.Observe(wait.Seconds())
}

// ObserveRelease counts a release with the given outcome.
func ObserveRelease(outcome string) {
	releasesTotal.WithLabelValues(outcome).Inc()
}

// ObservePoll counts a poll attempt and, on success, the orders it produced.
func ObservePoll(result string, orders int) {
	pollsTotal.WithLabelValues(result).Inc()
	if orders > 0 {
		polledOrdersTotal.Add(float64(orders))
	}
}

// ObserveRedirect counts a redirect resolution by its outcome status label.
func ObserveRedirect(status string) {
	redirectsTotal.WithLabelValues(status).Inc()
}

// ObserveFilterReject counts an order rejected by the named filter.
func ObserveFilterReject(filter string) {
	filterRejectsTotal.WithLabelValues(filter).Inc()
}

// ObserveRobotsFallback counts a robots.txt fetch replaced by allow-all.
func ObserveRobotsFallback() {
	robotsFallbacksTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
