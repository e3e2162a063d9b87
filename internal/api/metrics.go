package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharebox_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sharebox_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	permissionEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharebox_permission_entries",
		Help: "Number of entries in the permission document.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharebox_reconcile_duration_seconds",
		Help:    "Time taken by permission reconciliation runs.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	})

	listingNodes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharebox_listing_nodes",
		Help:    "Number of nodes returned per directory listing.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	usersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharebox_users_total",
		Help: "Number of user accounts.",
	})

	activeSessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharebox_active_sessions_total",
		Help: "Number of unexpired login sessions.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, permissionEntries,
		reconcileDuration, listingNodes, usersTotal, activeSessionsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics labelled by route pattern, so
// file paths do not become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, route, status).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(dur)
	})
}
