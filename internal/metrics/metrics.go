// Package metrics exposes Prometheus collectors for the marketplace API.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every marketplace collector.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the API.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	checkouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "checkout",
		Name:      "total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"result"})

	checkoutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "Duration of checkout sagas.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	reservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "inventory",
		Name:      "reservations_total",
		Help:      "Stock reservations by outcome.",
	}, []string{"result"})

	roleChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "roles",
		Name:      "changes_total",
		Help:      "Committed role ledger mutations by action.",
	}, []string{"action"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "notifications",
		Name:      "total",
		Help:      "Notifications by delivery path (live or queued).",
	}, []string{"delivery"})

	negotiations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "bids",
		Name:      "events_total",
		Help:      "Bid and auction transitions by kind and event.",
	}, []string{"kind", "event"})

	liveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketplace",
		Subsystem: "notifications",
		Name:      "sessions",
		Help:      "Open websocket sessions.",
	})
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		checkouts,
		checkoutDuration,
		reservations,
		roleChanges,
		notifications,
		negotiations,
		liveSessions,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency per chi route pattern.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordCheckout records one finished checkout attempt.
func RecordCheckout(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	checkouts.WithLabelValues(result).Inc()
	checkoutDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordReservation records the outcome of one ReserveAndCommit call.
func RecordReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

// RecordRoleChange records a committed role ledger mutation.
func RecordRoleChange(action string) {
	roleChanges.WithLabelValues(action).Inc()
}

// RecordNotification counts one notification by how it was delivered.
func RecordNotification(delivery string) {
	notifications.WithLabelValues(delivery).Inc()
}

// RecordNegotiation counts one bid or auction transition, e.g. ("bid", "approved").
func RecordNegotiation(kind, event string) {
	negotiations.WithLabelValues(kind, event).Inc()
}

// SessionOpened and SessionClosed track live websocket sessions.
func SessionOpened() { liveSessions.Inc() }
func SessionClosed() { liveSessions.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so websocket upgrades work behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// routePattern returns the matched chi pattern, e.g. /api/v1/stores/{storeID}.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
