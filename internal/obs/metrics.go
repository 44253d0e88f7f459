package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	auctionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_events_total",
			Help: "Negotiation events committed to the ledger, by operation and origin.",
		},
		[]string{"operation", "origin"},
	)

	brokerPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_publish_failures_total",
		Help: "Events that could not be published to the broker channel.",
	})
)

// Init registers metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		auctionEventsTotal,
		brokerPublishFailures,
	)
}

// Handler exposes the Prometheus endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountAuctionEvent increments the committed-event counter. Origin is
// "local" for caller mutations and "federated" for folded events.
func CountAuctionEvent(operation, origin string) {
	auctionEventsTotal.WithLabelValues(operation, origin).Inc()
}

// CountPublishFailure records a dropped broker publication.
func CountPublishFailure() {
	brokerPublishFailures.Inc()
}

// CanonicalPath collapses identifier path segments so metric labels stay
// low-cardinality.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if strings.HasPrefix(path, "/v1/auctions/") {
		rest := strings.TrimPrefix(path, "/v1/auctions/")
		switch rest {
		case "offer", "proposal", "accept", "reject", "offers", "stream":
			return path
		}
		if rest != "" && !strings.Contains(rest, "/") {
			return "/v1/auctions/:id"
		}
	}
	if strings.HasPrefix(path, "/v1/properties/detail/") {
		return "/v1/properties/detail/:name/:location"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers keep streaming through the instrumented writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
