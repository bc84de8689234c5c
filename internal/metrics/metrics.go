package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamepulse"

// Metrics holds every collector the service exports. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	subscribers      prometheus.Gauge
	published        *prometheus.CounterVec
	deliveriesFailed prometheus.Counter
	slowDropped      prometheus.Counter

	sessionEvents  *prometheus.CounterVec
	ingestRejected *prometheus.CounterVec
	snapshotErrors prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Live event stream subscribers.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to the broadcast hub.",
		}, []string{"kind"}),
		deliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_failed_total",
			Help:      "Subscriber writes that failed and removed the subscriber.",
		}),
		slowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_subscribers_dropped_total",
			Help:      "Subscribers removed for falling too far behind.",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle outcomes.",
		}, []string{"event"}),
		ingestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Producer payloads rejected before broadcast.",
		}, []string{"reason"}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_write_errors_total",
			Help:      "Failed writes to the live snapshot store.",
		}),
	}

	reg.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.subscribers, m.published, m.deliveriesFailed, m.slowDropped,
		m.sessionEvents, m.ingestRejected, m.snapshotErrors,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight requests. The
// path label is the chi route pattern so ids never explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)

		m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
	})
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) EventPublished(kind string) {
	if m != nil {
		m.published.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.deliveriesFailed.Inc()
	}
}

func (m *Metrics) SlowSubscriberDropped() {
	if m != nil {
		m.slowDropped.Inc()
	}
}

// SessionEvent counts login, rotation, revocation and logout outcomes.
func (m *Metrics) SessionEvent(event string) {
	if m != nil {
		m.sessionEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) IngestRejected(reason string) {
	if m != nil {
		m.ingestRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SnapshotWriteFailed() {
	if m != nil {
		m.snapshotErrors.Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
