package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtdb",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)

	sessionConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Transports that completed the handshake.",
		},
		[]string{"host"},
	)
	sessionDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Ready transports that ended.",
		},
		[]string{"host"},
	)
	sessionReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled.",
		},
		[]string{"host"},
	)
	sessionReconnectDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "reconnect_delay_seconds",
			Help:      "Delay before each scheduled reconnect.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"host"},
	)
	sessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests answered by the server.",
		},
		[]string{"host", "action", "outcome"},
	)
	sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Events emitted from server pushes.",
		},
		[]string{"host", "kind"},
	)
	sessionStalePushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "stale_pushes_total",
			Help:      "Pushes for tags with no active listen.",
		},
		[]string{"host"},
	)
	sessionDroppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "dropped_events_total",
			Help:      "Events not delivered because a subscriber was full.",
		},
		[]string{"host", "stream"},
	)
	sessionListens = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "active_listens",
			Help:      "Registered listens.",
		},
		[]string{"host"},
	)
	sessionOutstanding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rtdb",
			Subsystem: "session",
			Name:      "outstanding_requests",
			Help:      "Requests waiting for a response.",
		},
		[]string{"host"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionConnects, sessionDisconnects, sessionReconnects, sessionReconnectDelay,
			sessionRequests, sessionEvents, sessionStalePushes, sessionDroppedEvents,
			sessionListens, sessionOutstanding,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

// SessionMetrics records one session's counters under its host label.
type SessionMetrics struct {
	host string
}

func NewSessionMetrics(host string) SessionMetrics {
	RegisterMetrics()
	return SessionMetrics{host: host}
}

func (m SessionMetrics) Connected() {
	sessionConnects.WithLabelValues(m.host).Inc()
}

func (m SessionMetrics) Disconnected() {
	sessionDisconnects.WithLabelValues(m.host).Inc()
}

func (m SessionMetrics) ReconnectScheduled(delay time.Duration) {
	sessionReconnects.WithLabelValues(m.host).Inc()
	sessionReconnectDelay.WithLabelValues(m.host).Observe(delay.Seconds())
}

func (m SessionMetrics) Request(action, outcome string) {
	sessionRequests.WithLabelValues(m.host, action, outcome).Inc()
}

func (m SessionMetrics) Event(kind string) {
	sessionEvents.WithLabelValues(m.host, kind).Inc()
}

func (m SessionMetrics) StalePush() {
	sessionStalePushes.WithLabelValues(m.host).Inc()
}

func (m SessionMetrics) DroppedEvent(stream string) {
	sessionDroppedEvents.WithLabelValues(m.host, stream).Inc()
}

func (m SessionMetrics) Listens(n int) {
	sessionListens.WithLabelValues(m.host).Set(float64(n))
}

func (m SessionMetrics) Outstanding(n int) {
	sessionOutstanding.WithLabelValues(m.host).Set(float64(n))
}
