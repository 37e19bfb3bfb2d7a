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
			Namespace: "xferbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xferbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xferbridge",
			Subsystem: "backend",
			Name:      "connect_attempts_total",
			Help:      "Backend connect attempts by protocol and outcome.",
		},
		[]string{"protocol", "outcome"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xferbridge",
			Subsystem: "backend",
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved through the bridge by direction and protocol.",
		},
		[]string{"direction", "protocol"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xferbridge",
			Subsystem: "session",
			Name:      "active",
			Help:      "Live sessions in the registry.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, connectAttempts, transferBytes, activeSessions)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectAttempt(protocol string, ok bool) {
	RegisterMetrics()
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	connectAttempts.WithLabelValues(protocol, outcome).Inc()
}

func RecordTransferBytes(direction, protocol string, n int64) {
	RegisterMetrics()
	if n <= 0 {
		return
	}
	transferBytes.WithLabelValues(direction, protocol).Add(float64(n))
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	activeSessions.Set(float64(n))
}
