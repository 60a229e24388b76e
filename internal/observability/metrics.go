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
			Namespace: "wifikey",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wifikey",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "codec",
			Name:      "frames_sent_total",
			Help:      "Frames written to the active session.",
		},
		[]string{"kind", "compressed"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "codec",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the active session.",
		},
		[]string{"kind"},
	)
	framesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "codec",
			Name:      "frames_rejected_total",
			Help:      "Inbound frames dropped because they failed to decode.",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "session",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to the active session.",
		},
	)
	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "session",
			Name:      "send_failures_total",
			Help:      "Send attempts that did not reach the peer.",
		},
		[]string{"reason"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Handshake attempts by result.",
		},
		[]string{"result"},
	)
	handshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wifikey",
			Subsystem: "session",
			Name:      "handshake_duration_seconds",
			Help:      "Time from accept to handshake outcome.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	sessionConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wifikey",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a peer session is connected.",
		},
	)
	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "session",
			Name:      "heartbeats_total",
			Help:      "Heartbeat sends by result.",
		},
		[]string{"result"},
	)
	discoveryBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "discovery",
			Name:      "broadcasts_total",
			Help:      "Discovery request datagrams by result.",
		},
		[]string{"result"},
	)
	discoveryResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wifikey",
			Subsystem: "discovery",
			Name:      "responses_total",
			Help:      "Datagrams seen by the discovery listener.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesSent, framesReceived, framesRejected,
			bytesSent, sendFailures,
			handshakes, handshakeDuration, sessionConnected, heartbeats,
			discoveryBroadcasts, discoveryResponses,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameSent(kind string, compressed bool) {
	RegisterMetrics()
	framesSent.WithLabelValues(kind, strconv.FormatBool(compressed)).Inc()
}

func RecordBytesSent(n int) {
	RegisterMetrics()
	bytesSent.Add(float64(n))
}

func RecordSendFailure(reason string) {
	RegisterMetrics()
	sendFailures.WithLabelValues(reason).Inc()
}

func RecordFrameReceived(kind string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(kind).Inc()
}

func RecordFrameRejected() {
	RegisterMetrics()
	framesRejected.Inc()
}

func RecordHandshake(result string, duration time.Duration) {
	RegisterMetrics()
	handshakes.WithLabelValues(result).Inc()
	handshakeDuration.Observe(duration.Seconds())
}

func SetSessionConnected(connected bool) {
	RegisterMetrics()
	if connected {
		sessionConnected.Set(1)
		return
	}
	sessionConnected.Set(0)
}

func RecordHeartbeat(result string) {
	RegisterMetrics()
	heartbeats.WithLabelValues(result).Inc()
}

func RecordDiscoveryBroadcast(result string) {
	RegisterMetrics()
	discoveryBroadcasts.WithLabelValues(result).Inc()
}

func RecordDiscoveryResponse(result string) {
	RegisterMetrics()
	discoveryResponses.WithLabelValues(result).Inc()
}
