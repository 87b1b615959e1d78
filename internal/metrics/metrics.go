package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memorial_livestream"

var (
	// Transitions counts stream status changes.
	// Labels: from, to, trigger ("poll", "webhook", "admin", "force")
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_transitions_total",
			Help:      "Stream lifecycle transitions",
		},
		[]string{"from", "to", "trigger"},
	)

	// ReconcilePasses counts reconciliation passes by outcome.
	// Labels: outcome ("noop", "updated", "error")
	ReconcilePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	// ReconcileDuration observes the wall time of a pass including lease wait.
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// LiveConflicts counts live transitions refused because another stream
	// of the same memorial was already live.
	LiveConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_conflicts_total",
			Help:      "Live transitions refused by the one-live-per-memorial rule",
		},
	)

	// RecordingTimeouts counts streams flagged for manual recording follow-up.
	RecordingTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_timeouts_total",
			Help:      "Streams flagged for manual recording check",
		},
	)

	// VendorCalls counts vendor API calls.
	// Labels: provider, op, outcome ("ok", "rejected", "unavailable")
	VendorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "Video provider API calls",
		},
		[]string{"provider", "op", "outcome"},
	)

	// VendorCallDuration observes vendor call latency including retries.
	VendorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_call_duration_seconds",
			Help:      "Video provider API call duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)

	// WebhookEvents counts inbound vendor webhooks.
	// Labels: provider, kind, result ("applied", "ignored", "malformed")
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound vendor webhook events",
		},
		[]string{"provider", "kind", "result"},
	)

	// Notifications counts outbound lifecycle notifications.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound lifecycle notifications",
		},
		[]string{"event_type", "result"},
	)

	// LiveFeedSubscribers tracks connected websocket viewers.
	LiveFeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "livefeed_subscribers",
			Help:      "Connected live feed websocket clients",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveVendorCall records one vendor call.
func ObserveVendorCall(provider, op, outcome string, d time.Duration) {
	VendorCalls.WithLabelValues(provider, op, outcome).Inc()
	VendorCallDuration.WithLabelValues(provider, op).Observe(d.Seconds())
}

// Middleware collects HTTP request metrics keyed by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
