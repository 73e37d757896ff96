package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rosview",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rosview", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	viewersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "rosview", Name: "graph_viewers_connected", Help: "Currently connected graph WebSocket viewers"},
	)
	streamSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "rosview", Name: "stream_sessions_active", Help: "Currently active per-topic streaming sessions"},
	)
	graphBroadcastTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "rosview", Name: "graph_broadcasts_total", Help: "Topology snapshots pushed to viewers"},
	)
	messagesStreamed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "rosview", Name: "messages_streamed_total", Help: "Telemetry messages sent to viewers"},
	)
	wsSendFailTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "rosview", Name: "ws_send_failures_total", Help: "WebSocket sends that failed"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, viewersConnected, streamSessions, graphBroadcastTotal, messagesStreamed, wsSendFailTotal)
}

// MetricsMiddleware records basic HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		observer := reqDuration.WithLabelValues(c.Request.Method, path, toStr(status))
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.With(prometheus.Labels{"method": c.Request.Method, "path": path, "status": toStr(status)}).Inc()
	}
}

func toStr(i int) string { return strconv.Itoa(i) }
