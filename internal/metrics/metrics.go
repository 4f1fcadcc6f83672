package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_ws_connections",
		Help: "Current number of active websocket connections",
	})
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_rooms",
		Help: "Current number of rooms with at least one member",
	})
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_chat_messages_total",
		Help: "Total number of chat messages persisted",
	})
	ChatPurgesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_chat_purges_total",
		Help: "Total number of room chat history purges executed",
	})
	ChatPurgeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collab_chat_purge_failures_total",
		Help: "Total number of failed room chat history purges",
	})
	DroppedFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_dropped_frames_total",
		Help: "Frames not delivered because a member's send buffer was full",
	}, []string{"event"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		ActiveRooms,
		ChatMessagesTotal,
		ChatPurgesTotal,
		ChatPurgeFailuresTotal,
		DroppedFramesTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware records request counts and latency.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
