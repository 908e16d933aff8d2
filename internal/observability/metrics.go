package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_api_requests_total",
			Help: "Total number of REST calls issued by the chat client.",
		},
		[]string{"method", "route", "status"},
	)
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_api_request_duration_seconds",
			Help:    "REST call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_token_refresh_total",
			Help: "Access token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)
	wsState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_client_ws_state",
			Help: "Current realtime session state (1 for the active state).",
		},
		[]string{"state"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_events_total",
			Help: "Total number of realtime events by direction.",
		},
		[]string{"direction", "event"},
	)
	wsReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_ws_reconnect_attempts_total",
			Help: "Total number of realtime reconnect attempts.",
		},
	)
	wsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_dropped_total",
			Help: "Outbound events dropped because the session was not connected.",
		},
		[]string{"event"},
	)
	reconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_reconcile_outcomes_total",
			Help: "Results of applying incoming messages.",
		},
		[]string{"outcome"},
	)
	optimisticFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_optimistic_failed_total",
			Help: "Optimistic messages marked failed after the stale window.",
		},
	)
	debugRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_debug_requests_total",
			Help: "Total number of requests served by the debug API.",
		},
		[]string{"method", "route", "status"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

var wsStates = []string{"disconnected", "connecting", "connected", "reconnecting", "failed"}

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		tokenRefreshTotal,
		wsState,
		wsEventsTotal,
		wsReconnectAttempts,
		wsDroppedTotal,
		reconcileOutcomesTotal,
		optimisticFailedTotal,
		debugRequestsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records debug API traffic.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		debugRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func ObserveAPIRequest(method, route string, status int, elapsed time.Duration) {
	apiRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func IncTokenRefresh(outcome string) {
	tokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// SetWSState marks state as the only active realtime state.
func SetWSState(state string) {
	for _, s := range wsStates {
		if s == state {
			wsState.WithLabelValues(s).Set(1)
			continue
		}
		wsState.WithLabelValues(s).Set(0)
	}
}

func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncWSReconnectAttempt() {
	wsReconnectAttempts.Inc()
}

func IncWSDropped(event string) {
	wsDroppedTotal.WithLabelValues(event).Inc()
}

func IncReconcileOutcome(outcome string) {
	reconcileOutcomesTotal.WithLabelValues(outcome).Inc()
}

func IncOptimisticFailed() {
	optimisticFailedTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
