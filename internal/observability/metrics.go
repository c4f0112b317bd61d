package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schat_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schat_ws_active_connections",
			Help: "Number of authenticated websocket connections bound in the registry.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schat_ws_events_total",
			Help: "Websocket lifecycle and frame events.",
		},
		[]string{"event"},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schat_deliveries_total",
			Help: "Submitted messages by delivery outcome.",
		},
		[]string{"outcome"},
	)
	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schat_status_transitions_total",
			Help: "Message status transitions applied, by target status.",
		},
		[]string{"to"},
	)
	typingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schat_typing_events_total",
			Help: "Typing signals by relay outcome.",
		},
		[]string{"outcome"},
	)
	aiBridgeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schat_ai_bridge_total",
			Help: "AI bridge calls by outcome.",
		},
		[]string{"outcome"},
	)
	aiBridgeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schat_ai_bridge_duration_seconds",
			Help:    "Time until the AI bridge produced a reply, including fallbacks.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		deliveriesTotal,
		statusTransitionsTotal,
		typingEventsTotal,
		aiBridgeTotal,
		aiBridgeDuration,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// Delivery outcomes.
const (
	DeliveryDelivered  = "delivered"
	DeliveryOffline    = "offline"
	DeliveryPushFailed = "push_failed"
	DeliveryAI         = "ai"
)

func IncDelivery(outcome string) {
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

func IncStatusTransition(to string, n int) {
	statusTransitionsTotal.WithLabelValues(to).Add(float64(n))
}

func IncTyping(outcome string) {
	typingEventsTotal.WithLabelValues(outcome).Inc()
}

func ObserveAIBridge(outcome string, elapsed time.Duration) {
	aiBridgeTotal.WithLabelValues(outcome).Inc()
	aiBridgeDuration.Observe(elapsed.Seconds())
}

func IncAIBridge(outcome string) {
	aiBridgeTotal.WithLabelValues(outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
