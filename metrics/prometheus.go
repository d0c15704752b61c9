package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// all metrics and middlewares for the REST API
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Number of encrypted messages stored
	MessagesStoredMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "encrypted_messages_stored_total",
		Help: "The total number of encrypted messages appended to the store",
	})

	// Number of conversations created
	ConversationsCreatedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conversations_created_total",
		Help: "The total number of conversations created",
	})

	// Number of public key publications (including queued retries)
	KeysPublishedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "public_keys_published_total",
		Help: "The total number of public key directory upserts",
	})

	// Number of live SSE subscriptions currently open
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sse_subscriptions",
		Help: "Number of open live message subscriptions",
	})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(MessagesStoredMetricsCount)
		prometheus.MustRegister(ConversationsCreatedMetricsCount)
		prometheus.MustRegister(KeysPublishedMetricsCount)
		prometheus.MustRegister(ActiveSubscriptions)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Increment the counter for the given endpoint:
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, c.FullPath()).Inc()

		// Start timing responseTime histogram
		start := time.Now()

		// Set activeConnections gauge
		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		// Set responseTime histogram
		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(c.Request.Method, c.Request.URL.Path).Observe(float64(latency.Milliseconds()))
	}
}
