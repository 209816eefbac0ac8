package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearchat",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nearchat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Location metrics
	LocationUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearchat",
		Subsystem: "location",
		Name:      "updates_total",
		Help:      "Location updates by outcome",
	}, []string{"result"})

	NearbyQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearchat",
		Subsystem: "location",
		Name:      "nearby_queries_total",
		Help:      "Nearby-user queries by outcome",
	}, []string{"result"})

	NearbyResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nearchat",
		Subsystem: "location",
		Name:      "nearby_results",
		Help:      "Number of users returned per nearby query",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearchat",
		Subsystem: "location",
		Name:      "access_decisions_total",
		Help:      "Location access decisions by reason",
	}, []string{"allowed", "reason"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearchat",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Failed store calls",
	}, []string{"store", "op"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearchat",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearchat",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearchat",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}

// PoolStat is the subset of pgxpool.Stat the gauges read.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// UpdateDBPoolMetrics updates database pool gauges.
func UpdateDBPoolMetrics(s PoolStat) {
	DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(s.IdleConns()))
	DBPoolConnsOpen.Set(float64(s.TotalConns()))
}
