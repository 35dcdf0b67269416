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
		Namespace: "flyover",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flyover",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flyover",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Resolver metrics
	ResolverEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "resolver",
		Name:      "entries_total",
		Help:      "Itinerary entries resolved, by resolution source",
	}, []string{"source"})

	ResolverDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "resolver",
		Name:      "dropped_total",
		Help:      "Itinerary entries dropped because no coordinate was found",
	})

	GeocodeBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flyover",
		Subsystem: "geocode",
		Name:      "batch_duration_seconds",
		Help:      "Duration of batch geocoding requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 6},
	})

	GeocodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "geocode",
		Name:      "errors_total",
		Help:      "Batch geocoding requests that failed or timed out",
	})

	// Camera metrics
	CameraTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "camera",
		Name:      "safety_timeouts_total",
		Help:      "Camera operations that resolved through their safety timeout",
	}, []string{"backend", "op"})

	CameraDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "camera",
		Name:      "downgrades_total",
		Help:      "Sessions that fell back to the pose-only backend",
	})

	// Playback metrics
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "playback",
		Name:      "phase_transitions_total",
		Help:      "Playback phase transitions, by target phase",
	}, []string{"phase"})

	LegsFlown = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "playback",
		Name:      "legs_flown_total",
		Help:      "Stops reached and held",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flyover",
		Subsystem: "playback",
		Name:      "active_sessions",
		Help:      "Current number of open flyover sessions",
	})

	PanoramaLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "panorama",
		Name:      "lookups_total",
		Help:      "Panorama lookups, by result (found, missing, error, stale)",
	}, []string{"result"})

	ActiveWebSockets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flyover",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	}, []string{"kind"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyover",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flyover",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flyover",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flyover",
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

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// It takes an interface so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
