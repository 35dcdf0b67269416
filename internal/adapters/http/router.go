package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/flyover/internal/pkg/metrics"
)

// placesSearchSunset is when the pre-gazetteer search alias goes away.
var placesSearchSunset = time.Date(2027, time.March, 31, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Deprecated aliases
	app.Use(DeprecationMiddleware([]DeprecatedRoute{
		{Path: "/v1/places/search", SunsetDate: placesSearchSunset, Alternative: "/v1/gazetteer/search"},
		{Path: "/v1/places/:id", SunsetDate: placesSearchSunset, Alternative: "/v1/gazetteer/places/:id"},
	}))

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1, 15s per-request timeout
	v1 := app.Group("/v1")

	// Flyover sessions
	v1.Post("/flyovers", timeout.NewWithContext(CreateFlyoverHandler(deps), 15*time.Second))
	v1.Get("/flyovers/:id", timeout.NewWithContext(GetFlyoverHandler(deps), 15*time.Second))
	v1.Delete("/flyovers/:id", timeout.NewWithContext(DeleteFlyoverHandler(deps), 15*time.Second))
	v1.Get("/flyovers/:id/route.geojson", timeout.NewWithContext(RouteGeoJSONHandler(deps), 15*time.Second))
	v1.Post("/flyovers/:id/start", timeout.NewWithContext(StartFlyoverHandler(deps), 15*time.Second))
	v1.Post("/flyovers/:id/pause", timeout.NewWithContext(PauseFlyoverHandler(deps), 15*time.Second))
	v1.Post("/flyovers/:id/resume", timeout.NewWithContext(ResumeFlyoverHandler(deps), 15*time.Second))
	v1.Post("/flyovers/:id/reset", timeout.NewWithContext(ResetFlyoverHandler(deps), 15*time.Second))
	v1.Post("/flyovers/:id/speed", timeout.NewWithContext(SpeedFlyoverHandler(deps), 15*time.Second))
	v1.Post("/flyovers/:id/panorama/toggle", timeout.NewWithContext(TogglePanoramaHandler(deps), 15*time.Second))

	// Gazetteer
	v1.Get("/gazetteer/search", timeout.NewWithContext(SearchPlacesHandler(deps), 15*time.Second))
	v1.Get("/gazetteer/places", timeout.NewWithContext(ListPlacesHandler(deps), 15*time.Second))
	v1.Get("/gazetteer/places/:id", timeout.NewWithContext(GetPlaceHandler(deps), 15*time.Second))
	v1.Get("/places/search", timeout.NewWithContext(SearchPlacesHandler(deps), 15*time.Second))
	v1.Get("/places/:id", timeout.NewWithContext(GetPlaceHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app, "api/openapi.yaml")

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/flyovers/:id/surface", websocket.New(SurfaceSocketHandler(deps)))
	app.Get("/ws/flyovers/:id/events", websocket.New(EventsSocketHandler(deps)))
}
