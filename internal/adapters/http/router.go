package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"

	"github.com/samirrijal/nearchat/internal/pkg/metrics"
)

const (
	requestTimeout = 15 * time.Second
	openAPIPath    = "api/openapi.yaml"
)

// SetupRoutes registers the location REST API, GraphQL and the probes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(CachingMiddleware())

	// Health & readiness (no auth, no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	auth := AuthMiddleware(deps.Auth)

	loc := app.Group("/v1/location", auth)
	loc.Put("/", timeout.NewWithContext(UpdateLocationHandler(deps), requestTimeout))
	loc.Delete("/", timeout.NewWithContext(RemoveLocationHandler(deps), requestTimeout))
	loc.Get("/status", timeout.NewWithContext(LocationStatusHandler(deps), requestTimeout))
	loc.Patch("/privacy", timeout.NewWithContext(UpdatePrivacyHandler(deps), requestTimeout))
	loc.Get("/nearby", timeout.NewWithContext(NearbyUsersHandler(deps), requestTimeout))
	loc.Get("/distance/:userId", timeout.NewWithContext(DistanceHandler(deps), requestTimeout))
	loc.Get("/access/:userId", timeout.NewWithContext(AccessHandler(deps), requestTimeout))

	app.Post("/graphql", auth, timeout.NewWithContext(GraphQLHandler(deps), requestTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app, openAPIPath)
}
