package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp mounts the handlers. Metrics are served from gatherer when it is not nil.
func NewApp(handlers *APIHandlers, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("capgraph API")
	})

	app.Get("/health", handlers.HealthCheck)

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	nt := app.Group("/node-types")
	nt.Get("/", handlers.GetNodeTypes)
	nt.Get("/:type", handlers.GetNodeType)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/validate", handlers.ValidateWorkflow)
	w.Post("/execute", handlers.ExecuteWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/execute", handlers.ExecuteStoredWorkflow)

	return app
}
