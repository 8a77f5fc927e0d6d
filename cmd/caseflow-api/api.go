// Package main provides the caseflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/services"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	runner      web.Runner
	gatherer    prometheus.Gatherer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	runner web.Runner,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		runner:      runner,
		gatherer:    gatherer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewWorkflow(a.persistence),
		services.NewExecution(a.persistence),
		a.runner,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("caseflow API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/enable", handlers.EnableWorkflow)
	w.Post("/:id/disable", handlers.DisableWorkflow)

	e := app.Group("/executions")
	e.Get("/", handlers.GetExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/continue", handlers.ContinueExecution)

	app.Post("/events", handlers.TriggerEvent)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Starting caseflow API", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
