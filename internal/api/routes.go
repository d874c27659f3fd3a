package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouteOptions struct {
	AdminUser      string
	AdminPassword  string
	RateLimit      int
	MetricsEnabled bool
}

func SetupRoutes(app *fiber.App, handler *Handler, opts RouteOptions) {
	// Global middlewares
	app.Use(RequestID())
	app.Use(ErrorHandler())

	// Health checks (sem rate limiting)
	app.Get("/health", handler.HealthCheck)
	app.Get("/ready", handler.ReadinessCheck)

	// Metrics endpoint para Prometheus (sem rate limiting)
	if opts.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Swagger documentation (sem rate limiting)
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API v1 - com middlewares de rate limiting e métricas
	v1 := app.Group("/api/v1")
	v1.Use(RateLimiter(opts.RateLimit))
	v1.Use(PrometheusMiddleware())

	prices := v1.Group("/prices")
	prices.Get("/latest", handler.GetLatest)
	prices.Get("/summary", handler.GetSummary)
	prices.Get("/summary/:commodity", handler.GetCommoditySummary)
	prices.Get("/state/:state", handler.GetByState)

	// Admin routes
	admin := v1.Group("/admin")
	admin.Use(BasicAuth(opts.AdminUser, opts.AdminPassword))
	admin.Get("/providers", handler.ListProviders)
	admin.Post("/poll", handler.TriggerPoll)
	admin.Post("/poll/:commodity", handler.TriggerPoll)
	admin.Delete("/prices", handler.ResetPrices)
	admin.Delete("/cache", handler.InvalidateCache)
	admin.Get("/stats", handler.GetSystemStats)
}
