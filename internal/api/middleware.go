package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_duration_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"method", "route", "status_code"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status_code"})
)

func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := fmt.Sprintf("%d", c.Response().StatusCode())

		httpDuration.WithLabelValues(c.Method(), c.Route().Path, status).Observe(duration)
		httpRequests.WithLabelValues(c.Method(), c.Route().Path, status).Inc()

		return err
	}
}

func RateLimiter(max int) fiber.Handler {
	if max <= 0 {
		max = 100
	}
	return limiter.New(limiter.Config{
		Max:               max,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:     "muitas requisições",
				Code:      fiber.StatusTooManyRequests,
				RequestID: getRequestID(c),
				Timestamp: time.Now(),
			})
		},
	})
}

func BasicAuth(user, password string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
		Realm: "agro-cotacoes admin",
		Unauthorized: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:     "não autorizado",
				Code:      fiber.StatusUnauthorized,
				RequestID: getRequestID(c),
				Timestamp: time.Now(),
			})
		},
	})
}

func ErrorHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}

		code := fiber.StatusInternalServerError
		message := "erro interno"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		return c.Status(code).JSON(ErrorResponse{
			Error:     message,
			Code:      code,
			RequestID: getRequestID(c),
			Timestamp: time.Now(),
		})
	}
}

// RequestID propagates X-Request-ID (or a fresh UUID) to the response, the
// fiber locals, and the request context used for logging.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set("X-Request-ID", requestID)
		c.Locals("requestID", requestID)
		c.SetUserContext(context.WithValue(c.UserContext(), logger.RequestIDKey, requestID))

		return c.Next()
	}
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}
