package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/service"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

const Version = "1.0.0"

// HealthChecker is anything the readiness probe can ping.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Handler struct {
	prices      *service.PriceService
	aggregation *service.AggregationService
	ingestion   *service.IngestionService
	store       HealthChecker
	cache       HealthChecker
	startedAt   time.Time
}

// NewHandler wires the services into the HTTP layer. cache may be nil when
// the API runs without Redis.
func NewHandler(
	prices *service.PriceService,
	aggregation *service.AggregationService,
	ingestion *service.IngestionService,
	store HealthChecker,
	cache HealthChecker,
) *Handler {
	return &Handler{
		prices:      prices,
		aggregation: aggregation,
		ingestion:   ingestion,
		store:       store,
		cache:       cache,
		startedAt:   time.Now(),
	}
}

func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now(),
	})
}

func (h *Handler) ReadinessCheck(c *fiber.Ctx) error {
	ctx := c.UserContext()

	services := map[string]ServiceHealth{
		"database": probe(ctx, h.store),
	}
	if h.cache != nil {
		services["redis"] = probe(ctx, h.cache)
	}

	status := "ready"
	code := fiber.StatusOK
	// Redis is optional: only the database gates readiness.
	if services["database"].Status != "healthy" {
		status = "not ready"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(HealthResponse{
		Status:    status,
		Version:   Version,
		Timestamp: time.Now(),
		Services:  services,
	})
}

func probe(ctx context.Context, checker HealthChecker) ServiceHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := checker.HealthCheck(ctx); err != nil {
		return ServiceHealth{Status: "unhealthy", Error: err.Error()}
	}
	return ServiceHealth{Status: "healthy", Latency: time.Since(start).String()}
}

// GetLatest godoc
// @Summary Most recent prices
// @Tags prices
// @Param limit query int false "Maximum rows (capped)"
// @Success 200 {object} PriceListResponse
// @Router /prices/latest [get]
func (h *Handler) GetLatest(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)

	prices, err := h.prices.Latest(c.UserContext(), limit)
	if err != nil {
		return h.fail(c, err)
	}

	data := toPriceResponses(prices)
	return c.JSON(PriceListResponse{Data: data, Count: len(data)})
}

// GetSummary godoc
// @Summary Per-commodity averages over the latest date
// @Tags prices
// @Success 200 {object} SummaryListResponse
// @Router /prices/summary [get]
func (h *Handler) GetSummary(c *fiber.Ctx) error {
	summaries, err := h.aggregation.Summary(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}

	data := make([]SummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		data = append(data, toSummaryResponse(s))
	}
	return c.JSON(SummaryListResponse{Data: data, Count: len(data)})
}

// GetCommoditySummary godoc
// @Summary Averages for one commodity
// @Tags prices
// @Param commodity path string true "Commodity"
// @Success 200 {object} SummaryResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /prices/summary/{commodity} [get]
func (h *Handler) GetCommoditySummary(c *fiber.Ctx) error {
	commodity, err := domain.ParseCommodity(c.Params("commodity"))
	if err != nil {
		return h.fail(c, err)
	}

	summary, err := h.aggregation.SummaryFor(c.UserContext(), commodity)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(toSummaryResponse(summary))
}

// GetByState godoc
// @Summary Every stored price of a state
// @Tags prices
// @Param state path string true "Two-letter state code"
// @Success 200 {object} StatePricesResponse
// @Failure 400 {object} ErrorResponse
// @Router /prices/state/{state} [get]
func (h *Handler) GetByState(c *fiber.Ctx) error {
	state, err := url.PathUnescape(c.Params("state"))
	if err != nil {
		return h.fail(c, fmt.Errorf("%w: estado mal codificado", domain.ErrValidation))
	}

	prices, err := h.prices.ByState(c.UserContext(), state)
	if err != nil {
		return h.fail(c, err)
	}

	data := toPriceResponses(prices)
	return c.JSON(StatePricesResponse{
		State: domain.NormalizeState(state),
		Data:  data,
		Count: len(data),
	})
}

func (h *Handler) ListProviders(c *fiber.Ctx) error {
	providers := h.ingestion.Providers()
	return c.JSON(ProvidersResponse{Data: providers, Count: len(providers)})
}

func (h *Handler) TriggerPoll(c *fiber.Ctx) error {
	var commodities []domain.Commodity
	if raw := c.Params("commodity"); raw != "" {
		commodity, err := domain.ParseCommodity(raw)
		if err != nil {
			return h.fail(c, err)
		}
		commodities = append(commodities, commodity)
	}

	results, err := h.ingestion.Poll(c.UserContext(), commodities...)
	if err != nil {
		return h.fail(c, err)
	}

	resp := PollResponse{Results: results}
	for _, r := range results {
		if r.Status == domain.StatusOK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return c.JSON(resp)
}

func (h *Handler) ResetPrices(c *fiber.Ctx) error {
	var commodity domain.Commodity
	if raw := c.Query("commodity"); raw != "" {
		parsed, err := domain.ParseCommodity(raw)
		if err != nil {
			return h.fail(c, err)
		}
		commodity = parsed
	}

	deleted, err := h.prices.Reset(c.UserContext(), commodity)
	if err != nil {
		return h.fail(c, err)
	}

	logger.WithContext(c.UserContext()).Info("Reset solicitado via API",
		zap.String("commodity", string(commodity)),
		zap.Int64("deleted", deleted))

	return c.JSON(ResetResponse{Commodity: string(commodity), Deleted: deleted})
}

func (h *Handler) InvalidateCache(c *fiber.Ctx) error {
	deleted, err := h.aggregation.Invalidate(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"invalidated": deleted})
}

func (h *Handler) GetSystemStats(c *fiber.Ctx) error {
	stats, err := h.ingestion.Stats(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return c.JSON(SystemStatsResponse{
		Ingestion: stats,
		API: APIStats{
			ActiveGoroutines: runtime.NumGoroutine(),
			MemoryUsed:       fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Uptime:           time.Since(h.startedAt).Round(time.Second).String(),
		},
	})
}

// fail maps domain errors onto HTTP status codes.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	message := err.Error()

	if code >= fiber.StatusInternalServerError {
		metrics.APIErrors.WithLabelValues(domain.Classify(err)).Inc()
		logger.WithContext(c.UserContext()).Error("Erro ao processar requisição",
			zap.String("path", c.Path()),
			zap.Error(err))
		if code == fiber.StatusInternalServerError {
			message = "erro interno"
		}
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: getRequestID(c),
		Timestamp: time.Now(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrStore):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
