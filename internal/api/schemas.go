package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/ingestion"
	"github.com/jeovahfialho/agro-cotacoes/internal/service"
)

type PriceResponse struct {
	ID               int64            `json:"id"`
	Commodity        domain.Commodity `json:"commodity"`
	State            string           `json:"state"`
	City             string           `json:"city,omitempty"`
	Price            int64            `json:"price"`
	PriceDisplay     string           `json:"price_display"`
	Variation        int64            `json:"variation"`
	VariationPercent string           `json:"variation_percent"`
	Date             string           `json:"date"`
	CreatedAt        time.Time        `json:"created_at"`
}

type PriceListResponse struct {
	Data  []PriceResponse `json:"data"`
	Count int             `json:"count"`
}

type StatePricesResponse struct {
	State string          `json:"state"`
	Data  []PriceResponse `json:"data"`
	Count int             `json:"count"`
}

type SummaryResponse struct {
	Commodity           domain.Commodity `json:"commodity"`
	AvgPrice            int64            `json:"avg_price"`
	AvgPriceDisplay     string           `json:"avg_price_display"`
	AvgVariation        int64            `json:"avg_variation"`
	AvgVariationPercent string           `json:"avg_variation_percent"`
	Count               int              `json:"count"`
	LastUpdate          string           `json:"last_update"`
}

type SummaryListResponse struct {
	Data  []SummaryResponse `json:"data"`
	Count int               `json:"count"`
}

type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ProvidersResponse struct {
	Data  []service.ProviderStatus `json:"data"`
	Count int                      `json:"count"`
}

type PollResponse struct {
	Results   []ingestion.CycleResult `json:"results"`
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
}

type ResetResponse struct {
	Commodity string `json:"commodity,omitempty"`
	Deleted   int64  `json:"deleted"`
}

type SystemStatsResponse struct {
	Ingestion service.Stats `json:"ingestion"`
	API       APIStats      `json:"api"`
}

type APIStats struct {
	ActiveGoroutines int    `json:"active_goroutines"`
	MemoryUsed       string `json:"memory_used"`
	Uptime           string `json:"uptime"`
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      int       `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FormatPrice renders minor units as a two-decimal amount, e.g. 12050 -> "120.50".
func FormatPrice(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// FormatVariation renders basis points as a signed percentage, e.g. 500 -> "+5.00%".
func FormatVariation(bp int64) string {
	s := decimal.New(bp, -2).StringFixed(2) + "%"
	if bp > 0 {
		return "+" + s
	}
	return s
}

func toPriceResponse(p domain.Price) PriceResponse {
	return PriceResponse{
		ID:               p.ID,
		Commodity:        p.Commodity,
		State:            p.State,
		City:             p.City,
		Price:            p.Price,
		PriceDisplay:     FormatPrice(p.Price),
		Variation:        p.Variation,
		VariationPercent: FormatVariation(p.Variation),
		Date:             p.Date.Format(domain.DateLayout),
		CreatedAt:        p.CreatedAt,
	}
}

func toPriceResponses(prices []domain.Price) []PriceResponse {
	out := make([]PriceResponse, 0, len(prices))
	for _, p := range prices {
		out = append(out, toPriceResponse(p))
	}
	return out
}

func toSummaryResponse(s domain.Summary) SummaryResponse {
	return SummaryResponse{
		Commodity:           s.Commodity,
		AvgPrice:            s.AvgPrice,
		AvgPriceDisplay:     FormatPrice(s.AvgPrice),
		AvgVariation:        s.AvgVariation,
		AvgVariationPercent: FormatVariation(s.AvgVariation),
		Count:               s.Count,
		LastUpdate:          s.LastUpdate.Format(domain.DateLayout),
	}
}
