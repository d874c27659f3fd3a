package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/ingestion"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
)

type IngestionService struct {
	registry    *registry.Registry
	scheduler   *ingestion.Scheduler
	fetcher     *ingestion.Fetcher
	aggregation *AggregationService
}

func NewIngestionService(reg *registry.Registry, scheduler *ingestion.Scheduler, fetcher *ingestion.Fetcher, aggregation *AggregationService) *IngestionService {
	return &IngestionService{
		registry:    reg,
		scheduler:   scheduler,
		fetcher:     fetcher,
		aggregation: aggregation,
	}
}

// ProviderStatus is a configured provider together with its fetch health.
type ProviderStatus struct {
	Commodity domain.Commodity       `json:"commodity"`
	Details   domain.ProviderDetails `json:"details"`
	Health    domain.ProviderHealth  `json:"health"`
	NextRun   *time.Time             `json:"next_run,omitempty"`
}

// Providers lists every configured provider ordered by commodity.
func (s *IngestionService) Providers() []ProviderStatus {
	providers := s.registry.Providers()
	out := make([]ProviderStatus, 0, len(providers))
	for _, p := range providers {
		st := ProviderStatus{
			Commodity: p.Commodity,
			Details:   p.Details,
			Health:    s.fetcher.Health(p),
		}
		if next, ok := s.scheduler.Next(p.Commodity); ok {
			st.NextRun = &next
		}
		out = append(out, st)
	}
	return out
}

// Poll runs a cycle now for the given commodities (all when empty). Cycle
// failures are reported per result, never as the returned error.
func (s *IngestionService) Poll(ctx context.Context, commodities ...domain.Commodity) ([]ingestion.CycleResult, error) {
	results, err := s.scheduler.RunOnce(ctx, commodities...)
	if err != nil {
		return nil, err
	}

	written := 0
	for _, r := range results {
		if r.Status == domain.StatusOK {
			written++
		}
	}
	if written > 0 && s.aggregation != nil {
		if _, err := s.aggregation.Invalidate(ctx); err != nil {
			logger.Warn("Falha ao invalidar cache após coleta", zap.Error(err))
		}
	}

	logger.Info("Coleta manual concluída",
		zap.Int("providers", len(results)),
		zap.Int("written", written))

	return results, nil
}

// Stats is an operational snapshot for the admin surface.
type Stats struct {
	ProvidersConfigured int        `json:"providers_configured"`
	ProvidersDegraded   int        `json:"providers_degraded"`
	CommoditiesWithData int        `json:"commodities_with_data"`
	LastUpdate          *time.Time `json:"last_update,omitempty"`
}

func (s *IngestionService) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ProvidersConfigured: s.registry.Len()}
	for _, p := range s.registry.Providers() {
		if s.fetcher.Health(p).Degraded {
			st.ProvidersDegraded++
		}
	}

	if s.aggregation == nil {
		return st, nil
	}
	summaries, err := s.aggregation.Summary(ctx)
	if err != nil {
		return st, err
	}
	st.CommoditiesWithData = len(summaries)
	if last := LastUpdate(summaries); !last.IsZero() {
		st.LastUpdate = &last
	}
	return st, nil
}
