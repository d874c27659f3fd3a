package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

type PriceService struct {
	store        storage.PriceStore
	aggregation  *AggregationService
	defaultLimit int
	limitCap     int
}

func NewPriceService(store storage.PriceStore, aggregation *AggregationService, defaultLimit, limitCap int) *PriceService {
	if limitCap <= 0 {
		limitCap = 100
	}
	if defaultLimit <= 0 || defaultLimit > limitCap {
		defaultLimit = limitCap
	}
	return &PriceService{
		store:        store,
		aggregation:  aggregation,
		defaultLimit: defaultLimit,
		limitCap:     limitCap,
	}
}

// EffectiveLimit applies the default to non-positive limits and caps the rest.
func (s *PriceService) EffectiveLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.limitCap {
		return s.limitCap
	}
	return limit
}

// Latest returns the most recently ingested prices.
func (s *PriceService) Latest(ctx context.Context, limit int) ([]domain.Price, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DatabaseQueryDuration.WithLabelValues("service_latest"))

	prices, err := s.store.Latest(ctx, s.EffectiveLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar cotações recentes: %w", err)
	}
	return prices, nil
}

// ByState returns every stored price of a region. The code is trimmed and
// upper-cased first, so "sp" and " SP " are the same query.
func (s *PriceService) ByState(ctx context.Context, state string) ([]domain.Price, error) {
	normalized := domain.NormalizeState(state)
	if !domain.ValidState(normalized) {
		return nil, fmt.Errorf("%w: estado inválido %q", domain.ErrValidation, state)
	}

	prices, err := s.store.ByState(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar cotações do estado %s: %w", normalized, err)
	}

	logger.Debug("cotações por estado recuperadas",
		zap.String("state", normalized),
		zap.Int("records", len(prices)))

	return prices, nil
}

// Reset deletes all prices, or those of one commodity, and drops cached summaries.
func (s *PriceService) Reset(ctx context.Context, c domain.Commodity) (int64, error) {
	if c != "" && !c.Valid() {
		return 0, fmt.Errorf("%w: commodity desconhecida %q", domain.ErrValidation, c)
	}

	deleted, err := s.store.Reset(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("erro ao limpar cotações: %w", err)
	}

	if s.aggregation != nil {
		if _, err := s.aggregation.Invalidate(ctx); err != nil {
			logger.Warn("Falha ao invalidar cache após reset", zap.Error(err))
		}
	}

	logger.Info("Cotações removidas",
		zap.String("commodity", string(c)),
		zap.Int64("deleted", deleted))

	return deleted, nil
}

func (s *PriceService) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.HealthCheck(ctx)
}
