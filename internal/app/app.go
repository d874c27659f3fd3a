// Package app assembles the store, cache, ingestion pipeline and services
// shared by the API server and the CLI.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/config"
	"github.com/jeovahfialho/agro-cotacoes/internal/ingestion"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/internal/service"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/cache"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
)

type App struct {
	Config    *config.Config
	Store     storage.PriceStore
	Cache     *cache.RedisCache
	Registry  *registry.Registry
	Fetcher   *ingestion.Fetcher
	Pipeline  *ingestion.Pipeline
	Scheduler *ingestion.Scheduler

	Prices      *service.PriceService
	Aggregation *service.AggregationService
	Ingestion   *service.IngestionService
}

// New connects the store and, when configured and reachable, Redis. A Redis
// failure is logged and the app runs without a cache.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	reg, err := registry.Load(cfg.ProvidersFile, registry.Options{DefaultSchedule: cfg.DefaultSchedule})
	if err != nil {
		return nil, fmt.Errorf("erro ao carregar provedores: %w", err)
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir armazenamento: %w", err)
	}

	a := &App{Config: cfg, Store: store, Registry: reg}

	var summaryCache service.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.Options{URL: cfg.RedisURL, DefaultTTL: cfg.CacheTTL})
		if err != nil {
			logger.Warn("Redis não disponível, continuando sem cache", zap.Error(err))
		} else {
			a.Cache = redisCache
			summaryCache = redisCache
		}
	}

	a.Fetcher = ingestion.NewFetcher(&http.Client{}, ingestion.FetcherOptions{
		Timeout:        cfg.FetchTimeout,
		MaxRetries:     cfg.FetchMaxRetries,
		InitialBackoff: cfg.BackoffInitial,
		MaxBackoff:     cfg.BackoffMax,
		Cooldown:       cfg.DegradedCooldown,
		InFlight:       cfg.ProviderInFlight,
		HostRate:       cfg.HostRateLimit,
		UserAgent:      cfg.UserAgent,
	})
	a.Pipeline = ingestion.NewPipeline(a.Fetcher, store, ingestion.PipelineOptions{
		CycleTimeout: cfg.CycleTimeout,
		Location:     cfg.Location(),
	})
	a.Scheduler = ingestion.NewScheduler(reg, a.Pipeline, cfg.Location())

	a.Aggregation = service.NewAggregationService(store, summaryCache, cfg.SummaryCacheTTL)
	a.Prices = service.NewPriceService(store, a.Aggregation, cfg.LatestDefaultLimit, cfg.LatestLimitCap)
	a.Ingestion = service.NewIngestionService(reg, a.Scheduler, a.Fetcher, a.Aggregation)

	logger.Info("Aplicação inicializada",
		zap.String("store", cfg.StoreDriver),
		zap.Bool("cache", a.Cache != nil),
		zap.Int("providers", reg.Len()))

	return a, nil
}

// Close releases the cache and the store.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.Warn("Erro ao fechar Redis", zap.Error(err))
		}
	}
	a.Store.Close()
}
