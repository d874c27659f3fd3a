package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

//go:generate mockgen -source=aggregation.go -destination=mocks/mock_aggregation.go -package=mocks

// Cache is an optional read-through cache. Entries are never authoritative.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// SummaryReader provides the rows dated at each commodity's latest date.
type SummaryReader interface {
	LatestDateRows(ctx context.Context) ([]domain.Price, error)
}

const (
	summaryCacheKey     = "summary:v1"
	summaryCachePattern = "summary:*"
)

// Summarize derives one summary per commodity from rows: only rows dated at
// the commodity's max date count, means are truncated toward zero, and the
// output is ordered by commodity name.
func Summarize(rows []domain.Price) []domain.Summary {
	maxDate := make(map[domain.Commodity]time.Time)
	for _, r := range rows {
		if d, ok := maxDate[r.Commodity]; !ok || r.Date.After(d) {
			maxDate[r.Commodity] = r.Date
		}
	}

	type acc struct {
		price, variation int64
		count            int
	}
	sums := make(map[domain.Commodity]*acc, len(maxDate))
	for _, r := range rows {
		if !r.Date.Equal(maxDate[r.Commodity]) {
			continue
		}
		a, ok := sums[r.Commodity]
		if !ok {
			a = &acc{}
			sums[r.Commodity] = a
		}
		a.price += r.Price
		a.variation += r.Variation
		a.count++
	}

	out := make([]domain.Summary, 0, len(sums))
	for c, a := range sums {
		out = append(out, domain.Summary{
			Commodity:    c,
			AvgPrice:     a.price / int64(a.count),
			AvgVariation: a.variation / int64(a.count),
			Count:        a.count,
			LastUpdate:   maxDate[c],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commodity < out[j].Commodity })
	return out
}

type AggregationService struct {
	store SummaryReader
	cache Cache
	ttl   time.Duration
}

// NewAggregationService builds the service; cache may be nil.
func NewAggregationService(store SummaryReader, cache Cache, ttl time.Duration) *AggregationService {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &AggregationService{store: store, cache: cache, ttl: ttl}
}

// Summary returns every commodity's summary, served from cache when fresh.
func (s *AggregationService) Summary(ctx context.Context) ([]domain.Summary, error) {
	if s.cache != nil {
		var cached []domain.Summary
		if err := s.cache.Get(ctx, summaryCacheKey, &cached); err == nil {
			metrics.RecordSummaryRequest(true)
			return cached, nil
		}
	}
	metrics.RecordSummaryRequest(false)

	rows, err := s.store.LatestDateRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar resumo: %w", err)
	}
	summaries := Summarize(rows)

	if s.cache != nil {
		if err := s.cache.Set(ctx, summaryCacheKey, summaries, s.ttl); err != nil {
			logger.Warn("Falha ao gravar resumo no cache", zap.Error(err))
		}
	}
	return summaries, nil
}

// SummaryFor returns the summary of one commodity, or domain.ErrNotFound when it has no rows.
func (s *AggregationService) SummaryFor(ctx context.Context, c domain.Commodity) (domain.Summary, error) {
	if !c.Valid() {
		return domain.Summary{}, fmt.Errorf("%w: commodity desconhecida %q", domain.ErrValidation, c)
	}

	summaries, err := s.Summary(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	for _, sum := range summaries {
		if sum.Commodity == c {
			return sum, nil
		}
	}
	return domain.Summary{}, fmt.Errorf("%w: sem cotações para %s", domain.ErrNotFound, c)
}

// Invalidate drops cached summaries.
func (s *AggregationService) Invalidate(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	n, err := s.cache.DeletePattern(ctx, summaryCachePattern)
	if err != nil {
		return 0, fmt.Errorf("erro ao invalidar cache: %w", err)
	}
	return n, nil
}

// LastUpdate is the most recent quote date across commodities, or zero.
func LastUpdate(summaries []domain.Summary) time.Time {
	var last time.Time
	for _, s := range summaries {
		if s.LastUpdate.After(last) {
			last = s.LastUpdate
		}
	}
	return last
}

