package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/ingestion"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	servicemocks "github.com/jeovahfialho/agro-cotacoes/internal/service/mocks"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/sqlite"
)

func newIngestionService(t *testing.T, cache Cache) (*IngestionService, *sqlite.Store) {
	t.Helper()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"cotacao": {"valor": "120,50", "data": "06/01/2024"}}`)
	}))
	t.Cleanup(ok.Close)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	reg, err := registry.New(domain.ProviderInfo{
		domain.CommoditySoja: {URL: ok.URL, Strategy: "json", Tag: "cotacao.valor", DateTag: "cotacao.data", State: "PR"},
		domain.CommodityBoi:  {URL: down.URL, Strategy: "json", Tag: "cotacao.valor", State: "SP"},
	}, registry.Options{})
	require.NoError(t, err)

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	fetcher := ingestion.NewFetcher(nil, ingestion.FetcherOptions{
		Timeout:        time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Cooldown:       time.Hour,
	})
	pipeline := ingestion.NewPipeline(fetcher, store, ingestion.PipelineOptions{Location: time.UTC})
	scheduler := ingestion.NewScheduler(reg, pipeline, time.UTC)
	agg := NewAggregationService(store, cache, time.Minute)

	return NewIngestionService(reg, scheduler, fetcher, agg), store
}

func TestPollWritesAndReportsPerProvider(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := servicemocks.NewMockCache(ctrl)
	cache.EXPECT().DeletePattern(gomock.Any(), summaryCachePattern).Return(0, nil)

	svc, store := newIngestionService(t, cache)

	results, err := svc.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, domain.CommodityBoi, results[0].Commodity)
	assert.Equal(t, domain.StatusNetwork, results[0].Status)
	assert.Equal(t, domain.CommoditySoja, results[1].Commodity)
	assert.Equal(t, domain.StatusOK, results[1].Status)

	rows, err := store.ByState(context.Background(), "PR")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12050), rows[0].Price)
}

func TestPollUnknownCommodity(t *testing.T) {
	svc, _ := newIngestionService(t, nil)

	_, err := svc.Poll(context.Background(), domain.CommodityFemeas)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProvidersAndStats(t *testing.T) {
	svc, _ := newIngestionService(t, nil)

	_, err := svc.Poll(context.Background())
	require.NoError(t, err)

	providers := svc.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, domain.CommodityBoi, providers[0].Commodity)
	assert.True(t, providers[0].Health.Degraded)
	assert.False(t, providers[1].Health.Degraded)
	assert.Nil(t, providers[1].NextRun)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.ProvidersConfigured)
	assert.Equal(t, 1, st.ProvidersDegraded)
	assert.Equal(t, 1, st.CommoditiesWithData)
	require.NotNil(t, st.LastUpdate)
	assert.Equal(t, day(6), *st.LastUpdate)
}
