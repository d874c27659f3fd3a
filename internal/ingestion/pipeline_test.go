package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/mocks"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/sqlite"
)

// quoteServer serves whatever page was last set.
type quoteServer struct {
	*httptest.Server
	mu   sync.Mutex
	page string
}

func newQuoteServer(t *testing.T, date, value string) *quoteServer {
	t.Helper()
	qs := &quoteServer{page: quoteHTML(date, value)}
	qs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		qs.mu.Lock()
		page := qs.page
		qs.mu.Unlock()
		fmt.Fprint(w, page)
	}))
	t.Cleanup(qs.Close)
	return qs
}

func (qs *quoteServer) set(date, value string) {
	qs.mu.Lock()
	qs.page = quoteHTML(date, value)
	qs.mu.Unlock()
}

func newTestPipeline(t *testing.T, opts FetcherOptions) (*Pipeline, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	p := NewPipeline(NewFetcher(nil, opts), store, PipelineOptions{
		CycleTimeout: 5 * time.Second,
		Location:     time.UTC,
	})
	return p, store
}

func TestRunCycleWritesQuoteWithVariation(t *testing.T) {
	srv := newQuoteServer(t, "05/01/2024", "10,00")
	p, store := newTestPipeline(t, fastOptions())
	prov := testProvider(t, domain.CommoditySoja, srv.URL)
	ctx := context.Background()

	first := p.RunCycle(ctx, prov)
	require.NoError(t, first.Err)
	assert.Equal(t, domain.StatusOK, first.Status)
	assert.NotEmpty(t, first.CycleID)
	assert.True(t, first.Upsert.Inserted)
	assert.Zero(t, first.Price.Variation)

	srv.set("06/01/2024", "10,50")
	second := p.RunCycle(ctx, prov)
	require.NoError(t, second.Err)
	assert.Equal(t, int64(1050), second.Price.Price)
	assert.Equal(t, int64(500), second.Price.Variation)
	assert.NotEqual(t, first.CycleID, second.CycleID)

	rows, err := store.ByState(ctx, "SP")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(500), rows[0].Variation)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	srv := newQuoteServer(t, "06/01/2024", "120,50")
	p, store := newTestPipeline(t, fastOptions())
	prov := testProvider(t, domain.CommoditySoja, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := p.RunCycle(ctx, prov)
		require.NoError(t, res.Err)
		assert.Equal(t, i == 0, res.Upsert.Inserted)
		assert.False(t, res.Upsert.Changed)
	}

	rows, err := store.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(12050), rows[0].Price)
	assert.Zero(t, rows[0].Variation)
}

func TestRunCycleSameDayCorrectionKeepsVariationBase(t *testing.T) {
	srv := newQuoteServer(t, "05/01/2024", "10,00")
	p, store := newTestPipeline(t, fastOptions())
	prov := testProvider(t, domain.CommoditySoja, srv.URL)
	ctx := context.Background()

	require.NoError(t, p.RunCycle(ctx, prov).Err)
	srv.set("06/01/2024", "10,50")
	require.NoError(t, p.RunCycle(ctx, prov).Err)

	srv.set("06/01/2024", "11,00")
	res := p.RunCycle(ctx, prov)
	require.NoError(t, res.Err)
	assert.True(t, res.Upsert.Changed)
	assert.Equal(t, int64(1000), res.Price.Variation)

	rows, err := store.LatestDateRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1100), rows[0].Price)
}

func TestRunCycleFailsClosedOnGarbage(t *testing.T) {
	srv := newQuoteServer(t, "06/01/2024", "###")
	p, store := newTestPipeline(t, fastOptions())

	res := p.RunCycle(context.Background(), testProvider(t, domain.CommoditySoja, srv.URL))
	assert.Equal(t, domain.StatusValidation, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
	assert.Nil(t, res.Price)

	rows, err := store.Latest(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunCycleParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"preco": 10}`)
	}))
	defer srv.Close()

	p, store := newTestPipeline(t, fastOptions())
	res := p.RunCycle(context.Background(), testProvider(t, domain.CommoditySoja, srv.URL))
	assert.Equal(t, domain.StatusParse, res.Status)

	rows, err := store.Latest(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunAllIsolatesSlowProvider(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	fast := newQuoteServer(t, "06/01/2024", "300,00")

	opts := fastOptions()
	opts.Timeout = 100 * time.Millisecond
	opts.MaxRetries = 2
	p, store := newTestPipeline(t, opts)

	results := p.RunAll(context.Background(), []registry.Provider{
		testProvider(t, domain.CommodityBoi, slow.URL),
		testProvider(t, domain.CommoditySoja, fast.URL),
	})
	require.Len(t, results, 2)

	slowRes, fastRes := results[0], results[1]
	assert.Equal(t, domain.StatusNetwork, slowRes.Status)
	assert.GreaterOrEqual(t, slowRes.Duration, 300*time.Millisecond)
	assert.Equal(t, domain.StatusOK, fastRes.Status)
	assert.Less(t, fastRes.Duration, slowRes.Duration)

	rows, err := store.Latest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.CommoditySoja, rows[0].Commodity)

	// The slow provider is now suppressed; the fast one keeps polling.
	results = p.RunAll(context.Background(), []registry.Provider{
		testProvider(t, domain.CommodityBoi, slow.URL),
		testProvider(t, domain.CommoditySoja, fast.URL),
	})
	assert.Equal(t, domain.StatusDegraded, results[0].Status)
	assert.Equal(t, domain.StatusOK, results[1].Status)
}

func TestRunCycleStoreFailure(t *testing.T) {
	srv := newQuoteServer(t, "06/01/2024", "300,00")

	ctrl := gomock.NewController(t)
	store := mocks.NewMockPriceStore(ctrl)
	store.EXPECT().PriorPrice(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), false, nil)
	store.EXPECT().UpsertPrice(gomock.Any(), gomock.Any()).Return(domain.UpsertResult{}, errors.New("conexão perdida"))

	p := NewPipeline(NewFetcher(nil, fastOptions()), store, PipelineOptions{})
	res := p.RunCycle(context.Background(), testProvider(t, domain.CommodityBoi, srv.URL))
	assert.Equal(t, domain.StatusStore, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrStore)
}

func TestRunCycleConcurrentSameKey(t *testing.T) {
	srv := newQuoteServer(t, "06/01/2024", "120,50")
	opts := fastOptions()
	opts.InFlight = 8
	p, store := newTestPipeline(t, opts)
	prov := testProvider(t, domain.CommoditySoja, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.RunCycle(context.Background(), prov)
			assert.NoError(t, res.Err)
		}()
	}
	wg.Wait()

	rows, err := store.Latest(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Zero(t, p.locks.Len())
}
