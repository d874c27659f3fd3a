package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/mocks"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	kl := NewKeyLock()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("soja|PR|")
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxInside) {
				atomic.StoreInt32(&maxInside, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, kl.Len())
}

func TestKeyLockDistinctKeysDoNotBlock(t *testing.T) {
	kl := NewKeyLock()

	unlockA := kl.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := kl.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlockA()
	assert.Zero(t, kl.Len())
}

func TestWriterReportsConflictWithoutFailing(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPriceStore(ctrl)

	p := domain.Price{Commodity: domain.CommodityBoi, State: "SP", Price: 31000, Date: time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)}
	store.EXPECT().UpsertPrice(gomock.Any(), p).Return(domain.UpsertResult{Changed: true, PreviousPrice: 30000}, nil)

	res, err := NewWriter(store).Write(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(30000), res.PreviousPrice)
}

func TestResolve(t *testing.T) {
	reg, err := registry.New(domain.ProviderInfo{
		domain.CommoditySoja: {URL: "https://example.com/soja", Tag: "td", State: "PR"},
		domain.CommodityBoi:  {URL: "https://example.com/boi", Tag: "td", State: "SP"},
	}, registry.Options{})
	require.NoError(t, err)

	all, err := Resolve(reg)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.CommodityBoi, all[0].Commodity)

	one, err := Resolve(reg, domain.CommoditySoja)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, domain.CommoditySoja, one[0].Commodity)

	_, err = Resolve(reg, domain.CommodityMachos)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = Resolve(reg, domain.Commodity("trigo"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSchedulerRunsProvidersOnSchedule(t *testing.T) {
	srv := newQuoteServer(t, "06/01/2024", "120,50")
	p, store := newTestPipeline(t, fastOptions())

	reg, err := registry.New(domain.ProviderInfo{
		domain.CommoditySoja: {URL: srv.URL, Tag: "td.valor", DateTag: "td.data", State: "PR", Schedule: "@every 1s"},
	}, registry.Options{})
	require.NoError(t, err)

	s := NewScheduler(reg, p, time.UTC)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	next, ok := s.Next(domain.CommoditySoja)
	assert.True(t, ok)
	assert.False(t, next.IsZero())
	_, ok = s.Next(domain.CommodityBoi)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		rows, err := store.Latest(context.Background(), 10)
		return err == nil && len(rows) == 1
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerRunOnce(t *testing.T) {
	srv := newQuoteServer(t, "06/01/2024", "120,50")
	p, store := newTestPipeline(t, fastOptions())

	reg, err := registry.New(domain.ProviderInfo{
		domain.CommoditySoja: {URL: srv.URL, Tag: "td.valor", DateTag: "td.data", State: "PR"},
	}, registry.Options{})
	require.NoError(t, err)

	s := NewScheduler(reg, p, time.UTC)
	results, err := s.RunOnce(context.Background(), domain.CommoditySoja)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusOK, results[0].Status)

	_, err = s.RunOnce(context.Background(), domain.CommodityFemeas)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rows, err := store.ByState(context.Background(), "PR")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
