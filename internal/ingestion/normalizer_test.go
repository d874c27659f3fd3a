package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/mocks"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		sep  string
		want int64
	}{
		{"315,50", ",", 31550},
		{"R$ 315,50", ",", 31550},
		{"r$315,5", ",", 31550},
		{"1.234,56", ",", 123456},
		{"1.234.567,00", ",", 123456700},
		{"1.234", ",", 123400},
		{" 98 ", ",", 9800},
		{"120,500", ",", 12050},
		{"US$ 12.75", ".", 1275},
		{"1,234.56", ".", 123456},
		{"0,01", ",", 1},
		{",50", ",", 50},
		{"315,50", "", 31550},
		{"315 ,50", ",", 31550},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePrice(tt.raw, tt.sep)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePriceRejects(t *testing.T) {
	tests := []struct {
		raw string
		sep string
	}{
		{"", ","},
		{"abc", ","},
		{"12a34", ","},
		{"n/d", ","},
		{"-10,00", ","},
		{"0,00", ","},
		{"0", ","},
		{"315.50", ","},
		{"1,234.56", ","},
		{"12.34.56", ","},
		{"1,2,3", ","},
		{"10,123", ","},
		{"10,", ","},
		{"1.23,45", ","},
		{"315,50", ";"},
		{"9999999999999999,00", ","},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParsePrice(tt.raw, tt.sep)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestParseDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	want := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)

	got, err := ParseDate("06/01/2024", "02/01/2006", time.Time{}, loc)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParseDate("Fechamento: 06/01/2024 às 18h", "02/01/2006", time.Time{}, loc)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParseDate("2024-01-06", domain.DateLayout, time.Time{}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseDate("ontem", "02/01/2006", time.Time{}, loc)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ParseDate("31/02/2024", "02/01/2006", time.Time{}, loc)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseDateFallsBackToLocalFetchDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 01:30 UTC on the 7th is still the 6th in São Paulo.
	fetchedAt := time.Date(2024, 1, 7, 1, 30, 0, 0, time.UTC)
	got, err := ParseDate("  ", "02/01/2006", fetchedAt, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), got)
}

func TestVariation(t *testing.T) {
	tests := []struct {
		prior, current, want int64
	}{
		{1000, 1050, 500},
		{1000, 950, -500},
		{1000, 1000, 0},
		{3, 4, 3333},
		{20000, 20001, 1},
		{20000, 19999, -1},
		{80000, 80001, 0},
		{0, 100, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_to_%d", tt.prior, tt.current), func(t *testing.T) {
			assert.Equal(t, tt.want, Variation(tt.prior, tt.current))
		})
	}
}

func testDetails() domain.ProviderDetails {
	return domain.ProviderDetails{
		ID:               "test-soja",
		DateLayout:       "02/01/2006",
		DecimalSeparator: ",",
		State:            "PR",
		City:             "Paranaguá",
	}
}

func TestNormalizerParse(t *testing.T) {
	n := NewNormalizer(nil, time.UTC)
	fixed := time.Date(2024, 1, 6, 15, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	raw := domain.RawQuote{
		Commodity: domain.CommoditySoja,
		RawValue:  "R$ 120,50",
		RawDate:   "06/01/2024",
		Extra:     map[string]string{domain.ExtraState: " pr ", domain.ExtraCity: "  Paranaguá  "},
		FetchedAt: fixed,
	}

	p, err := n.Parse(raw, testDetails())
	require.NoError(t, err)
	assert.Equal(t, domain.CommoditySoja, p.Commodity)
	assert.Equal(t, "PR", p.State)
	assert.Equal(t, "Paranaguá", p.City)
	assert.Equal(t, int64(12050), p.Price)
	assert.Equal(t, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), p.Date)
	assert.Equal(t, fixed, p.CreatedAt)
	assert.Zero(t, p.Variation)
}

func TestNormalizerParseRejectsInvalidState(t *testing.T) {
	n := NewNormalizer(nil, time.UTC)

	raw := domain.RawQuote{
		Commodity: domain.CommodityBoi,
		RawValue:  "300,00",
		RawDate:   "06/01/2024",
		Extra:     map[string]string{domain.ExtraState: "São Paulo"},
	}

	_, err := n.Parse(raw, testDetails())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNormalizeAppliesVariation(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPriceStore(ctrl)

	date := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	series := domain.SeriesKey{Commodity: domain.CommoditySoja, State: "PR", City: "Paranaguá"}
	store.EXPECT().PriorPrice(gomock.Any(), series, date).Return(int64(1000), true, nil)

	n := NewNormalizer(store, time.UTC)
	p, err := n.Normalize(context.Background(), domain.RawQuote{
		Commodity: domain.CommoditySoja,
		RawValue:  "10,50",
		RawDate:   "06/01/2024",
	}, testDetails())
	require.NoError(t, err)
	assert.Equal(t, int64(1050), p.Price)
	assert.Equal(t, int64(500), p.Variation)
}

func TestNormalizeBaselineVariationIsZero(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPriceStore(ctrl)
	store.EXPECT().PriorPrice(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), false, nil)

	n := NewNormalizer(store, time.UTC)
	p, err := n.Normalize(context.Background(), domain.RawQuote{
		Commodity: domain.CommoditySoja,
		RawValue:  "10,50",
		RawDate:   "06/01/2024",
	}, testDetails())
	require.NoError(t, err)
	assert.Zero(t, p.Variation)
}

func TestNormalizeStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPriceStore(ctrl)
	storeErr := fmt.Errorf("%w: conexão recusada", domain.ErrStore)
	store.EXPECT().PriorPrice(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), false, storeErr)

	n := NewNormalizer(store, time.UTC)
	_, err := n.Normalize(context.Background(), domain.RawQuote{
		Commodity: domain.CommoditySoja,
		RawValue:  "10,50",
		RawDate:   "06/01/2024",
	}, testDetails())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStore))
}

func TestNormalizeGarbageNeverQueriesStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPriceStore(ctrl)

	n := NewNormalizer(store, time.UTC)
	_, err := n.Normalize(context.Background(), domain.RawQuote{
		Commodity: domain.CommoditySoja,
		RawValue:  "cotação indisponível",
		RawDate:   "06/01/2024",
	}, testDetails())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func BenchmarkParsePrice(b *testing.B) {
	benchmarks := []struct {
		name string
		raw  string
		sep  string
	}{
		{"Plain", "315,50", ","},
		{"Currency", "R$ 315,50", ","},
		{"Grouped", "1.234.567,89", ","},
		{"DotDecimal", "US$ 1,234.56", "."},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := ParsePrice(bm.raw, bm.sep); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
