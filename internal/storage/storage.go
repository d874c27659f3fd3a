// Package storage defines the price store contract and opens the configured backend.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jeovahfialho/agro-cotacoes/internal/config"
	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/postgres"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/sqlite"
)

//go:generate mockgen -source=storage.go -destination=mocks/mock_storage.go -package=mocks

// PriceStore is the persistent price time series.
type PriceStore interface {
	// PriorPrice returns the most recent price of the series strictly before the given date.
	PriorPrice(ctx context.Context, series domain.SeriesKey, before time.Time) (price int64, found bool, err error)
	// UpsertPrice inserts or overwrites the row keyed by (commodity, state, city, date) atomically.
	UpsertPrice(ctx context.Context, p domain.Price) (domain.UpsertResult, error)
	Latest(ctx context.Context, limit int) ([]domain.Price, error)
	ByState(ctx context.Context, state string) ([]domain.Price, error)
	// LatestDateRows returns, for every commodity, the rows dated at that commodity's max date.
	LatestDateRows(ctx context.Context) ([]domain.Price, error)
	// Reset deletes every row, or only the rows of one commodity when c is non-empty.
	Reset(ctx context.Context, c domain.Commodity) (int64, error)
	HealthCheck(ctx context.Context) error
	Close()
}

var (
	_ PriceStore = (*postgres.PriceRepository)(nil)
	_ PriceStore = (*sqlite.Store)(nil)
)

// Open connects to the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (PriceStore, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	case "postgres":
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		db, err := postgres.NewDB(ctx, postgres.Options{
			URL:         cfg.DatabaseURL,
			MaxConns:    cfg.DatabaseMaxConns,
			MinConns:    cfg.DatabaseMinConns,
			MaxConnLife: cfg.DatabaseMaxConnLife,
		})
		if err != nil {
			return nil, err
		}
		return postgres.NewPriceRepository(db), nil
	default:
		return nil, fmt.Errorf("driver de armazenamento desconhecido: %s", cfg.StoreDriver)
	}
}
