package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

const priceColumns = `id, commodity, state, city, price, COALESCE(variation, 0), date, created_at`

// PriceRepository is the Postgres price store. Upserts rely on the
// UNIQUE (commodity, state, city, date) constraint for per-key atomicity.
type PriceRepository struct {
	db *DB
	q  Querier
}

func NewPriceRepository(db *DB) *PriceRepository {
	return &PriceRepository{db: db, q: db.Pool()}
}

// NewPriceRepositoryWithQuerier builds a repository over any Querier, e.g. a pgx.Tx.
func NewPriceRepositoryWithQuerier(q Querier) *PriceRepository {
	return &PriceRepository{q: q}
}

func (r *PriceRepository) PriorPrice(ctx context.Context, series domain.SeriesKey, before time.Time) (int64, bool, error) {
	start := time.Now()
	query := `
        SELECT price
        FROM prices
        WHERE commodity = $1 AND state = $2 AND city = $3 AND date < $4::date
        ORDER BY date DESC
        LIMIT 1
    `

	var price int64
	err := r.q.QueryRow(ctx, query, string(series.Commodity), series.State, series.City, before).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.RecordDatabaseQuery("prior_price", nil, time.Since(start))
		return 0, false, nil
	}
	metrics.RecordDatabaseQuery("prior_price", err, time.Since(start))
	if err != nil {
		return 0, false, fmt.Errorf("%w: erro ao buscar cotação anterior: %w", domain.ErrStore, err)
	}
	return price, true, nil
}

func (r *PriceRepository) UpsertPrice(ctx context.Context, p domain.Price) (domain.UpsertResult, error) {
	start := time.Now()
	query := `
        WITH previous AS (
            SELECT price, variation
            FROM prices
            WHERE commodity = $1 AND state = $2 AND city = $3 AND date = $4::date
        )
        INSERT INTO prices (commodity, state, city, date, price, variation, created_at)
        VALUES ($1, $2, $3, $4::date, $5, $6, $7)
        ON CONFLICT (commodity, state, city, date) DO UPDATE
        SET price = EXCLUDED.price,
            variation = EXCLUDED.variation,
            created_at = EXCLUDED.created_at
        RETURNING (SELECT price FROM previous), (SELECT COALESCE(variation, 0) FROM previous)
    `

	var prevPrice, prevVariation *int64
	err := r.q.QueryRow(ctx, query,
		string(p.Commodity), p.State, p.City, p.Date,
		p.Price, p.Variation, p.CreatedAt,
	).Scan(&prevPrice, &prevVariation)
	metrics.RecordDatabaseQuery("upsert_price", err, time.Since(start))
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("%w: erro ao gravar cotação %s: %w", domain.ErrStore, p.Key(), err)
	}

	if prevPrice == nil {
		return domain.UpsertResult{Inserted: true}, nil
	}

	res := domain.UpsertResult{PreviousPrice: *prevPrice}
	if prevVariation != nil {
		res.PreviousVariation = *prevVariation
	}
	res.Changed = res.PreviousPrice != p.Price || res.PreviousVariation != p.Variation
	return res, nil
}

func (r *PriceRepository) Latest(ctx context.Context, limit int) ([]domain.Price, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DatabaseQueryDuration.WithLabelValues("latest"))

	query := `SELECT ` + priceColumns + `
        FROM prices
        ORDER BY created_at DESC, id DESC
        LIMIT $1`

	return r.list(ctx, "latest", query, limit)
}

func (r *PriceRepository) ByState(ctx context.Context, state string) ([]domain.Price, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DatabaseQueryDuration.WithLabelValues("by_state"))

	query := `SELECT ` + priceColumns + `
        FROM prices
        WHERE state = $1
        ORDER BY date DESC, commodity, city`

	return r.list(ctx, "by_state", query, state)
}

func (r *PriceRepository) LatestDateRows(ctx context.Context) ([]domain.Price, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DatabaseQueryDuration.WithLabelValues("latest_date_rows"))

	query := `
        SELECT p.id, p.commodity, p.state, p.city, p.price, COALESCE(p.variation, 0), p.date, p.created_at
        FROM prices p
        JOIN (
            SELECT commodity, MAX(date) AS max_date
            FROM prices
            GROUP BY commodity
        ) m ON m.commodity = p.commodity AND m.max_date = p.date
        ORDER BY p.commodity, p.state, p.city`

	return r.list(ctx, "latest_date_rows", query)
}

func (r *PriceRepository) Reset(ctx context.Context, c domain.Commodity) (int64, error) {
	start := time.Now()

	query := `DELETE FROM prices`
	args := []interface{}{}
	if c != "" {
		query += ` WHERE commodity = $1`
		args = append(args, string(c))
	}

	tag, err := r.q.Exec(ctx, query, args...)
	metrics.RecordDatabaseQuery("reset", err, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("%w: erro ao limpar cotações: %w", domain.ErrStore, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PriceRepository) HealthCheck(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.HealthCheck(ctx)
}

func (r *PriceRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

func (r *PriceRepository) list(ctx context.Context, queryType, query string, args ...interface{}) ([]domain.Price, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		metrics.DatabaseQueries.WithLabelValues(queryType, "error").Inc()
		return nil, fmt.Errorf("%w: erro ao consultar cotações: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	prices := make([]domain.Price, 0)
	for rows.Next() {
		var (
			p         domain.Price
			commodity string
		)
		if err := rows.Scan(&p.ID, &commodity, &p.State, &p.City, &p.Price, &p.Variation, &p.Date, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: erro ao escanear cotação: %w", domain.ErrStore, err)
		}
		p.Commodity = domain.Commodity(commodity)
		p.Date = domain.DateOnly(p.Date)
		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		metrics.DatabaseQueries.WithLabelValues(queryType, "error").Inc()
		return nil, fmt.Errorf("%w: erro ao iterar resultados: %w", domain.ErrStore, err)
	}

	metrics.DatabaseQueries.WithLabelValues(queryType, "success").Inc()
	return prices, nil
}
