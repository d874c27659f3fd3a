// Package sqlite is the embedded price store used for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

const priceColumns = `id, commodity, state, city, price, COALESCE(variation, 0), date, created_at`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS prices (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		commodity  TEXT    NOT NULL CHECK (commodity IN ('boi', 'vaca', 'soja', 'milho', 'machos', 'femeas')),
		state      TEXT    NOT NULL CHECK (length(state) = 2 AND state = upper(state)),
		city       TEXT    NOT NULL DEFAULT '',
		price      INTEGER NOT NULL CHECK (price > 0),
		variation  INTEGER,
		date       TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (commodity, state, city, date)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_prices_created_at ON prices (created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_prices_state ON prices (state);`,
	`CREATE INDEX IF NOT EXISTS idx_prices_commodity_date ON prices (commodity, date DESC);`,
}

type Store struct {
	db *sql.DB
}

// Open opens (and creates) the database at path. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := New(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("erro ao migrar sqlite: %w", err)
		}
	}
	return nil
}

func (s *Store) PriorPrice(ctx context.Context, series domain.SeriesKey, before time.Time) (int64, bool, error) {
	start := time.Now()

	var price int64
	err := s.db.QueryRowContext(ctx, `
		SELECT price FROM prices
		WHERE commodity = ? AND state = ? AND city = ? AND date < ?
		ORDER BY date DESC
		LIMIT 1`,
		string(series.Commodity), series.State, series.City, before.Format(domain.DateLayout),
	).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDatabaseQuery("prior_price", nil, time.Since(start))
		return 0, false, nil
	}
	metrics.RecordDatabaseQuery("prior_price", err, time.Since(start))
	if err != nil {
		return 0, false, fmt.Errorf("%w: erro ao buscar cotação anterior: %w", domain.ErrStore, err)
	}
	return price, true, nil
}

func (s *Store) UpsertPrice(ctx context.Context, p domain.Price) (res domain.UpsertResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordDatabaseQuery("upsert_price", err, time.Since(start)) }()

	date := p.Date.Format(domain.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("%w: erro ao iniciar transação: %w", domain.ErrStore, err)
	}
	defer tx.Rollback()

	var prevPrice, prevVariation sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT price, variation FROM prices
		WHERE commodity = ? AND state = ? AND city = ? AND date = ?`,
		string(p.Commodity), p.State, p.City, date,
	).Scan(&prevPrice, &prevVariation)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res.Inserted = true
	case err != nil:
		return res, fmt.Errorf("%w: erro ao ler cotação %s: %w", domain.ErrStore, p.Key(), err)
	default:
		res.PreviousPrice = prevPrice.Int64
		res.PreviousVariation = prevVariation.Int64
		res.Changed = res.PreviousPrice != p.Price || res.PreviousVariation != p.Variation
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prices (commodity, state, city, date, price, variation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (commodity, state, city, date) DO UPDATE SET
			price = excluded.price,
			variation = excluded.variation,
			created_at = excluded.created_at`,
		string(p.Commodity), p.State, p.City, date, p.Price, p.Variation, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("%w: erro ao gravar cotação %s: %w", domain.ErrStore, p.Key(), err)
	}

	if err = tx.Commit(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("%w: erro no commit: %w", domain.ErrStore, err)
	}
	return res, nil
}

func (s *Store) Latest(ctx context.Context, limit int) ([]domain.Price, error) {
	return s.list(ctx, "latest", `SELECT `+priceColumns+` FROM prices ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) ByState(ctx context.Context, state string) ([]domain.Price, error) {
	return s.list(ctx, "by_state", `SELECT `+priceColumns+` FROM prices WHERE state = ? ORDER BY date DESC, commodity, city`, state)
}

func (s *Store) LatestDateRows(ctx context.Context) ([]domain.Price, error) {
	return s.list(ctx, "latest_date_rows", `
		SELECT p.id, p.commodity, p.state, p.city, p.price, COALESCE(p.variation, 0), p.date, p.created_at
		FROM prices p
		JOIN (SELECT commodity, MAX(date) AS max_date FROM prices GROUP BY commodity) m
			ON m.commodity = p.commodity AND m.max_date = p.date
		ORDER BY p.commodity, p.state, p.city`)
}

func (s *Store) Reset(ctx context.Context, c domain.Commodity) (int64, error) {
	start := time.Now()

	query := `DELETE FROM prices`
	args := []interface{}{}
	if c != "" {
		query += ` WHERE commodity = ?`
		args = append(args, string(c))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	metrics.RecordDatabaseQuery("reset", err, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("%w: erro ao limpar cotações: %w", domain.ErrStore, err)
	}
	return result.RowsAffected()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) list(ctx context.Context, queryType, query string, args ...interface{}) ([]domain.Price, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseQuery(queryType, err, time.Since(start))
		return nil, fmt.Errorf("%w: erro ao consultar cotações: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	prices := make([]domain.Price, 0)
	for rows.Next() {
		var (
			p         domain.Price
			commodity string
			date      string
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &commodity, &p.State, &p.City, &p.Price, &p.Variation, &date, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: erro ao escanear cotação: %w", domain.ErrStore, err)
		}
		p.Commodity = domain.Commodity(commodity)
		p.Date, err = time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("%w: data inválida %q no banco: %w", domain.ErrStore, date, err)
		}
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		prices = append(prices, p)
	}

	err = rows.Err()
	metrics.RecordDatabaseQuery(queryType, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: erro ao iterar resultados: %w", domain.ErrStore, err)
	}
	return prices, nil
}
