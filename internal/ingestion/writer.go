package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

// Upserter is the write side of the price store.
type Upserter interface {
	UpsertPrice(ctx context.Context, p domain.Price) (domain.UpsertResult, error)
}

// Writer persists normalized prices. Overwriting a row with different content
// is last-write-wins and only reported as an anomaly.
type Writer struct {
	store Upserter
}

func NewWriter(store Upserter) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Write(ctx context.Context, p domain.Price) (domain.UpsertResult, error) {
	res, err := w.store.UpsertPrice(ctx, p)
	if err != nil {
		metrics.QuotesWritten.WithLabelValues(string(p.Commodity), "error").Inc()
		if !errors.Is(err, domain.ErrStore) {
			err = fmt.Errorf("%w: %w", domain.ErrStore, err)
		}
		return domain.UpsertResult{}, err
	}

	switch {
	case res.Inserted:
		metrics.QuotesWritten.WithLabelValues(string(p.Commodity), "insert").Inc()
	case res.Changed:
		metrics.QuotesWritten.WithLabelValues(string(p.Commodity), "update").Inc()
		metrics.PriceConflicts.WithLabelValues(string(p.Commodity)).Inc()
		logger.Warn("Cotação sobrescrita com conteúdo diferente",
			zap.String("key", p.Key().String()),
			zap.Int64("previous_price", res.PreviousPrice),
			zap.Int64("price", p.Price),
			zap.Int64("previous_variation", res.PreviousVariation),
			zap.Int64("variation", p.Variation),
			zap.NamedError("anomaly", domain.ErrConflict),
		)
	default:
		metrics.QuotesWritten.WithLabelValues(string(p.Commodity), "noop").Inc()
	}

	return res, nil
}
