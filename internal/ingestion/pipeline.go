package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

// Store is what a poll cycle needs from persistence.
type Store interface {
	PriorLookup
	Upserter
}

// CycleResult is the outcome of one poll cycle for one provider.
type CycleResult struct {
	CycleID    string              `json:"cycle_id"`
	Commodity  domain.Commodity    `json:"commodity"`
	ProviderID string              `json:"provider_id"`
	Status     string              `json:"status"`
	Price      *domain.Price       `json:"price,omitempty"`
	Upsert     domain.UpsertResult `json:"-"`
	Err        error               `json:"-"`
	Error      string              `json:"error,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// Pipeline runs poll cycles: fetch, parse, then variation and upsert under the
// series lock. Failures are local to the cycle and never abort the caller.
type Pipeline struct {
	fetcher      *Fetcher
	normalizer   *Normalizer
	writer       *Writer
	locks        *KeyLock
	cycleTimeout time.Duration
}

type PipelineOptions struct {
	CycleTimeout time.Duration
	Location     *time.Location
}

func NewPipeline(fetcher *Fetcher, store Store, opts PipelineOptions) *Pipeline {
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 2 * time.Minute
	}
	return &Pipeline{
		fetcher:      fetcher,
		normalizer:   NewNormalizer(store, opts.Location),
		writer:       NewWriter(store),
		locks:        NewKeyLock(),
		cycleTimeout: opts.CycleTimeout,
	}
}

func (p *Pipeline) RunCycle(ctx context.Context, prov registry.Provider) CycleResult {
	start := time.Now()
	res := CycleResult{
		CycleID:    uuid.NewString(),
		Commodity:  prov.Commodity,
		ProviderID: prov.Details.ID,
	}

	log := logger.Named("pipeline").With(
		zap.String("cycle_id", res.CycleID),
		zap.String("provider", prov.Details.ID),
		zap.String("commodity", string(prov.Commodity)),
	)

	ctx, cancel := context.WithTimeout(ctx, p.cycleTimeout)
	defer cancel()

	price, upsert, err := p.run(ctx, prov)

	res.Duration = time.Since(start)
	res.Status = domain.Classify(err)
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Price = &price
		res.Upsert = upsert
	}

	metrics.RecordPollCycle(string(prov.Commodity), res.Status)
	metrics.PollCycleDuration.WithLabelValues(prov.Details.ID).Observe(res.Duration.Seconds())

	switch res.Status {
	case domain.StatusOK:
		log.Info("Ciclo concluído",
			zap.String("key", price.Key().String()),
			zap.Int64("price", price.Price),
			zap.Int64("variation_bp", price.Variation),
			zap.Bool("inserted", upsert.Inserted),
			zap.Duration("duration", res.Duration),
		)
	case domain.StatusDegraded:
		log.Debug("Ciclo suprimido, provedor degradado", zap.Error(err))
	default:
		log.Warn("Ciclo ignorado",
			zap.String("status", res.Status),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
	}

	return res
}

func (p *Pipeline) run(ctx context.Context, prov registry.Provider) (domain.Price, domain.UpsertResult, error) {
	raw, err := p.fetcher.Fetch(ctx, prov)
	if err != nil {
		return domain.Price{}, domain.UpsertResult{}, err
	}

	price, err := p.normalizer.Parse(raw, prov.Details)
	if err != nil {
		return domain.Price{}, domain.UpsertResult{}, err
	}

	unlock := p.locks.Lock(price.Series().String())
	defer unlock()

	if err := p.normalizer.ApplyVariation(ctx, &price); err != nil {
		return domain.Price{}, domain.UpsertResult{}, err
	}

	upsert, err := p.writer.Write(ctx, price)
	if err != nil {
		return domain.Price{}, domain.UpsertResult{}, err
	}
	return price, upsert, nil
}

// RunAll runs one cycle per provider concurrently and returns the results in
// the order of providers.
func (p *Pipeline) RunAll(ctx context.Context, providers []registry.Provider) []CycleResult {
	results := make([]CycleResult, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, prov := range providers {
		i, prov := i, prov
		g.Go(func() error {
			results[i] = p.RunCycle(ctx, prov)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
