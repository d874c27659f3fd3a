package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
)

// Scheduler triggers one independent cron job per configured provider. A job
// still running when its next tick fires is skipped.
type Scheduler struct {
	registry *registry.Registry
	pipeline *Pipeline
	cron     *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[domain.Commodity]cron.EntryID
	started bool
}

func NewScheduler(reg *registry.Registry, pipeline *Pipeline, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	l := cronLogger{}
	return &Scheduler{
		registry: reg,
		pipeline: pipeline,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l)),
		),
		entries: make(map[domain.Commodity]cron.EntryID),
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("agendador já iniciado")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, prov := range s.registry.Providers() {
		prov := prov
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
			s.pipeline.RunCycle(s.ctx, prov)
		}))

		id, err := s.cron.AddJob(prov.Details.Schedule, job)
		if err != nil {
			s.cancel()
			return fmt.Errorf("agenda inválida para %s: %w", prov.Commodity, err)
		}
		s.entries[prov.Commodity] = id

		logger.Info("Provedor agendado",
			zap.String("provider", prov.Details.ID),
			zap.String("commodity", string(prov.Commodity)),
			zap.String("schedule", prov.Details.Schedule),
		)
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running cycles and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports the next scheduled run of c, if it is scheduled.
func (s *Scheduler) Next(c domain.Commodity) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[c]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

// RunOnce polls the given commodities now (all configured ones when empty).
func (s *Scheduler) RunOnce(ctx context.Context, commodities ...domain.Commodity) ([]CycleResult, error) {
	providers, err := Resolve(s.registry, commodities...)
	if err != nil {
		return nil, err
	}
	return s.pipeline.RunAll(ctx, providers), nil
}

// Resolve maps commodities to their configured providers.
func Resolve(reg *registry.Registry, commodities ...domain.Commodity) ([]registry.Provider, error) {
	if len(commodities) == 0 {
		return reg.Providers(), nil
	}

	providers := make([]registry.Provider, 0, len(commodities))
	for _, c := range commodities {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: commodity desconhecida %q", domain.ErrValidation, c)
		}
		prov, ok := reg.Lookup(c)
		if !ok {
			return nil, fmt.Errorf("%w: nenhum provedor configurado para %s", domain.ErrNotFound, c)
		}
		providers = append(providers, prov)
	}
	return providers, nil
}

// cronLogger routes cron's internal logging to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Sugar.Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
