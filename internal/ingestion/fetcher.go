package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/registry"
	"github.com/jeovahfialho/agro-cotacoes/pkg/logger"
	"github.com/jeovahfialho/agro-cotacoes/pkg/metrics"
)

const maxBodySize = 4 << 20

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type FetcherOptions struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Cooldown       time.Duration
	InFlight       int
	HostRate       float64
	UserAgent      string
}

// Fetcher polls providers over HTTP. In-flight polls are bounded per provider,
// so a stalled provider never holds a slot another one needs. Providers on the
// same host share only a request rate, waited for once per attempt.
type Fetcher struct {
	client HTTPClient
	opts   FetcherOptions
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]*semaphore.Weighted
	limiters map[string]*rate.Limiter
	health   map[string]*providerState
}

type providerState struct {
	commodity     domain.Commodity
	degradedUntil time.Time
	failures      int
	lastError     string
	lastSuccess   time.Time
}

func NewFetcher(client HTTPClient, opts FetcherOptions) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.InFlight < 1 {
		opts.InFlight = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "agro-cotacoes/1.0"
	}

	return &Fetcher{
		client:   client,
		opts:     opts,
		now:      time.Now,
		inFlight: make(map[string]*semaphore.Weighted),
		limiters: make(map[string]*rate.Limiter),
		health:   make(map[string]*providerState),
	}
}

// Fetch performs one poll of p: download with retries, then extraction.
// While p is degraded the call fails fast with domain.ErrProviderDegraded.
func (f *Fetcher) Fetch(ctx context.Context, p registry.Provider) (domain.RawQuote, error) {
	id := p.Details.ID

	if until, ok := f.degradedUntil(id); ok {
		metrics.RecordFetchAttempt(id, "suppressed")
		return domain.RawQuote{}, fmt.Errorf("%w: %w: %s suspenso até %s",
			domain.ErrProviderDegraded, domain.ErrNetwork, id, until.Format(time.RFC3339))
	}

	u, err := url.Parse(p.Details.URL)
	if err != nil {
		return domain.RawQuote{}, fmt.Errorf("%w: URL inválida %q: %v", domain.ErrParse, p.Details.URL, err)
	}

	sem := f.slot(id)
	if err := sem.Acquire(ctx, 1); err != nil {
		return domain.RawQuote{}, fmt.Errorf("%s: aguardando poll anterior: %w", id, err)
	}
	defer sem.Release(1)

	body, err := f.download(ctx, p, f.limiter(u.Host))
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return domain.RawQuote{}, fmt.Errorf("%s: %w: %v", id, context.Canceled, err)
		case errors.Is(err, domain.ErrNetwork):
		case errors.Is(err, context.DeadlineExceeded):
			// The cycle deadline fired between attempts.
			err = fmt.Errorf("%w: %s: prazo do ciclo esgotado: %w", domain.ErrNetwork, id, err)
		default:
			return domain.RawQuote{}, err
		}
		f.markFailure(p, err)
		return domain.RawQuote{}, err
	}

	f.markSuccess(p)

	return p.Extract(body, f.now())
}

func (f *Fetcher) download(ctx context.Context, p registry.Provider, limiter *rate.Limiter) ([]byte, error) {
	id := p.Details.ID

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.opts.InitialBackoff
	eb.MaxInterval = f.opts.MaxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5

	operation := func() ([]byte, error) {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("%w: %s: cota do host excede o prazo do ciclo: %v", domain.ErrNetwork, id, err)
			}
			return nil, backoff.Permanent(err)
		}
		return f.attempt(ctx, p)
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(f.opts.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Falha ao consultar provedor, nova tentativa agendada",
				zap.String("provider", id),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return body, nil
	}

	var retryAfter *backoff.RetryAfterError
	if errors.As(err, &retryAfter) {
		err = fmt.Errorf("%w: %s: limite de requisições (HTTP 429)", domain.ErrNetwork, id)
	}
	return nil, err
}

// attempt issues a single request bounded by the per-attempt timeout.
func (f *Fetcher) attempt(ctx context.Context, p registry.Provider) ([]byte, error) {
	id := p.Details.ID

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Details.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: erro ao criar request: %v", domain.ErrNetwork, id, err))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	for k, v := range p.Details.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.RecordFetchAttempt(id, "error")
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetwork, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RecordFetchAttempt(id, "throttled")
		if secs, ok := retryAfterSeconds(resp.Header.Get("Retry-After"), f.now()); ok {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, fmt.Errorf("%w: %s: limite de requisições (HTTP 429)", domain.ErrNetwork, id)
	case resp.StatusCode >= 500:
		metrics.RecordFetchAttempt(id, "server_error")
		return nil, fmt.Errorf("%w: %s: status code %d", domain.ErrNetwork, id, resp.StatusCode)
	case resp.StatusCode >= 400:
		metrics.RecordFetchAttempt(id, "client_error")
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: status code %d", domain.ErrNetwork, id, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		metrics.RecordFetchAttempt(id, "error")
		return nil, fmt.Errorf("%w: %s: erro ao ler resposta: %v", domain.ErrNetwork, id, err)
	}
	if len(body) > maxBodySize {
		metrics.RecordFetchAttempt(id, "too_large")
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: resposta excede %d bytes", domain.ErrParse, id, maxBodySize))
	}

	metrics.RecordFetchAttempt(id, "success")
	return body, nil
}

// retryAfterSeconds reads a Retry-After header given as delta-seconds or an HTTP-date.
func retryAfterSeconds(v string, now time.Time) (int, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return secs, true
	}
	when, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d <= 0 {
		return 0, true
	}
	return int(math.Ceil(d.Seconds())), true
}

func (f *Fetcher) slot(id string) *semaphore.Weighted {
	f.mu.Lock()
	defer f.mu.Unlock()

	sem, ok := f.inFlight[id]
	if !ok {
		sem = semaphore.NewWeighted(int64(f.opts.InFlight))
		f.inFlight[id] = sem
	}
	return sem
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.opts.HostRate > 0 {
			limit = rate.Limit(f.opts.HostRate)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) state(p registry.Provider) *providerState {
	s, ok := f.health[p.Details.ID]
	if !ok {
		s = &providerState{commodity: p.Commodity}
		f.health[p.Details.ID] = s
	}
	return s
}

func (f *Fetcher) degradedUntil(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.health[id]
	if !ok || s.degradedUntil.IsZero() {
		return time.Time{}, false
	}
	if !f.now().Before(s.degradedUntil) {
		return time.Time{}, false
	}
	return s.degradedUntil, true
}

func (f *Fetcher) markFailure(p registry.Provider, err error) {
	f.mu.Lock()
	s := f.state(p)
	s.failures++
	s.lastError = err.Error()
	if f.opts.Cooldown > 0 {
		s.degradedUntil = f.now().Add(f.opts.Cooldown)
	}
	until := s.degradedUntil
	f.mu.Unlock()

	if f.opts.Cooldown > 0 {
		metrics.SetProviderDegraded(p.Details.ID, true)
		logger.Warn("Provedor marcado como degradado",
			zap.String("provider", p.Details.ID),
			zap.Time("until", until),
			zap.Error(err),
		)
	}
}

func (f *Fetcher) markSuccess(p registry.Provider) {
	f.mu.Lock()
	s := f.state(p)
	wasDegraded := !s.degradedUntil.IsZero()
	s.failures = 0
	s.lastError = ""
	s.degradedUntil = time.Time{}
	s.lastSuccess = f.now()
	f.mu.Unlock()

	if wasDegraded {
		metrics.SetProviderDegraded(p.Details.ID, false)
		logger.Info("Provedor recuperado", zap.String("provider", p.Details.ID))
	}
}

// Health reports the fetcher's view of p, including providers never polled.
func (f *Fetcher) Health(p registry.Provider) domain.ProviderHealth {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := domain.ProviderHealth{ProviderID: p.Details.ID, Commodity: p.Commodity}
	s, ok := f.health[p.Details.ID]
	if !ok {
		return h
	}
	return f.snapshot(p.Details.ID, s)
}

// Status lists every provider the fetcher has polled, ordered by commodity.
func (f *Fetcher) Status() []domain.ProviderHealth {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.ProviderHealth, 0, len(f.health))
	for id, s := range f.health {
		out = append(out, f.snapshot(id, s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Commodity != out[j].Commodity {
			return out[i].Commodity < out[j].Commodity
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out
}

func (f *Fetcher) snapshot(id string, s *providerState) domain.ProviderHealth {
	h := domain.ProviderHealth{
		ProviderID:          id,
		Commodity:           s.commodity,
		ConsecutiveFailures: s.failures,
		LastError:           s.lastError,
	}
	if !s.degradedUntil.IsZero() && f.now().Before(s.degradedUntil) {
		until := s.degradedUntil
		h.Degraded = true
		h.DegradedUntil = &until
	}
	if !s.lastSuccess.IsZero() {
		last := s.lastSuccess
		h.LastSuccess = &last
	}
	return h
}
