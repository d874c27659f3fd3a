package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_cycles_total",
		Help: "Total number of provider poll cycles by outcome",
	}, []string{"commodity", "status"})

	PollCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poll_cycle_duration_seconds",
		Help:    "Duration of a full poll cycle (fetch, normalize, write)",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_attempts_total",
		Help: "Outbound provider requests by outcome",
	}, []string{"provider", "outcome"})

	ProviderDegraded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_degraded",
		Help: "1 while a provider is in its degraded cooldown window",
	}, []string{"provider"})

	QuotesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_written_total",
		Help: "Quotes persisted by the ingestion writer",
	}, []string{"commodity", "op"})

	PriceConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_conflicts_total",
		Help: "Upserts that overwrote a row with different content",
	}, []string{"commodity"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total number of cache misses",
	})

	DatabaseQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "database_queries_total",
		Help: "Total number of database queries",
	}, []string{"query_type", "status"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "database_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_type"})

	SummaryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_requests_total",
		Help: "Total number of summary requests",
	}, []string{"cached"})

	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_errors_total",
		Help: "Server-side API failures by error class",
	}, []string{"class"})
)

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordDatabaseQuery(queryType string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(queryType, status).Inc()
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

func RecordPollCycle(commodity, status string) {
	PollCycles.WithLabelValues(commodity, status).Inc()
}

func RecordFetchAttempt(provider, outcome string) {
	FetchAttempts.WithLabelValues(provider, outcome).Inc()
}

func SetProviderDegraded(provider string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	ProviderDegraded.WithLabelValues(provider).Set(v)
}

func RecordSummaryRequest(cached bool) {
	cachedStr := "false"
	if cached {
		cachedStr = "true"
	}
	SummaryRequests.WithLabelValues(cachedStr).Inc()
}

type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(time.Since(t.start).Seconds())
}
