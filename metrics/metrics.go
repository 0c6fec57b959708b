package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltagate_cache_lookups_total",
		Help: "Credential cache lookups by result (hit, miss, expired).",
	}, []string{"result"})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltagate_cache_evictions_total",
		Help: "Credential cache entries evicted by capacity or age.",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deltagate_cache_entries",
		Help: "Number of entries currently held by the credential cache.",
	})

	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltagate_catalog_requests_total",
		Help: "Governance catalog calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	CatalogDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltagate_catalog_request_duration_seconds",
		Help:    "Duration of governance catalog calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltagate_ratelimit_waits_total",
		Help: "Number of times a catalog call waited on the rate limiter.",
	}, []string{"client"})

	TablesBound = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deltagate_query_tables_bound",
		Help:    "Number of distinct tables bound per query.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})

	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltagate_queries_total",
		Help: "SQL queries by outcome.",
	}, []string{"outcome"})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deltagate_query_duration_seconds",
		Help:    "Wall-clock duration of query compile and execute.",
		Buckets: prometheus.DefBuckets,
	})

	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltagate_mutations_total",
		Help: "Mutation requests by kind and outcome.",
	}, []string{"kind", "outcome"})

	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deltagate_mutation_duration_seconds",
		Help:    "Duration of mutation requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	FilesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltagate_files_written_total",
		Help: "Data files written to table storage.",
	})

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltagate_bytes_written_total",
		Help: "Bytes of data files written to table storage.",
	})

	FilesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deltagate_files_removed_total",
		Help: "Data files physically deleted by vacuum.",
	})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deltagate_commits_total",
		Help: "Table log commits by operation and outcome.",
	}, []string{"operation", "outcome"})
)
