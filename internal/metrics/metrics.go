package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Generation pipeline metrics
	GenerationsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_generations_started_total",
			Help: "Total number of post generations started",
		},
		[]string{"platform"},
	)

	GenerationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_generations_completed_total",
			Help: "Total number of post generations completed",
		},
		[]string{"platform", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unipost_generation_duration_seconds",
			Help:    "End-to-end generation pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_search_requests_total",
			Help: "Total number of context search requests",
		},
		[]string{"status"},
	)

	SearchHits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unipost_search_hits",
			Help:    "Number of context documents returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_embedding_requests_total",
			Help: "Total number of embedding lookups by outcome",
		},
		[]string{"model", "outcome"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unipost_embedding_latency_seconds",
			Help:    "Embedding provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// Ranking metrics
	SimilarityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unipost_similarity_top_score",
			Help:    "Cosine similarity of the best-ranked context document",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unipost_llm_latency_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)

	LLMTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unipost_llm_tokens_used",
			Help:    "Tokens consumed per completion",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000},
		},
	)

	// Approval metrics
	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_approval_decisions_total",
			Help: "Total number of approval decisions",
		},
		[]string{"decision"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_webhook_deliveries_total",
			Help: "Total number of approval webhook deliveries by outcome",
		},
		[]string{"status"},
	)

	WebhookRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unipost_webhook_retries_total",
			Help: "Total number of webhook delivery retries",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unipost_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unipost_session_cache_size",
			Help: "Number of sessions held in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unipost_session_cache_evictions_total",
			Help: "Total number of local session cache evictions",
		},
	)

	// HTTP API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unipost_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unipost_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unipost_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// RecordEmbeddingMetrics records an embedding lookup outcome and latency.
// Cache hits pass zero latency; only real provider calls are observed.
func RecordEmbeddingMetrics(model, outcome string, seconds float64) {
	EmbeddingRequests.WithLabelValues(model, outcome).Inc()
	if seconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(seconds)
	}
}
