package embeddings

import "time"

// Config controls the embedding service behavior
type Config struct {
	// BaseURL points to an OpenAI-compatible API providing /embeddings
	BaseURL string
	// APIKey is sent as a Bearer token when set
	APIKey string
	// DefaultModel is the default embedding model (e.g., text-embedding-3-small)
	DefaultModel string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// CacheTTL sets TTL for embedding cache entries
	CacheTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
}
