package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unipost/unipost/internal/circuitbreaker"
	ometrics "github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/tracing"
)

// Service provides embedding generation with caching
type Service struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	cache Cache
	lru   *LocalLRU
}

// localTTL bounds how long the in-process LRU front holds a vector before
// deferring to Redis again.
const localTTL = 30 * time.Minute

// NewService creates an embedding service. cache may be nil, in which case
// only the in-process LRU is used.
func NewService(cfg Config, cache Cache) *Service {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}

	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "embeddings", "embeddings", nil)
	return &Service{cfg: c, httpw: httpw, cache: cache, lru: NewLocalLRU(c.MaxLRU)}
}

// GetConfig returns the current configuration
func (s *Service) GetConfig() Config {
	return s.cfg
}

// embedRequest follows the OpenAI embeddings API shape
type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed returns the vector for a single text using the configured provider
func (s *Service) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	out, err := s.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request,
// consulting the LRU and Redis caches per text first.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		key := MakeKey(m, text)

		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			ometrics.CacheHits.WithLabelValues("embedding_lru").Inc()
			continue
		}

		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, localTTL)
				ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				ometrics.CacheHits.WithLabelValues("embedding_redis").Inc()
				continue
			}
		}

		ometrics.CacheMisses.WithLabelValues("embedding").Inc()
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	start := time.Now()

	url := fmt.Sprintf("%s/embeddings", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Input: uncachedTexts, Model: m}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.httpw.Do(req)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		return nil, err
	}

	if len(er.Data) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(er.Data), len(uncachedTexts))
	}

	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(uncachedTexts) {
			return nil, fmt.Errorf("embedding provider returned out-of-range index %d", d.Index)
		}
		out := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			out[j] = float32(f)
		}

		idx := uncachedIndices[d.Index]
		results[idx] = out

		key := MakeKey(m, uncachedTexts[d.Index])
		s.lru.Set(ctx, key, out, localTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
		}
	}

	ometrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())
	return results, nil
}
