// Package pipeline ties the retrieval and generation stages together:
// search for context, embed, rank by similarity, compose the prompt and
// call the model. Search results are cached in Redis so repeated topics
// skip Elasticsearch entirely.
package pipeline

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/circuitbreaker"
	"github.com/unipost/unipost/internal/config"
	"github.com/unipost/unipost/internal/embeddings"
	"github.com/unipost/unipost/internal/llm"
	"github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/prompt"
	"github.com/unipost/unipost/internal/ranking"
	"github.com/unipost/unipost/internal/search"
	"github.com/unipost/unipost/internal/store"
	"github.com/unipost/unipost/internal/tracing"
)

// ErrEmptyTopic is returned when the request has no topic to work with
var ErrEmptyTopic = errors.New("topic is required")

// Searcher finds candidate context documents for a topic.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Document, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Completer generates text from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, model string) (*llm.Result, error)
}

// PostStore persists generated posts.
type PostStore interface {
	CreatePost(ctx context.Context, p *store.Post) error
}

// KnobSource supplies the tunable pipeline parameters. The config
// watcher satisfies this so knob changes apply without a restart.
type KnobSource interface {
	Pipeline() config.PipelineConfig
}

// StaticKnobs is a KnobSource with fixed values, for callers that do
// not run the file watcher.
type StaticKnobs config.PipelineConfig

func (s StaticKnobs) Pipeline() config.PipelineConfig { return config.PipelineConfig(s) }

// Request describes one generation.
type Request struct {
	Topic    string `json:"topic"`
	Platform string `json:"platform"`
	Model    string `json:"model,omitempty"`
	UserID   string `json:"-"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	Post        *store.Post      `json:"post"`
	ContextDocs []ranking.Ranked `json:"context"`
	FromCache   bool             `json:"search_cache_hit"`
}

// Service runs the generation pipeline.
type Service struct {
	searcher  Searcher
	embedder  Embedder
	completer Completer
	store     PostStore
	cache     *circuitbreaker.RedisWrapper
	knobs     KnobSource
	logger    *zap.Logger
}

func NewService(
	searcher Searcher,
	embedder Embedder,
	completer Completer,
	posts PostStore,
	cache *circuitbreaker.RedisWrapper,
	knobs KnobSource,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Service{
		searcher:  searcher,
		embedder:  embedder,
		completer: completer,
		store:     posts,
		cache:     cache,
		knobs:     knobs,
		logger:    logger,
	}
}

// Generate runs the full pipeline for one request. It returns
// search.ErrNoContext when no usable context documents exist; the
// model is never called without at least one.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	platform := req.Platform
	if !prompt.ValidPlatform(platform) {
		platform = prompt.PlatformBlog
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.Generate")
	defer span.End()

	knobs := s.knobs.Pipeline()
	start := time.Now()
	metrics.GenerationsStarted.WithLabelValues(platform).Inc()

	status := "error"
	defer func() {
		metrics.GenerationsCompleted.WithLabelValues(platform, status).Inc()
		metrics.GenerationDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}()

	docs, cached, err := s.searchWithCache(ctx, topic, knobs.SearchCacheTTL)
	if err != nil {
		if errors.Is(err, search.ErrNoContext) {
			status = "no_context"
		}
		return nil, err
	}

	ranked, err := s.rankContext(ctx, topic, docs, knobs)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		status = "no_context"
		return nil, search.ErrNoContext
	}
	metrics.SimilarityScore.Observe(ranked[0].Similarity)

	composer := prompt.NewComposer(knobs.ContextBudget)
	promptText, err := composer.Compose(topic, platform, ranked)
	if err != nil {
		return nil, err
	}

	gen, err := s.completer.Complete(ctx, promptText, req.Model)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	post := &store.Post{
		Description: topic,
		Content:     gen.Text,
		Platform:    platform,
		Model:       gen.Model,
		CreatedBy:   req.UserID,
		TokensUsed:  gen.TokensUsed,
		ContextIDs:  contextIDs(ranked),
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to persist post: %w", err)
	}

	status = "success"
	s.logger.Info("Post generated",
		zap.String("post_id", post.ID),
		zap.String("platform", platform),
		zap.String("model", gen.Model),
		zap.Int("context_docs", len(ranked)),
		zap.Float64("top_similarity", ranked[0].Similarity),
		zap.Bool("search_cache_hit", cached),
		zap.Duration("duration", time.Since(start)),
	)
	return &Result{Post: post, ContextDocs: ranked, FromCache: cached}, nil
}

// searchWithCache consults the Redis search cache before hitting
// Elasticsearch. Keys derive from the normalized topic so whitespace
// and case variations share an entry.
func (s *Service) searchWithCache(ctx context.Context, topic string, ttl time.Duration) ([]search.Document, bool, error) {
	key := SearchCacheKey(topic)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var docs []search.Document
			if jerr := json.Unmarshal(raw, &docs); jerr == nil && len(docs) > 0 {
				metrics.CacheHits.WithLabelValues("search").Inc()
				return docs, true, nil
			}
			// Corrupt or empty entry counts as a miss
			metrics.CacheMisses.WithLabelValues("search").Inc()
		case errors.Is(err, redis.Nil):
			metrics.CacheMisses.WithLabelValues("search").Inc()
		default:
			// Redis being down is not a cache miss
			s.logger.Debug("Search cache unavailable", zap.Error(err))
		}
	}

	docs, err := s.searcher.Search(ctx, topic)
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil && len(docs) > 0 {
		if raw, err := json.Marshal(docs); err == nil {
			if err := s.cache.Set(ctx, key, raw, ttl).Err(); err != nil {
				s.logger.Debug("Failed to cache search results", zap.Error(err))
			}
		}
	}
	return docs, false, nil
}

// rankContext embeds the topic together with every candidate document
// in one batch and keeps the best matches.
func (s *Service) rankContext(ctx context.Context, topic string, docs []search.Document, knobs config.PipelineConfig) ([]ranking.Ranked, error) {
	texts := make([]string, 0, len(docs)+1)
	texts = append(texts, topic)
	for _, d := range docs {
		texts = append(texts, d.Title+"\n"+d.Content)
	}

	vecs, err := s.embedder.EmbedBatch(ctx, texts, "")
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(texts))
	}

	return ranking.TopN(vecs[0], docs, vecs[1:], knobs.TopK, knobs.MinSimilarity), nil
}

// SearchCacheKey derives the deterministic Redis key for a topic's
// search results.
func SearchCacheKey(topic string) string {
	h := md5.Sum([]byte(embeddings.Normalize(topic)))
	return "search:" + hex.EncodeToString(h[:])
}

func contextIDs(ranked []ranking.Ranked) sql.NullString {
	if len(ranked) == 0 {
		return sql.NullString{}
	}
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Doc.ID
	}
	return sql.NullString{String: strings.Join(ids, ","), Valid: true}
}
