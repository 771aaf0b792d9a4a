package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unipost/unipost/internal/circuitbreaker"
	"github.com/unipost/unipost/internal/config"
	"github.com/unipost/unipost/internal/llm"
	"github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/search"
	"github.com/unipost/unipost/internal/store"
)

type stubSearcher struct {
	calls atomic.Int32
	docs  []search.Document
	err   error
}

func (s *stubSearcher) Search(_ context.Context, _ string) ([]search.Document, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

// stubEmbedder maps each text to a fixed 2-d vector so similarity
// ordering is predictable: texts containing "coffee" align with a
// coffee topic, others are orthogonal.
type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "coffee") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

type stubCompleter struct {
	calls  atomic.Int32
	prompt string
}

func (c *stubCompleter) Complete(_ context.Context, prompt string, model string) (*llm.Result, error) {
	c.calls.Add(1)
	c.prompt = prompt
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &llm.Result{Text: "Generated text.", Model: model, TokensUsed: 42}, nil
}

type stubStore struct {
	posts []*store.Post
}

func (s *stubStore) CreatePost(_ context.Context, p *store.Post) error {
	p.ID = "post-1"
	s.posts = append(s.posts, p)
	return nil
}

func testKnobs() StaticKnobs {
	return StaticKnobs(config.PipelineConfig{
		TopK:           5,
		ContextBudget:  6000,
		SearchCacheTTL: 30 * time.Minute,
		MinSimilarity:  0,
	})
}

func testDocs() []search.Document {
	return []search.Document{
		{ID: "d1", Title: "Coffee brewing", Content: "Pour over coffee basics.", Rank: 0},
		{ID: "d2", Title: "Tea ceremony", Content: "Matcha whisking.", Rank: 1},
		{ID: "d3", Title: "Coffee roasting", Content: "Light roast coffee notes.", Rank: 2},
	}
}

func newTestService(t *testing.T, searcher Searcher, cache *circuitbreaker.RedisWrapper) (*Service, *stubStore, *stubCompleter) {
	t.Helper()
	st := &stubStore{}
	comp := &stubCompleter{}
	svc := NewService(searcher, stubEmbedder{}, comp, st, cache, testKnobs(), zaptest.NewLogger(t))
	return svc, st, comp
}

func TestGenerate(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs()}
	svc, st, comp := newTestService(t, searcher, nil)

	res, err := svc.Generate(context.Background(), Request{
		Topic:    "coffee tips",
		Platform: "FCB",
		UserID:   "alice",
	})
	require.NoError(t, err)

	require.Len(t, st.posts, 1)
	p := st.posts[0]
	assert.Equal(t, "Generated text.", p.Content)
	assert.Equal(t, "FCB", p.Platform)
	assert.Equal(t, "alice", p.CreatedBy)
	assert.Equal(t, 42, p.TokensUsed)

	// coffee docs rank ahead of the tea doc, original order preserved
	require.Len(t, res.ContextDocs, 3)
	assert.Equal(t, "d1", res.ContextDocs[0].Doc.ID)
	assert.Equal(t, "d3", res.ContextDocs[1].Doc.ID)
	assert.Equal(t, "d2", res.ContextDocs[2].Doc.ID)

	assert.Contains(t, comp.prompt, "coffee tips")
	assert.Contains(t, comp.prompt, "Coffee brewing")
	assert.True(t, p.ContextIDs.Valid)
	assert.Equal(t, "d1,d3,d2", p.ContextIDs.String)
}

func TestGenerateNoContext(t *testing.T) {
	searcher := &stubSearcher{err: search.ErrNoContext}
	svc, st, comp := newTestService(t, searcher, nil)

	_, err := svc.Generate(context.Background(), Request{Topic: "obscure", Platform: "FCB"})
	assert.ErrorIs(t, err, search.ErrNoContext)
	assert.Empty(t, st.posts)
	assert.Zero(t, comp.calls.Load(), "model must not be called without context")
}

func TestGenerateEmptyTopic(t *testing.T) {
	svc, _, _ := newTestService(t, &stubSearcher{}, nil)

	_, err := svc.Generate(context.Background(), Request{Topic: "   "})
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestGenerateMinSimilarityFiltersAll(t *testing.T) {
	searcher := &stubSearcher{docs: []search.Document{
		{ID: "d2", Title: "Tea ceremony", Content: "Matcha whisking.", Rank: 0},
	}}
	st := &stubStore{}
	comp := &stubCompleter{}
	knobs := StaticKnobs(config.PipelineConfig{TopK: 5, ContextBudget: 6000, MinSimilarity: 0.5})
	svc := NewService(searcher, stubEmbedder{}, comp, st, nil, knobs, zaptest.NewLogger(t))

	_, err := svc.Generate(context.Background(), Request{Topic: "coffee", Platform: "FCB"})
	assert.ErrorIs(t, err, search.ErrNoContext)
	assert.Zero(t, comp.calls.Load())
}

func TestGenerateUnknownPlatformFallsBack(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs()}
	svc, st, _ := newTestService(t, searcher, nil)

	_, err := svc.Generate(context.Background(), Request{Topic: "coffee", Platform: "XXX"})
	require.NoError(t, err)
	require.Len(t, st.posts, 1)
	assert.Equal(t, "BLG", st.posts[0].Platform)
}

func TestSearchCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))

	searcher := &stubSearcher{docs: testDocs()}
	svc, _, _ := newTestService(t, searcher, cache)

	res1, err := svc.Generate(context.Background(), Request{Topic: "coffee tips", Platform: "FCB"})
	require.NoError(t, err)
	assert.False(t, res1.FromCache)

	// normalized variants of the topic share the cache entry
	res2, err := svc.Generate(context.Background(), Request{Topic: "  Coffee   TIPS ", Platform: "TTK"})
	require.NoError(t, err)
	assert.True(t, res2.FromCache)
	assert.Equal(t, int32(1), searcher.calls.Load())

	// expiry falls back to a fresh search
	mr.FastForward(time.Hour)
	res3, err := svc.Generate(context.Background(), Request{Topic: "coffee tips", Platform: "FCB"})
	require.NoError(t, err)
	assert.False(t, res3.FromCache)
	assert.Equal(t, int32(2), searcher.calls.Load())
}

func TestSearchCacheMissCounting(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))

	searcher := &stubSearcher{docs: testDocs()}
	svc, _, _ := newTestService(t, searcher, cache)
	missCounter := metrics.CacheMisses.WithLabelValues("search")

	// Absent key counts as one miss
	before := testutil.ToFloat64(missCounter)
	_, err := svc.Generate(context.Background(), Request{Topic: "coffee", Platform: "FCB"})
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(missCounter))

	// An unreachable Redis is an outage, not a miss
	mr.Close()
	before = testutil.ToFloat64(missCounter)
	res, err := svc.Generate(context.Background(), Request{Topic: "tea time", Platform: "FCB"})
	require.NoError(t, err, "generation must survive a cache outage")
	assert.False(t, res.FromCache)
	assert.Equal(t, before, testutil.ToFloat64(missCounter))
}

func TestSearchCacheKeyDeterministic(t *testing.T) {
	assert.Equal(t, SearchCacheKey("coffee tips"), SearchCacheKey("  Coffee   TIPS "))
	assert.NotEqual(t, SearchCacheKey("coffee tips"), SearchCacheKey("tea tips"))
	assert.True(t, strings.HasPrefix(SearchCacheKey("x"), "search:"))
}
