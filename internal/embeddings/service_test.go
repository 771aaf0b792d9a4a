package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]interface{}{"model": req.Model}
		data := []map[string]interface{}{}
		for i, text := range req.Input {
			// Vector derived from text length so assertions can tell inputs apart
			data = append(data, map[string]interface{}{
				"embedding": []float64{float64(len(text)), 1.0},
				"index":     i,
			})
		}
		resp["data"] = data
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedSingle(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbedServer(t, &calls)
	svc := NewService(Config{BaseURL: srv.URL}, nil)

	vec, err := svc.Embed(context.Background(), "coffee", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 1}, vec)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedUsesLRUOnRepeat(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbedServer(t, &calls)
	svc := NewService(Config{BaseURL: srv.URL}, nil)
	ctx := context.Background()

	_, err := svc.Embed(ctx, "coffee trends", "")
	require.NoError(t, err)

	// Normalized variant must hit the LRU, not the provider
	_, err = svc.Embed(ctx, "  Coffee   TRENDS ", "")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "second lookup should be served from cache")
}

func TestEmbedBatchPartialCache(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbedServer(t, &calls)
	svc := NewService(Config{BaseURL: srv.URL}, nil)
	ctx := context.Background()

	_, err := svc.Embed(ctx, "aaa", "")
	require.NoError(t, err)

	out, err := svc.EmbedBatch(ctx, []string{"aaa", "bbbb"}, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{3, 1}, out[0])
	assert.Equal(t, []float32{4, 1}, out[1])

	// One call for the first embed, one more for the uncached "bbbb"
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedBatchEmpty(t *testing.T) {
	svc := NewService(Config{BaseURL: "http://unused"}, nil)
	out, err := svc.EmbedBatch(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEmbedProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)
	_, err := svc.Embed(context.Background(), "coffee", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [], "model": "m"}`)
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)
	_, err := svc.Embed(context.Background(), "coffee", "")
	require.Error(t, err)
}
