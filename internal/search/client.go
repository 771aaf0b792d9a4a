package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/circuitbreaker"
	ometrics "github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/tracing"
)

// Client is a minimal Elasticsearch HTTP client scoped to the content index
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient creates a search client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Index == "" {
		c.Index = "unipost_content"
	}
	if c.Size == 0 {
		c.Size = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "elasticsearch", "search", logger)
	return &Client{cfg: c, httpw: httpw, log: logger}
}

// searchRequest mirrors the _search body; title matches are boosted over content and tags
type searchRequest struct {
	Query     map[string]interface{} `json:"query"`
	Size      int                    `json:"size"`
	Source    []string               `json:"_source"`
	Highlight map[string]interface{} `json:"highlight,omitempty"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Title    string   `json:"title"`
				Content  string   `json:"content"`
				Tags     []string `json:"tags"`
				Source   string   `json:"source"`
				Category string   `json:"category"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a multi-field match query against the content index and returns
// hits in index relevance order. An empty result is returned as ErrNoContext.
func (c *Client) Search(ctx context.Context, query string) ([]Document, error) {
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	start := time.Now()

	url := fmt.Sprintf("%s/%s/_search", c.cfg.URL, c.cfg.Index)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body := searchRequest{
		Query: map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "content", "tags"},
				"type":   "best_fields",
			},
		},
		Size:   c.cfg.Size,
		Source: []string{"title", "content", "tags", "source", "category"},
	}
	buf, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		ometrics.SearchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.SearchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		ometrics.SearchRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]Document, 0, len(sr.Hits.Hits))
	for i, h := range sr.Hits.Hits {
		docs = append(docs, Document{
			ID:       h.ID,
			Title:    h.Source.Title,
			Content:  h.Source.Content,
			Tags:     h.Source.Tags,
			Source:   h.Source.Source,
			Category: h.Source.Category,
			Score:    h.Score,
			Rank:     i,
		})
	}

	ometrics.SearchHits.Observe(float64(len(docs)))
	if len(docs) == 0 {
		ometrics.SearchRequests.WithLabelValues("empty").Inc()
		c.log.Info("Search returned no hits",
			zap.String("index", c.cfg.Index),
			zap.String("query", query),
		)
		return nil, ErrNoContext
	}

	ometrics.SearchRequests.WithLabelValues("ok").Inc()
	c.log.Debug("Search completed",
		zap.String("index", c.cfg.Index),
		zap.Int("hits", len(docs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return docs, nil
}

// HealthCheck verifies cluster reachability via _cluster/health
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/_cluster/health", c.cfg.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cluster health status %d", resp.StatusCode)
	}
	return nil
}
