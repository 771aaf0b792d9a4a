// Package llm calls an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/circuitbreaker"
	ometrics "github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/tracing"
)

// Config controls the completion client behavior
type Config struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

// Client sends completion requests through a circuit breaker
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// Result is a completed generation with usage accounting
type Result struct {
	Text       string
	Model      string
	TokensUsed int
}

// NewClient creates a completion client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "llm", "generation", logger)
	return &Client{cfg: c, httpw: httpw, log: logger}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt and returns the generated text
func (c *Client) Complete(ctx context.Context, prompt string, model string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("llm: empty prompt")
	}
	m := model
	if m == "" {
		m = c.cfg.DefaultModel
	}
	start := time.Now()

	url := fmt.Sprintf("%s/chat/completions", c.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := chatRequest{
		Model:       m,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		ometrics.LLMRequests.WithLabelValues(m, "error").Inc()
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.LLMRequests.WithLabelValues(m, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("completion provider returned %d: %s", resp.StatusCode, string(body))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		ometrics.LLMRequests.WithLabelValues(m, "error").Inc()
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(cr.Choices) == 0 {
		ometrics.LLMRequests.WithLabelValues(m, "empty").Inc()
		return nil, fmt.Errorf("completion provider returned no choices")
	}

	text := strings.TrimSpace(cr.Choices[0].Message.Content)
	if text == "" {
		ometrics.LLMRequests.WithLabelValues(m, "empty").Inc()
		return nil, fmt.Errorf("completion provider returned empty text")
	}

	elapsed := time.Since(start)
	ometrics.LLMRequests.WithLabelValues(m, "ok").Inc()
	ometrics.LLMLatency.WithLabelValues(m).Observe(elapsed.Seconds())
	if cr.Usage.TotalTokens > 0 {
		ometrics.LLMTokensUsed.Observe(float64(cr.Usage.TotalTokens))
	}

	respModel := cr.Model
	if respModel == "" {
		respModel = m
	}
	c.log.Debug("Completion finished",
		zap.String("model", respModel),
		zap.Int("tokens", cr.Usage.TotalTokens),
		zap.Duration("elapsed", elapsed),
	)

	return &Result{Text: text, Model: respModel, TokensUsed: cr.Usage.TotalTokens}, nil
}

// HealthCheck probes the models listing endpoint
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/models", c.cfg.BaseURL), nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models endpoint status %d", resp.StatusCode)
	}
	return nil
}
