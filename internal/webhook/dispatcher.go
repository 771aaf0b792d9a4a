package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/tracing"
)

// Config controls delivery of approval decisions to the downstream CMS.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxElapsed time.Duration
}

// Dispatcher notifies the downstream system about approval decisions.
// Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff; 4xx responses are terminal.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

type approvalPayload struct {
	IsApproved bool `json:"is_approved"`
}

func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Enabled reports whether a downstream URL is configured. When it is
// not, approval decisions are recorded locally only.
func (d *Dispatcher) Enabled() bool {
	return d.cfg.BaseURL != ""
}

// NotifyApproval sends PATCH /api/texts/{id}/ with the decision,
// retrying until success or the backoff budget is exhausted.
func (d *Dispatcher) NotifyApproval(ctx context.Context, postID string, approved bool) error {
	if !d.Enabled() {
		return nil
	}

	body, err := json.Marshal(approvalPayload{IsApproved: approved})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	url := fmt.Sprintf("%s/api/texts/%s/", strings.TrimRight(d.cfg.BaseURL, "/"), postID)

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			metrics.WebhookRetries.Inc()
		}
		return d.send(ctx, url, body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = d.cfg.MaxElapsed

	err = backoff.Retry(operation, backoff.WithContext(bo, ctx))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		d.logger.Error("Webhook delivery failed",
			zap.String("post_id", postID),
			zap.Bool("approved", approved),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, err)
	}

	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	d.logger.Info("Webhook delivered",
		zap.String("post_id", postID),
		zap.Bool("approved", approved),
		zap.Int("attempts", attempt),
	)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}
