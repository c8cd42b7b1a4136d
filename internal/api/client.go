// Package api is the skrape service façade: one method per remote endpoint,
// each a single request whose response is normalized and parsed into a typed result
package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/Almahr1/skrape/internal/client"
	"github.com/Almahr1/skrape/internal/config"
	"github.com/Almahr1/skrape/internal/metrics"
	"github.com/Almahr1/skrape/internal/models"
	"github.com/Almahr1/skrape/internal/normalize"
	"github.com/Almahr1/skrape/internal/target"
	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
)

const (
	pathExtract      = "/extract"
	pathMarkdown     = "/markdown"
	pathMarkdownBulk = "/markdown/bulk"
	pathCrawl        = "/crawl"
	pathGetJob       = "/get-job"
)

// Client talks to the skrape API. It is safe for concurrent use. The
// transport is created on first use and released by Close; a closed Client
// returns apierror.ErrClientClosed from every call.
type Client struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	middleware []client.Middleware

	mu        sync.Mutex
	transport *client.HTTPClient
	closed    bool
}

// Option customizes a Client
type Option func(*Client)

// WithMetrics records request and quota metrics to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithMiddleware appends transport middleware after the built-in chain
func WithMiddleware(middleware ...client.Middleware) Option {
	return func(c *Client) { c.middleware = append(c.middleware, middleware...) }
}

// New validates cfg and returns a Client. No connection is made until the
// first call or Open.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, apierror.Invalid("config is required")
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.Named("skrape"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil && cfg.Monitoring.MetricsEnabled {
		c.metrics = metrics.Default()
	}
	return c, nil
}

// WithSession opens a Client, runs fn and always closes it
func WithSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(*Client) error, opts ...Option) error {
	c, err := New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Open(ctx); err != nil {
		return err
	}
	return fn(c)
}

// Open creates the transport eagerly
func (c *Client) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.getTransport()
	return err
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	c.logger.Debug("skrape client closed")
	return err
}

// Extract asks the service to extract data matching s from rawURL. The
// service answers inline, so the result is normally an immediate job.
func (c *Client) Extract(ctx context.Context, rawURL string, s *jsonschema.Schema, opts models.Options) (*models.JobResult, error) {
	job, _, err := c.extract(ctx, rawURL, s, opts)
	return job, err
}

// Markdown converts a single page to markdown
func (c *Client) Markdown(ctx context.Context, rawURL string, opts models.Options) (*models.MarkdownResult, error) {
	pageURL, err := target.Single(rawURL)
	if err != nil {
		return nil, err
	}

	n, err := c.post(ctx, pathMarkdown, map[string]any{
		"url":     pageURL,
		"options": opts.Payload(),
	})
	if err != nil {
		return nil, err
	}
	return c.parseMarkdown(n)
}

// MarkdownBulk queues markdown conversion for urls
func (c *Client) MarkdownBulk(ctx context.Context, urls []string, opts models.Options) (*models.JobResult, error) {
	return c.submitBatch(ctx, pathMarkdownBulk, urls, opts)
}

// Crawl queues a crawl starting from urls. Automation such as a callback
// URL or browser actions is carried in opts.
func (c *Client) Crawl(ctx context.Context, urls []string, opts models.Options) (*models.JobResult, error) {
	return c.submitBatch(ctx, pathCrawl, urls, opts)
}

// GetJob fetches the current state of a job. Results are never cached.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.JobResult, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, apierror.Invalid("job id is required")
	}

	t, err := c.getTransport()
	if err != nil {
		return nil, err
	}

	resp, err := t.Get(ctx, c.endpoint(pathGetJob)+"?jobId="+url.QueryEscape(jobID))
	if err != nil {
		return nil, apierror.NewTransport(err)
	}

	n, err := normalize.Normalize(resp.StatusCode, resp.Header, resp.Body)
	if err != nil {
		return nil, c.failed(pathGetJob, resp, err)
	}
	return c.parseJob(n)
}

func (c *Client) extract(ctx context.Context, rawURL string, s *jsonschema.Schema, opts models.Options) (*models.JobResult, *models.UsageInfo, error) {
	pageURL, err := target.Single(rawURL)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, apierror.Invalid("schema is required")
	}

	n, err := c.post(ctx, pathExtract, map[string]any{
		"url":     pageURL,
		"schema":  s,
		"options": opts.Payload(),
	})
	if err != nil {
		return nil, nil, err
	}

	job, err := c.parseJob(n)
	if err != nil {
		return nil, nil, err
	}
	usage, err := c.parseUsage(n.Usage)
	if err != nil {
		return nil, nil, err
	}
	return job, usage, nil
}

func (c *Client) submitBatch(ctx context.Context, path string, urls []string, opts models.Options) (*models.JobResult, error) {
	targets, err := target.Batch(urls)
	if err != nil {
		return nil, err
	}

	n, err := c.post(ctx, path, map[string]any{
		"urls":    targets,
		"options": opts.Payload(),
	})
	if err != nil {
		return nil, err
	}
	return c.parseJob(n)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (*normalize.Normalized, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apierror.Invalid("cannot encode request: %v", err)
	}

	t, err := c.getTransport()
	if err != nil {
		return nil, err
	}

	resp, err := t.PostJSON(ctx, c.endpoint(path), json.RawMessage(payload))
	if err != nil {
		return nil, apierror.NewTransport(err)
	}

	n, err := normalize.Normalize(resp.StatusCode, resp.Header, resp.Body)
	if err != nil {
		return nil, c.failed(path, resp, err)
	}
	return n, nil
}

func (c *Client) failed(path string, resp *client.Response, err error) error {
	if apiErr, ok := apierror.AsAPIError(err); ok {
		c.logger.Debug("skrape api error",
			zap.String("endpoint", path),
			zap.String("code", string(apiErr.Code)),
			zap.Int("status", apiErr.StatusCode),
			zap.String("request_id", resp.RequestID),
			zap.Duration("duration", resp.Duration),
		)
	}
	return err
}

func (c *Client) getTransport() (*client.HTTPClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, apierror.ErrClientClosed
	}
	if c.transport != nil {
		return c.transport, nil
	}

	middleware := []client.Middleware{
		client.NewRequestIDMiddleware(),
		client.NewUserAgentMiddleware(c.cfg.API.UserAgent),
		client.NewAuthMiddleware(c.cfg.API.Key, c.cfg.API.BaseURL),
	}
	if c.cfg.RateLimit.Enabled {
		middleware = append(middleware, client.NewRateLimitMiddleware(c.cfg.RateLimit.RequestsPerSecond, c.cfg.RateLimit.Burst))
	}
	if c.metrics != nil {
		middleware = append(middleware, client.NewMetricsMiddleware(c.metrics))
	}

	t, err := client.NewHTTPClient(&c.cfg.HTTP, c.cfg.API.Timeout, c.logger, middleware...)
	if err != nil {
		return nil, err
	}
	// Caller middleware runs innermost, after auth and pacing
	t.AddMiddleware(c.middleware...)
	c.transport = t
	c.logger.Debug("skrape client opened", zap.String("base_url", c.cfg.API.BaseURL))
	return t, nil
}

func (c *Client) endpoint(path string) string {
	return c.cfg.API.BaseURL + path
}
