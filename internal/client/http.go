// Package client provides the HTTP transport for the skrape API client
// Includes connection pooling, TLS settings, client-side pacing, and request/response middleware
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Almahr1/skrape/internal/config"
	"github.com/Almahr1/skrape/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// RequestIDHeader correlates a request with service-side logs
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 32 << 20
)

// HTTPClient wraps the standard HTTP client with a middleware chain.
// It never retries: every call results in at most one request.
type HTTPClient struct {
	client     *http.Client
	config     *config.HTTPConfig
	logger     *zap.Logger
	middleware []Middleware
	maxBody    int64
	mu         sync.RWMutex
}

// Middleware defines the interface for HTTP middleware
type Middleware interface {
	RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error)
}

// LoggingMiddleware logs HTTP requests and responses
type LoggingMiddleware struct {
	logger *zap.Logger
}

// UserAgentMiddleware adds User-Agent header to requests
type UserAgentMiddleware struct {
	userAgent string
}

// AuthMiddleware sets JSON headers on every request and the bearer token
// only on requests addressed to the API host. Redirect hops to other hosts
// go out without credentials.
type AuthMiddleware struct {
	apiKey string
	host   string
}

// RequestIDMiddleware tags each request with a unique X-Request-ID
type RequestIDMiddleware struct{}

// RateLimitMiddleware paces requests before they are sent
type RateLimitMiddleware struct {
	limiter *rate.Limiter
}

// MetricsMiddleware collects HTTP metrics
type MetricsMiddleware struct {
	metrics *metrics.Metrics
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	RequestID  string
}

// NewHTTPClient creates a new HTTP client with the given configuration.
// Logging is always installed as the outermost middleware.
func NewHTTPClient(cfg *config.HTTPConfig, timeout time.Duration, logger *zap.Logger, middleware ...Middleware) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, err := buildHTTPClient(cfg, timeout)
	if err != nil {
		return nil, err
	}

	chain := make([]Middleware, 0, len(middleware)+1)
	chain = append(chain, NewLoggingMiddleware(logger))
	chain = append(chain, middleware...)

	return &HTTPClient{
		client:     httpClient,
		config:     cfg,
		logger:     logger,
		middleware: chain,
		maxBody:    maxResponseBytes,
	}, nil
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.Do(req)
}

// PostJSON marshals body and POSTs it with a JSON content type
func (c *HTTPClient) PostJSON(ctx context.Context, rawURL string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.Do(req)
}

// Do executes req through the middleware chain and reads the whole body
func (c *HTTPClient) Do(req *http.Request) (*Response, error) {
	c.mu.RLock()
	transport := chainMiddleware(c.middleware, c.client.Transport)
	c.mu.RUnlock()

	start := time.Now()

	// Middleware wraps the transport, so redirects still pass through the
	// client's CheckRedirect policy
	client := *c.client
	client.Transport = transport

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("response too large: body exceeds %d bytes", c.maxBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
		RequestID:  resp.Request.Header.Get(RequestIDHeader),
	}, nil
}

// AddMiddleware appends middleware after the ones given to NewHTTPClient.
// Requests already in flight keep the chain they started with.
func (c *HTTPClient) AddMiddleware(middleware ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middleware = append(c.middleware, middleware...)
}

// Close releases idle connections held by the transport
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// RoundTrip implements the Middleware interface for logging
func (m *LoggingMiddleware) RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	start := time.Now()
	resp, err := next.RoundTrip(req)

	// Inner middleware may have set the ID on a clone
	requestID := req.Header.Get(RequestIDHeader)
	if resp != nil && resp.Request != nil {
		requestID = resp.Request.Header.Get(RequestIDHeader)
	}

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", redactQuery(req)),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", requestID),
	}
	if err != nil {
		m.logger.Debug("skrape request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	m.logger.Debug("skrape request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

func (m *UserAgentMiddleware) RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", m.userAgent)
	}
	return next.RoundTrip(req)
}

func (m *AuthMiddleware) RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	req = req.Clone(req.Context())
	if m.host != "" && strings.EqualFold(req.URL.Host, m.host) {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	} else {
		req.Header.Del("Authorization")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return next.RoundTrip(req)
}

func (m *RequestIDMiddleware) RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return next.RoundTrip(req)
}

// RoundTrip implements the Middleware interface for rate limiting
func (m *RateLimitMiddleware) RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	if err := m.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return next.RoundTrip(req)
}

// RoundTrip implements the Middleware interface for metrics
func (m *MetricsMiddleware) RoundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	start := time.Now()
	resp, err := next.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	m.metrics.ObserveRequest(endpointLabel(req), status, time.Since(start))
	return resp, err
}

func NewLoggingMiddleware(logger *zap.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func NewUserAgentMiddleware(userAgent string) *UserAgentMiddleware {
	return &UserAgentMiddleware{userAgent: userAgent}
}

// NewAuthMiddleware scopes apiKey to the host of baseURL
func NewAuthMiddleware(apiKey, baseURL string) *AuthMiddleware {
	m := &AuthMiddleware{apiKey: apiKey}
	if u, err := url.Parse(baseURL); err == nil {
		m.host = u.Host
	}
	return m
}

func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

func NewRateLimitMiddleware(requestsPerSecond float64, burst int) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func NewMetricsMiddleware(m *metrics.Metrics) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: m}
}

// buildHTTPClient creates and configures the underlying http.Client
func buildHTTPClient(cfg *config.HTTPConfig, timeout time.Duration) (*http.Client, error) {
	minVersion, err := config.TLSVersion(cfg.TlsMinVersion)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout: cfg.DialTimeout,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConnections,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnectionsPerHost,
		IdleConnTimeout:       cfg.IdleConnectionTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		TLSHandshakeTimeout:   cfg.TlsHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: minVersion,
		},
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return client, nil
}

// chainMiddleware chains multiple middleware together. The first middleware
// in the slice sees the request first.
func chainMiddleware(middleware []Middleware, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(middleware) - 1; i >= 0; i-- {
		rt = &middlewareRoundTripper{middleware: middleware[i], next: rt}
	}
	return rt
}

type middlewareRoundTripper struct {
	middleware Middleware
	next       http.RoundTripper
}

func (m *middlewareRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.middleware.RoundTrip(req, m.next)
}

// endpointLabel keeps metric cardinality bounded to the API's fixed paths
func endpointLabel(req *http.Request) string {
	p := req.URL.Path
	for _, endpoint := range []string{"/markdown/bulk", "/markdown", "/extract", "/crawl", "/get-job"} {
		if strings.HasSuffix(p, endpoint) {
			return endpoint
		}
	}
	return "other"
}

// redactQuery drops the query string from logged URLs
func redactQuery(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}
