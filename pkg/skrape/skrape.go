// Package skrape provides a public API for the skrape.ai scraping service.
package skrape

import (
	"context"

	"github.com/Almahr1/skrape/internal/api"
	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/Almahr1/skrape/internal/client"
	"github.com/Almahr1/skrape/internal/config"
	"github.com/Almahr1/skrape/internal/metrics"
	"github.com/Almahr1/skrape/internal/models"
	"github.com/Almahr1/skrape/internal/schema"
	"github.com/google/jsonschema-go/jsonschema"
)

// Re-export client types
type (
	Client     = api.Client
	Option     = api.Option
	Middleware = client.Middleware
	Metrics    = metrics.Metrics
	Schema     = jsonschema.Schema
)

// Re-export configuration types
type (
	Config           = config.Config
	APIConfig        = config.APIConfig
	HTTPConfig       = config.HTTPConfig
	RateLimitConfig  = config.RateLimitConfig
	PollConfig       = config.PollConfig
	MonitoringConfig = config.MonitoringConfig
)

// Re-export result types
type (
	JobResult      = models.JobResult
	JobStatus      = models.JobStatus
	MarkdownResult = models.MarkdownResult
	UsageInfo      = models.UsageInfo
	RateLimit      = models.RateLimit
	Options        = models.Options
	Action         = models.Action
)

// ExtractResult is a typed extraction outcome
type ExtractResult[T any] = models.ExtractResult[T]

// Re-export error types
type (
	APIError        = apierror.APIError
	ValidationError = apierror.ValidationError
	ErrorCode       = apierror.Code
)

const (
	StatusPending   = models.StatusPending
	StatusRunning   = models.StatusRunning
	StatusCompleted = models.StatusCompleted
	StatusFailed    = models.StatusFailed

	ImmediateJobID = models.ImmediateJobID
	DefaultBaseURL = config.DefaultBaseURL
)

const (
	CodeRateLimited       = apierror.CodeRateLimited
	CodeUnauthorized      = apierror.CodeUnauthorized
	CodeOverloaded        = apierror.CodeOverloaded
	CodeRequestFailed     = apierror.CodeRequestFailed
	CodeTransport         = apierror.CodeTransport
	CodeMalformedResponse = apierror.CodeMalformedResponse
)

var (
	ErrClientClosed = apierror.ErrClientClosed
	ErrInvalidInput = apierror.ErrInvalidInput
	ErrNoResult     = models.ErrNoResult
)

// Re-export constructor functions
var (
	New            = api.New
	WithSession    = api.WithSession
	WithMetrics    = api.WithMetrics
	WithMiddleware = api.WithMiddleware
	NewMetrics     = metrics.New
)

// Re-export configuration functions
var (
	LoadConfig     = config.LoadConfig
	DefaultConfig  = config.DefaultConfig
	ValidateConfig = config.ValidateConfig
)

// Re-export error helpers
var (
	IsRateLimited  = apierror.IsRateLimited
	IsUnauthorized = apierror.IsUnauthorized
	IsOverloaded   = apierror.IsOverloaded
	IsValidation   = apierror.IsValidation
)

// Extract runs a typed extraction of rawURL into T
func Extract[T any](ctx context.Context, c *Client, rawURL string, opts Options) (*ExtractResult[T], error) {
	return api.ExtractAs[T](ctx, c, rawURL, opts)
}

// ResultAs decodes a finished job's result into T
func ResultAs[T any](job *JobResult) (T, error) {
	return api.ResultAs[T](job)
}

// SchemaFor derives the JSON Schema the service receives for T
func SchemaFor[T any]() (*Schema, error) {
	return schema.For[T]()
}
