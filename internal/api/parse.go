package api

import (
	"context"
	"sync"

	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/Almahr1/skrape/internal/config"
	"github.com/Almahr1/skrape/internal/models"
	"github.com/Almahr1/skrape/internal/normalize"
	"github.com/Almahr1/skrape/internal/poll"
	"github.com/Almahr1/skrape/internal/schema"
	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
)

// jobSchema pins the fields every job body must carry. result may hold any
// JSON value, and unknown fields are tolerated.
var jobSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"jobId", "status"},
	Properties: map[string]*jsonschema.Schema{
		"jobId":  {Type: "string"},
		"status": {Type: "string"},
		"error":  {Type: "string"},
	},
}

var markdownSchema = sync.OnceValues(schema.For[models.MarkdownResult])

// ExtractAs extracts data shaped like T from rawURL. The schema sent to the
// service is derived from T, and the returned Result holds only T's fields.
// If the service queued the work instead of answering inline, Result is the
// zero value and the caller polls JobID. A failed job yields a nil result
// and a request_failed *apierror.APIError carrying the service's message.
func ExtractAs[T any](ctx context.Context, c *Client, rawURL string, opts models.Options) (*models.ExtractResult[T], error) {
	s, err := schema.For[T]()
	if err != nil {
		return nil, err
	}

	job, usage, err := c.extract(ctx, rawURL, s, opts)
	if err != nil {
		return nil, err
	}

	out := &models.ExtractResult[T]{
		JobID:  job.JobID,
		Status: job.Status,
		Usage:  usage,
	}

	if job.Status == models.StatusFailed || job.Error != "" {
		msg := "extraction failed"
		if job.Error != "" {
			msg += ": " + job.Error
		}
		return nil, &apierror.APIError{Code: apierror.CodeRequestFailed, Message: msg}
	}
	if !job.HasResult() && !job.Status.IsTerminal() {
		return out, nil
	}

	value, err := schema.Decode[T](job.Result, s)
	if err != nil {
		return nil, err
	}
	out.Result = value
	return out, nil
}

// ResultAs decodes a finished job's result into T with the same checks
// ExtractAs applies
func ResultAs[T any](job *models.JobResult) (T, error) {
	var zero T
	if job == nil || !job.HasResult() {
		return zero, models.ErrNoResult
	}

	s, err := schema.For[T]()
	if err != nil {
		return zero, err
	}
	return schema.Decode[T](job.Result, s)
}

// WaitForJob polls GetJob until the job reaches COMPLETED or FAILED, ctx ends
// or pc.Timeout passes. A zero pc uses the client's configured cadence. The
// first error from GetJob is returned as is; nothing is retried. A FAILED job
// is returned without error so the caller can read job.Error.
func (c *Client) WaitForJob(ctx context.Context, jobID string, pc config.PollConfig) (*models.JobResult, error) {
	if jobID == models.ImmediateJobID {
		return nil, apierror.Invalid("immediate results are not queued and cannot be polled")
	}
	if pc.Interval <= 0 {
		pc = c.cfg.Poll
	}

	checks := 0
	return poll.Until(ctx, func(ctx context.Context) (*models.JobResult, error) {
		checks++
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("job status",
			zap.String("job_id", job.JobID),
			zap.String("status", string(job.Status)),
			zap.Int("check", checks),
		)
		return job, nil
	}, func(job *models.JobResult) bool {
		return job.Status.IsTerminal()
	}, poll.FromConfig(pc), pc.Timeout)
}

func (c *Client) parseJob(n *normalize.Normalized) (*models.JobResult, error) {
	job, err := schema.Decode[models.JobResult](n.Body, jobSchema)
	if err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, &apierror.ValidationError{Field: "jobId", Message: "must not be empty"}
	}
	return &job, nil
}

func (c *Client) parseMarkdown(n *normalize.Normalized) (*models.MarkdownResult, error) {
	if n.Kind != normalize.KindPassthrough {
		return nil, &apierror.ValidationError{Field: "result", Message: "expected markdown string, got " + n.Kind.String() + " object"}
	}

	s, err := markdownSchema()
	if err != nil {
		return nil, err
	}
	res, err := schema.Decode[models.MarkdownResult](n.Body, s)
	if err != nil {
		return nil, err
	}
	if err := c.checkUsage(&res.Usage); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) parseUsage(raw []byte) (*models.UsageInfo, error) {
	if raw == nil {
		return nil, nil
	}

	var usage models.UsageInfo
	if err := schema.Unmarshal(raw, &usage); err != nil {
		return nil, err
	}
	if err := c.checkUsage(&usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// checkUsage enforces the non-negative quota invariant and exports the snapshot
func (c *Client) checkUsage(usage *models.UsageInfo) error {
	if usage.Remaining < 0 {
		return &apierror.ValidationError{Field: "usage.remaining", Message: "must be non-negative"}
	}
	c.metrics.ObserveUsage(usage.Remaining, usage.RateLimit.Remaining, usage.RateLimit.Reset)
	return nil
}
