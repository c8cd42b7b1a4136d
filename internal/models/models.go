// Package models holds the value types exchanged with the skrape API
package models

import (
	"encoding/json"
	"time"
)

// ImmediateJobID marks a result that completed inline without a server-side job
const ImmediateJobID = "immediate"

// JobStatus is the lifecycle state of a server-side job. The set is open: the
// service may report values not listed here.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether the job will not change state again
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RateLimit is the quota window reported by the service
type RateLimit struct {
	Remaining  int   `json:"remaining"`
	BaseLimit  int   `json:"baseLimit"`
	BurstLimit int   `json:"burstLimit"`
	Reset      int64 `json:"reset"`
}

// ResetTime converts the epoch-seconds reset field
func (r RateLimit) ResetTime() time.Time {
	return time.Unix(r.Reset, 0)
}

type UsageInfo struct {
	Remaining int       `json:"remaining"`
	RateLimit RateLimit `json:"rateLimit"`
}

// MarkdownResult is returned by the single-URL markdown endpoint
type MarkdownResult struct {
	Result string    `json:"result"`
	Usage  UsageInfo `json:"usage"`
}

// JobResult is the unified shape for both inline and queued work.
// Result is nil when the service sent none, Error is empty when absent.
type JobResult struct {
	JobID  string          `json:"jobId"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Immediate reports whether the result was synthesized for a synchronous call
func (j *JobResult) Immediate() bool {
	return j.JobID == ImmediateJobID
}

func (j *JobResult) HasResult() bool {
	return len(j.Result) > 0
}

// Decode unmarshals the job payload into v
func (j *JobResult) Decode(v any) error {
	if !j.HasResult() {
		return ErrNoResult
	}
	return json.Unmarshal(j.Result, v)
}

// ExtractResult is a typed extraction outcome. Usage is nil when the service
// did not report quota with the response.
type ExtractResult[T any] struct {
	JobID  string
	Status JobStatus
	Result T
	Usage  *UsageInfo
}
