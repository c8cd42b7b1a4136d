// Package normalize collapses the response shapes emitted by the skrape API
// into a single job-shaped body so every endpoint parses the same way
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/Almahr1/skrape/internal/models"
)

// Kind tags which response shape was recognized
type Kind int

const (
	// KindPassthrough bodies already match their target type
	KindPassthrough Kind = iota
	// KindJob bodies carried {result: {jobId, ...}}
	KindJob
	// KindImmediate bodies carried {result: {...}} without a jobId
	KindImmediate
)

func (k Kind) String() string {
	switch k {
	case KindJob:
		return "job"
	case KindImmediate:
		return "immediate"
	default:
		return "passthrough"
	}
}

// Normalized is the outcome of Normalize. Body is JobResult-shaped JSON for
// KindJob and KindImmediate, and the untouched response for KindPassthrough.
type Normalized struct {
	Kind  Kind
	Body  json.RawMessage
	Usage json.RawMessage
}

const maxErrorBodyExcerpt = 512

var (
	defaultStatus    = json.RawMessage(`"PENDING"`)
	completedStatus  = json.RawMessage(`"COMPLETED"`)
	immediateJobJSON = json.RawMessage(strconv.Quote(models.ImmediateJobID))
)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Usage  json.RawMessage `json:"usage"`
}

type jobFields struct {
	JobID  json.RawMessage `json:"jobId"`
	Status json.RawMessage `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type jobShape struct {
	JobID  json.RawMessage `json:"jobId"`
	Status json.RawMessage `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Normalize maps a raw HTTP response to a Normalized body or an *apierror.APIError.
// Rules apply in order: rate limit, other error statuses, nested job object,
// nested inline object, passthrough.
func Normalize(statusCode int, header http.Header, body []byte) (*Normalized, error) {
	// 1. Rate limit short-circuits before the body is looked at
	if statusCode == http.StatusTooManyRequests {
		return nil, apierror.NewRateLimited(RetryAfter(header))
	}

	// 2. Remaining error statuses
	if statusCode < 200 || statusCode >= 300 {
		return nil, statusError(statusCode, body)
	}

	// 3. Body must be a JSON object
	trimmed := bytes.TrimSpace(body)
	if !isObject(trimmed) {
		return nil, &apierror.APIError{
			Code:       apierror.CodeMalformedResponse,
			StatusCode: statusCode,
			Message:    "api request failed: response body is not a JSON object",
		}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &apierror.APIError{
			Code:       apierror.CodeMalformedResponse,
			StatusCode: statusCode,
			Message:    "api request failed: malformed response body",
			Err:        err,
		}
	}

	usage := present(env.Usage)

	// 4. Nested result object: job or inline
	if isObject(bytes.TrimSpace(env.Result)) {
		var fields jobFields
		if err := json.Unmarshal(env.Result, &fields); err != nil {
			return nil, &apierror.APIError{
				Code:       apierror.CodeMalformedResponse,
				StatusCode: statusCode,
				Message:    "api request failed: malformed result object",
				Err:        err,
			}
		}

		if fields.JobID != nil {
			status := present(fields.Status)
			if status == nil {
				status = defaultStatus
			}
			shaped, err := json.Marshal(jobShape{
				JobID:  fields.JobID,
				Status: status,
				Result: present(fields.Result),
				Error:  present(fields.Error),
			})
			if err != nil {
				return nil, err
			}
			return &Normalized{Kind: KindJob, Body: shaped, Usage: usage}, nil
		}

		shaped, err := json.Marshal(jobShape{
			JobID:  immediateJobJSON,
			Status: completedStatus,
			Result: env.Result,
		})
		if err != nil {
			return nil, err
		}
		return &Normalized{Kind: KindImmediate, Body: shaped, Usage: usage}, nil
	}

	// 5. Already in target shape
	return &Normalized{Kind: KindPassthrough, Body: trimmed, Usage: usage}, nil
}

// RetryAfter reads the Retry-After header as whole seconds, falling back to
// apierror.DefaultRetryAfter when it is absent or not a non-negative integer
func RetryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return apierror.DefaultRetryAfter
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return apierror.DefaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func statusError(statusCode int, body []byte) *apierror.APIError {
	switch statusCode {
	case http.StatusUnauthorized:
		return &apierror.APIError{
			Code:       apierror.CodeUnauthorized,
			StatusCode: statusCode,
			Message:    "invalid or missing API key",
		}
	case http.StatusServiceUnavailable:
		return &apierror.APIError{
			Code:       apierror.CodeOverloaded,
			StatusCode: statusCode,
			Message:    "server too busy, please retry",
		}
	}

	msg := fmt.Sprintf("api request failed: %d %s", statusCode, http.StatusText(statusCode))
	if excerpt := excerpt(body); excerpt != "" {
		msg += ": " + excerpt
	}
	return &apierror.APIError{
		Code:       apierror.CodeRequestFailed,
		StatusCode: statusCode,
		Message:    msg,
	}
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyExcerpt {
		cut := maxErrorBodyExcerpt
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

func isObject(raw []byte) bool {
	return len(raw) > 0 && raw[0] == '{'
}

// present treats a missing key and an explicit null the same way
func present(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return raw
}
