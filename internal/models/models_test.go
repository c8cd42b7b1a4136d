package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{JobStatus("QUEUED"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestJobResult_WithoutResultOrError(t *testing.T) {
	var job JobResult
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"abc","status":"RUNNING"}`), &job))

	assert.Equal(t, "abc", job.JobID)
	assert.Equal(t, StatusRunning, job.Status)
	assert.False(t, job.HasResult())
	assert.Empty(t, job.Error)
	assert.False(t, job.Immediate())

	var target []string
	assert.True(t, errors.Is(job.Decode(&target), ErrNoResult))
}

func TestJobResult_Decode(t *testing.T) {
	job := JobResult{
		JobID:  ImmediateJobID,
		Status: StatusCompleted,
		Result: json.RawMessage(`["# a","# b"]`),
	}

	var pages []string
	require.NoError(t, job.Decode(&pages))
	assert.Equal(t, []string{"# a", "# b"}, pages)
	assert.True(t, job.Immediate())
}

func TestRateLimit_ResetTime(t *testing.T) {
	rl := RateLimit{Reset: 1700000000}
	assert.True(t, rl.ResetTime().Equal(time.Unix(1700000000, 0)))
}

func TestOptions_Builders(t *testing.T) {
	var base Options
	opts := base.
		WithRenderJS(true).
		WithCallbackURL("https://hooks.example.com/done").
		WithActions(Action{"type": "click", "selector": "#more"}).
		With("waitFor", 500)

	assert.Nil(t, base, "builders must not mutate the receiver")
	assert.Equal(t, true, opts[OptionRenderJS])
	assert.Equal(t, "https://hooks.example.com/done", opts[OptionCallbackURL])
	assert.Equal(t, 500, opts["waitFor"])
	assert.Len(t, opts[OptionActions], 1)
}

func TestOptions_Payload(t *testing.T) {
	var nilOpts Options
	body, err := json.Marshal(nilOpts.Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))

	body, err = json.Marshal(Options{}.WithRenderJS(false).Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"renderJs":false}`, string(body))
}
