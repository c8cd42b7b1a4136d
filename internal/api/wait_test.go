package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/Almahr1/skrape/internal/config"
	"github.com/Almahr1/skrape/internal/models"
	"github.com/Almahr1/skrape/internal/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPoll = config.PollConfig{
	Interval:    time.Millisecond,
	MaxInterval: 5 * time.Millisecond,
	Multiplier:  2,
	Timeout:     2 * time.Second,
}

func TestWaitForJob_UntilCompleted(t *testing.T) {
	statuses := []string{"PENDING", "RUNNING", "COMPLETED"}
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		body := `{"jobId":"job-1","status":"` + statuses[n] + `"`
		if statuses[n] == "COMPLETED" {
			body += `,"result":[{"title":"A","description":"a"}]`
		}
		reply(w, http.StatusOK, body+"}")
	})

	job, err := c.WaitForJob(context.Background(), "job-1", fastPoll)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, int32(3), calls.Load())

	pages, err := ResultAs[[]pageInfo](job)
	require.NoError(t, err)
	assert.Equal(t, []pageInfo{{Title: "A", Description: "a"}}, pages)
}

func TestWaitForJob_FailedIsTerminal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, `{"jobId":"job-1","status":"FAILED","error":"boom"}`)
	})

	job, err := c.WaitForJob(context.Background(), "job-1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "boom", job.Error)
}

func TestWaitForJob_StopsOnFirstError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			reply(w, http.StatusOK, `{"jobId":"job-1","status":"RUNNING"}`)
			return
		}
		w.Header().Set("Retry-After", "3")
		reply(w, http.StatusTooManyRequests, "")
	})

	_, err := c.WaitForJob(context.Background(), "job-1", fastPoll)
	wait, limited := apierror.IsRateLimited(err)
	assert.True(t, limited)
	assert.Equal(t, 3*time.Second, wait)
	assert.Equal(t, int32(2), calls.Load(), "rate limits are surfaced, not retried")
}

func TestWaitForJob_Timeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, `{"jobId":"job-1","status":"RUNNING"}`)
	})

	pc := fastPoll
	pc.Timeout = 30 * time.Millisecond

	job, err := c.WaitForJob(context.Background(), "job-1", pc)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	if job != nil {
		assert.Equal(t, models.StatusRunning, job.Status)
	}
}

func TestWaitForJob_RejectsImmediate(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.WaitForJob(context.Background(), models.ImmediateJobID, fastPoll)
	assert.ErrorIs(t, err, apierror.ErrInvalidInput)
	assert.Zero(t, calls.Load())
}

func TestResultAs_NoResult(t *testing.T) {
	_, err := ResultAs[pageInfo](&models.JobResult{JobID: "x", Status: models.StatusRunning})
	assert.ErrorIs(t, err, models.ErrNoResult)
}
