package normalize

import (
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		header        http.Header
		body          string
		expectedCode  apierror.Code
		expectedInMsg string
		retryAfter    time.Duration
	}{
		{
			name:          "rate limited with Retry-After",
			statusCode:    429,
			header:        http.Header{"Retry-After": []string{"7"}},
			body:          `{"result":{"jobId":"ignored"}}`,
			expectedCode:  apierror.CodeRateLimited,
			expectedInMsg: "7",
			retryAfter:    7 * time.Second,
		},
		{
			name:          "rate limited without Retry-After",
			statusCode:    429,
			header:        http.Header{},
			body:          `not json at all`,
			expectedCode:  apierror.CodeRateLimited,
			expectedInMsg: "10",
			retryAfter:    10 * time.Second,
		},
		{
			name:          "rate limited with unparseable Retry-After",
			statusCode:    429,
			header:        http.Header{"Retry-After": []string{"Wed, 21 Oct 2015 07:28:00 GMT"}},
			expectedCode:  apierror.CodeRateLimited,
			expectedInMsg: "10",
			retryAfter:    10 * time.Second,
		},
		{
			name:          "unauthorized ignores body",
			statusCode:    401,
			body:          `{"error":"something else entirely"}`,
			expectedCode:  apierror.CodeUnauthorized,
			expectedInMsg: "invalid or missing API key",
		},
		{
			name:          "service unavailable",
			statusCode:    503,
			body:          `upstream overloaded`,
			expectedCode:  apierror.CodeOverloaded,
			expectedInMsg: "please retry",
		},
		{
			name:          "generic failure includes status and body",
			statusCode:    404,
			body:          `{"error":"job not found"}`,
			expectedCode:  apierror.CodeRequestFailed,
			expectedInMsg: "404 Not Found: {\"error\":\"job not found\"}",
		},
		{
			name:          "unfollowed redirect",
			statusCode:    302,
			expectedCode:  apierror.CodeRequestFailed,
			expectedInMsg: "302 Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}

			result, err := Normalize(tt.statusCode, header, []byte(tt.body))

			assert.Nil(t, result)
			require.Error(t, err)
			apiErr, ok := apierror.AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.expectedCode, apiErr.Code)
			assert.Equal(t, tt.statusCode, apiErr.StatusCode)
			assert.Contains(t, apiErr.Error(), tt.expectedInMsg)
			assert.Equal(t, tt.retryAfter, apiErr.RetryAfter)
		})
	}
}

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedKind  Kind
		expectedBody  string
		expectedUsage string
	}{
		{
			name:         "async job with all fields",
			body:         `{"result":{"jobId":"job-1","status":"RUNNING","result":null,"error":"boom"}}`,
			expectedKind: KindJob,
			expectedBody: `{"jobId":"job-1","status":"RUNNING","error":"boom"}`,
		},
		{
			name:         "async job defaults status to PENDING",
			body:         `{"result":{"jobId":"job-2"}}`,
			expectedKind: KindJob,
			expectedBody: `{"jobId":"job-2","status":"PENDING"}`,
		},
		{
			name:         "async job with null status",
			body:         `{"result":{"jobId":"job-3","status":null}}`,
			expectedKind: KindJob,
			expectedBody: `{"jobId":"job-3","status":"PENDING"}`,
		},
		{
			name:         "completed job keeps payload",
			body:         `{"result":{"jobId":"job-4","status":"COMPLETED","result":["# one","# two"]}}`,
			expectedKind: KindJob,
			expectedBody: `{"jobId":"job-4","status":"COMPLETED","result":["# one","# two"]}`,
		},
		{
			name:          "inline extraction is wrapped as immediate",
			body:          `{"result":{"title":"T","description":"D"},"usage":{"remaining":5,"rateLimit":{"remaining":1,"baseLimit":2,"burstLimit":3,"reset":4}}}`,
			expectedKind:  KindImmediate,
			expectedBody:  `{"jobId":"immediate","status":"COMPLETED","result":{"title":"T","description":"D"}}`,
			expectedUsage: `{"remaining":5,"rateLimit":{"remaining":1,"baseLimit":2,"burstLimit":3,"reset":4}}`,
		},
		{
			name:          "markdown body passes through",
			body:          `{"result":"# Example","usage":{"remaining":9,"rateLimit":{"remaining":1,"baseLimit":2,"burstLimit":3,"reset":4}}}`,
			expectedKind:  KindPassthrough,
			expectedBody:  `{"result":"# Example","usage":{"remaining":9,"rateLimit":{"remaining":1,"baseLimit":2,"burstLimit":3,"reset":4}}}`,
			expectedUsage: `{"remaining":9,"rateLimit":{"remaining":1,"baseLimit":2,"burstLimit":3,"reset":4}}`,
		},
		{
			name:         "job status body passes through",
			body:         `{"jobId":"abc","status":"RUNNING"}`,
			expectedKind: KindPassthrough,
			expectedBody: `{"jobId":"abc","status":"RUNNING"}`,
		},
		{
			name:         "array result passes through",
			body:         `{"result":[1,2,3]}`,
			expectedKind: KindPassthrough,
			expectedBody: `{"result":[1,2,3]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Normalize(200, http.Header{}, []byte(tt.body))

			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, tt.expectedKind, result.Kind)
			assert.JSONEq(t, tt.expectedBody, string(result.Body))
			if tt.expectedUsage == "" {
				assert.Nil(t, result.Usage)
			} else {
				assert.JSONEq(t, tt.expectedUsage, string(result.Usage))
			}
		})
	}
}

func TestNormalize_MalformedBody(t *testing.T) {
	bodies := []string{
		``,
		`<html>oops</html>`,
		`["not","an","object"]`,
		`{"result": {"jobId": "x"`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			_, err := Normalize(200, http.Header{}, []byte(body))

			require.Error(t, err)
			apiErr, ok := apierror.AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, apierror.CodeMalformedResponse, apiErr.Code)
		})
	}
}

func TestNormalize_LongErrorBodyIsTruncated(t *testing.T) {
	body := strings.Repeat("x", 2000)

	_, err := Normalize(500, http.Header{}, []byte(body))

	require.Error(t, err)
	assert.Less(t, len(err.Error()), 700)
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}

func TestNormalize_TruncationKeepsValidUTF8(t *testing.T) {
	// Odd prefix puts the byte limit in the middle of a two-byte rune
	body := "x" + strings.Repeat("é", 600)

	_, err := Normalize(500, http.Header{}, []byte(body))

	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.True(t, strings.HasSuffix(err.Error(), "é..."))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "job", KindJob.String())
	assert.Equal(t, "immediate", KindImmediate.String())
	assert.Equal(t, "passthrough", KindPassthrough.String())
}
