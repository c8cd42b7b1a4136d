package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Almahr1/skrape/pkg/skrape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func fakeAPI(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	t.Setenv("SKRAPE_API_KEY", "sk-cli")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server.URL + "/api"
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "skrape dev\n", out)
}

func TestJobCmd(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/get-job", r.URL.Path)
		assert.Equal(t, "Bearer sk-cli", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"jobId":"`+r.URL.Query().Get("jobId")+`","status":"RUNNING"}`)
	})

	out, err := run(t, "job", "job-9", "--base-url", baseURL, "--log-level", "error")
	require.NoError(t, err)

	var job skrape.JobResult
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "job-9", job.JobID)
	assert.Equal(t, skrape.StatusRunning, job.Status)
}

func TestCrawlCmd_SendsOptions(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"https://example.com"}, body["urls"])
		assert.Equal(t, map[string]any{
			"renderJs":    true,
			"callbackUrl": "https://hooks.example.com",
			"maxPages":    float64(5),
			"label":       "docs",
		}, body["options"])
		_, _ = io.WriteString(w, `{"result":{"jobId":"c1","status":"PENDING"}}`)
	})

	out, err := run(t, "crawl",
		"--base-url", baseURL,
		"--url", "https://example.com",
		"--callback-url", "https://hooks.example.com",
		"--render-js",
		"--option", "maxPages=5",
		"--option", "label=docs",
	)
	require.NoError(t, err)
	assert.Contains(t, out, `"jobId": "c1"`)
}

func TestExtractCmd_ReadsSchemaFile(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s := body["schema"].(map[string]any)
		assert.Equal(t, "object", s["type"])
		_, _ = io.WriteString(w, `{"result":{"price":9.5}}`)
	})

	schemaPath := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type":"object","properties":{"price":{"type":"number"}}}`), 0o644))

	out, err := run(t, "extract", "--base-url", baseURL, "--url", "https://shop.example.com/item", "--schema-file", schemaPath)
	require.NoError(t, err)

	var job skrape.JobResult
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.True(t, job.Immediate())
	assert.JSONEq(t, `{"price":9.5}`, string(job.Result))
}

func TestMarkdownCmd_Raw(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":"# Title","usage":{"remaining":1,"rateLimit":{"remaining":1,"baseLimit":1,"burstLimit":1,"reset":0}}}`)
	})

	out, err := run(t, "markdown", "--base-url", baseURL, "--url", "https://example.com", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", out)
}

func TestCmd_SurfacesAPIErrors(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := run(t, "job", "x", "--base-url", baseURL)
	require.Error(t, err)
	assert.True(t, skrape.IsUnauthorized(err))
}

func TestCmd_RequiresAPIKey(t *testing.T) {
	t.Setenv("SKRAPE_API_KEY", "")

	_, err := run(t, "job", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.key is required")
}

func TestRequestOptions_RejectsMalformedPair(t *testing.T) {
	cmd := newCrawlCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--option", "novalue"}))

	_, err := requestOptions(cmd)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "expected key=value"))
}

func TestOptionValue(t *testing.T) {
	assert.Equal(t, true, optionValue("true"))
	assert.Equal(t, float64(3), optionValue("3"))
	assert.Equal(t, map[string]any{"a": float64(1)}, optionValue(`{"a":1}`))
	assert.Equal(t, "plain text", optionValue("plain text"))
}

func TestJobCmd_YAMLOutput(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jobId":"j1","status":"COMPLETED","result":{"pages":2}}`)
	})

	out, err := run(t, "job", "j1", "--base-url", baseURL, "-o", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "jobId: j1\n")
	assert.Contains(t, out, "status: COMPLETED\n")
	assert.Contains(t, out, "pages: 2\n")
}

func TestCmd_RejectsUnknownOutput(t *testing.T) {
	baseURL := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jobId":"j1","status":"RUNNING"}`)
	})

	_, err := run(t, "job", "j1", "--base-url", baseURL, "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestCmd_LoadsEnvFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-dotenv", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"jobId":"j1","status":"RUNNING"}`)
	}))
	defer server.Close()

	t.Setenv("SKRAPE_API_KEY", "")
	require.NoError(t, os.Unsetenv("SKRAPE_API_KEY"))

	envFile := filepath.Join(t.TempDir(), "skrape.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SKRAPE_API_KEY=sk-dotenv\n"), 0o600))

	_, err := run(t, "job", "j1", "--base-url", server.URL, "--env-file", envFile)
	require.NoError(t, err)
}

func TestLoadEnvFile_MissingIsIgnored(t *testing.T) {
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, loadEnvFile(""))
}
