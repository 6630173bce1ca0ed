//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// baseURL points the suite at a running API server. The server is expected
// to run with APP_ENV=test or INFERENCE_STUB=true so analyses complete
// without a live model endpoint.
func baseURL() string {
	if v := os.Getenv("E2E_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := httpClient.Post(baseURL()+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := httpClient.Get(baseURL() + path)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
}

func uploadResumes(t *testing.T, texts ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, text := range texts {
		part, err := w.CreateFormFile("files", "resume.txt")
		require.NoError(t, err, "file %d", i)
		_, err = part.Write([]byte(text))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL()+"/v1/resumes", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	return resp
}

func resetSession(t *testing.T) {
	t.Helper()
	resp := postJSON(t, "/v1/session/reset", map[string]any{})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// waitForAnalysis polls the status endpoint until the run reaches a
// terminal state or the deadline passes.
func waitForAnalysis(t *testing.T, id string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var status map[string]any
		resp := get(t, "/v1/analyses/"+id)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decode(t, resp, &status)
		switch status["status"] {
		case "completed", "failed":
			return status
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("analysis %s did not finish within %v", id, timeout)
	return nil
}
