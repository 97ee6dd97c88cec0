package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebServer_FetchURL(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, webUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>aurora docs</body></html>"))
	}))
	defer backend.Close()

	server := NewWebServer()
	out, err := server.Call(context.Background(), "fetch_url",
		map[string]interface{}{"url": backend.URL})
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, float64(200), result["status"])
	assert.Contains(t, result["content"], "aurora docs")
	assert.Contains(t, result["content_type"], "text/html")
}

func TestWebServer_Errors(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer backend.Close()

	server := NewWebServer()

	_, err := server.Call(context.Background(), "fetch_url",
		map[string]interface{}{"url": backend.URL + "/missing"})
	assert.ErrorContains(t, err, "status 404")

	_, err = server.Call(context.Background(), "fetch_url",
		map[string]interface{}{"url": "ftp://example.com/file"})
	assert.ErrorContains(t, err, "unsupported url scheme")

	_, err = server.Call(context.Background(), "no_such_tool", nil)
	assert.ErrorContains(t, err, "unknown tool")
}
