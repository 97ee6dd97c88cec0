package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserflow/browserflow/pkg/config"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func newTestEmbedder(t *testing.T, url string, batchSize int) *OpenAIEmbedder {
	t.Helper()
	cfg := &config.EmbedderConfig{
		Provider:   "openai",
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "text-embedding-3-small",
		BatchSize:  batchSize,
		Timeout:    5,
		MaxRetries: 1,
	}
	e, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)
	return e
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		resp := map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 100)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIEmbedder_EmbedWhitespaceSkipsBackend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 100)
	vec, err := e.Embed(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Nil(t, vec)
	assert.False(t, called)
}

func TestOpenAIEmbedder_EmbedBatchChunks(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Input))

		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{"embedding": []float32{float32(i)}, "index": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 2)

	texts := []string{"a", "b", "c", "", "d", "e"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vecs, 6)
	assert.Nil(t, vecs[3], "blank entry keeps a nil slot")
	assert.NotNil(t, vecs[0])
	assert.NotNil(t, vecs[5])
	// 5 non-empty texts in chunks of 2.
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "bad key", "type": "auth", "code": "invalid_api_key"},
		})
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 100)
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestNewEmbedderFromConfig(t *testing.T) {
	cfg := &config.EmbedderConfig{Provider: "openai", APIKey: "k"}
	cfg.SetDefaults()
	cfg.APIKey = "k"

	e, err := NewEmbedderFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())

	cfg.Provider = "unknown"
	_, err = NewEmbedderFromConfig(cfg)
	assert.Error(t, err)
}
