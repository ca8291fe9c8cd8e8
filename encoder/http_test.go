package encoder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylora/retrieval/core"
)

func newTestService(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Model)

		// Deterministic direction derived from the text length.
		vec := make([]float32, dim)
		vec[len(req.Prompt)%dim] = 2.5
		json.NewEncoder(w).Encode(embedResponse{Embedding: vec})
	}))
}

func newTestEncoder(t *testing.T, endpoint string, dim int) *HTTPEncoder {
	t.Helper()
	enc, err := NewHTTPEncoder(Config{
		Endpoint:  endpoint,
		Model:     "test-model",
		Dimension: dim,
	}, zerolog.Nop())
	require.NoError(t, err)
	return enc
}

func TestEncodeNormalizes(t *testing.T) {
	svc := newTestService(t, 4)
	defer svc.Close()
	enc := newTestEncoder(t, svc.URL, 4)

	vec, err := enc.Encode(context.Background(), "red shoes")
	require.NoError(t, err)
	require.Len(t, vec, 4)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestEncodeBatch(t *testing.T) {
	svc := newTestService(t, 4)
	defer svc.Close()
	enc := newTestEncoder(t, svc.URL, 4)

	vecs, err := enc.EncodeBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 4)
	}
}

func TestEncodeDimensionMismatch(t *testing.T) {
	svc := newTestService(t, 8)
	defer svc.Close()
	enc := newTestEncoder(t, svc.URL, 4)

	_, err := enc.Encode(context.Background(), "anything")
	assert.True(t, core.IsDimensionError(err))
}

func TestEncodeServiceError(t *testing.T) {
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer svc.Close()
	enc := newTestEncoder(t, svc.URL, 4)

	_, err := enc.Encode(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestConfigValidation(t *testing.T) {
	_, err := NewHTTPEncoder(Config{Model: "m", Dimension: 4}, zerolog.Nop())
	assert.Error(t, err, "missing endpoint")

	_, err = NewHTTPEncoder(Config{Endpoint: "http://x", Dimension: 4}, zerolog.Nop())
	assert.Error(t, err, "missing model")

	_, err = NewHTTPEncoder(Config{Endpoint: "http://x", Model: "m"}, zerolog.Nop())
	assert.Error(t, err, "missing dimension")
}

func TestDimension(t *testing.T) {
	enc := newTestEncoder(t, "http://localhost:0", 16)
	assert.Equal(t, 16, enc.Dimension())
}
