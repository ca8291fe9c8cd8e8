// Package encoder adapts the external embedding model service to the
// core.Encoder contract.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
)

// Config locates the embedding service and names the model.
type Config struct {
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:  "http://localhost:11434",
		Model:     "all-MiniLM-L6-v2",
		Dimension: 512,
		Timeout:   30 * time.Second,
	}
}

func (c Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("encoder endpoint is required")
	}
	if c.Model == "" {
		return fmt.Errorf("encoder model name is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("encoder dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// HTTPEncoder calls the embedding service over its JSON API. Responses
// are normalized to unit length before they reach the index.
type HTTPEncoder struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

var _ core.Encoder = (*HTTPEncoder)(nil)

// NewHTTPEncoder creates an encoder client. No connection is made until
// the first request.
func NewHTTPEncoder(cfg Config, log zerolog.Logger) (*HTTPEncoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEncoder{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "encoder").Logger(),
	}, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Encode embeds a single text.
func (e *HTTPEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	url := e.cfg.Endpoint + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(out.Embedding) != e.cfg.Dimension {
		return nil, core.NewDimensionError(e.cfg.Dimension, len(out.Embedding))
	}
	return core.Normalize(out.Embedding), nil
}

// EncodeBatch embeds texts sequentially; the service has no native batch
// endpoint.
func (e *HTTPEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Encode(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension reports the model's output dimensionality.
func (e *HTTPEncoder) Dimension() int { return e.cfg.Dimension }
