// Package embedder turns chunk text into vectors via the Ollama embed API.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"lodestone/internal/logging"
)

const (
	// DefaultDim is the output dimension of nomic-embed-text.
	DefaultDim = 768

	// embedMaxTokens leaves headroom below the model's 8192-token context.
	embedMaxTokens = 8000
)

// Config configures an OllamaEmbedder.
type Config struct {
	BaseURL string
	Model   string
	Dim     int
	// RequestsPerSecond throttles embed calls; zero disables throttling.
	RequestsPerSecond float64
	Retry             RetryConfig
}

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
}

// NewOllama creates an embedder targeting the given Ollama instance.
func NewOllama(cfg Config) *OllamaEmbedder {
	if cfg.Dim <= 0 {
		cfg.Dim = DefaultDim
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &OllamaEmbedder{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		dim:     cfg.Dim,
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: limiter,
		retry:   cfg.Retry,
	}
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.model }

// Dim returns the embedding dimension.
func (e *OllamaEmbedder) Dim() int { return e.dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends a batch of texts to Ollama and returns their embeddings, same
// length and order as the input. Whitespace-only texts are replaced with a
// placeholder and every text is truncated to the embed token budget. If the
// batch call fails after retries, Embed falls back to one-at-a-time
// embedding, substituting a zero vector for any text that still fails.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	clean := make([]string, len(texts))
	for i, t := range texts {
		clean[i] = sanitize(t)
	}

	embeddings, err := retryWithBackoff(ctx, e.retry, func() ([][]float32, error) {
		return e.post(ctx, clean)
	})
	if err == nil {
		if len(embeddings) != len(clean) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(clean), len(embeddings))
		}
		return embeddings, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logging.Get().Warn().Err(err).Int("batch", len(clean)).
		Msg("batch embed failed, falling back to single-text mode")

	out := make([][]float32, len(clean))
	for i, text := range clean {
		emb, err := retryWithBackoff(ctx, e.retry, func() ([][]float32, error) {
			return e.post(ctx, []string{text})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Get().Error().Err(err).Int("index", i).Int("len", len(text)).
				Msg("embed failed, using zero vector")
			out[i] = make([]float32, e.dim)
			continue
		}
		if len(emb) != 1 {
			return nil, fmt.Errorf("expected 1 embedding, got %d", len(emb))
		}
		out[i] = emb[0]
	}
	return out, nil
}

// EmbedSingle embeds one text and returns its vector.
func (e *OllamaEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	results, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (e *OllamaEmbedder) post(ctx context.Context, input []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return result.Embeddings, nil
}

// sanitize keeps Ollama from rejecting empty or oversized inputs.
func sanitize(text string) string {
	if isBlank(text) {
		return "<empty>"
	}
	cut := embedMaxTokens * 4
	if len(text) > cut {
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut-- // don't split a UTF-8 sequence
		}
		return text[:cut]
	}
	return text
}

func isBlank(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
