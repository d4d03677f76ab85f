package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch(t *testing.T) {
	var gotReq embedRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		out := embedResponse{Embeddings: make([][]float32, len(gotReq.Input))}
		for i := range out.Embeddings {
			out.Embeddings[i] = []float32{float32(i), 1}
		}
		json.NewEncoder(w).Encode(out)
	})

	e := NewOllama(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dim: 2, Retry: fastRetry()})
	vecs, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 1}, vecs[1])
	assert.Equal(t, "nomic-embed-text", gotReq.Model)
	assert.Equal(t, []string{"alpha", "beta"}, gotReq.Input)
}

func TestEmbedSanitizesBlankInput(t *testing.T) {
	var gotInput []string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotInput = req.Input
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0}, {0}}})
	})

	e := NewOllama(Config{BaseURL: srv.URL, Model: "m", Dim: 1, Retry: fastRetry()})
	_, err := e.Embed(context.Background(), []string{"  \n\t", "real"})
	require.NoError(t, err)
	assert.Equal(t, []string{"<empty>", "real"}, gotInput)
}

func TestEmbedTruncatesOversizedInput(t *testing.T) {
	var gotLen int
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotLen = len(req.Input[0])
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0}}})
	})

	e := NewOllama(Config{BaseURL: srv.URL, Model: "m", Dim: 1, Retry: fastRetry()})
	_, err := e.Embed(context.Background(), []string{strings.Repeat("x", embedMaxTokens*4+100)})
	require.NoError(t, err)
	assert.Equal(t, embedMaxTokens*4, gotLen)
}

func TestEmbedFallsBackToSingleTexts(t *testing.T) {
	// The batch request fails; per-text requests succeed except for "bad",
	// which gets a zero vector.
	var calls atomic.Int64
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)

		if len(req.Input) > 1 || req.Input[0] == "bad" {
			http.Error(w, "model overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{7, 7}}})
	})

	e := NewOllama(Config{BaseURL: srv.URL, Model: "m", Dim: 2, Retry: fastRetry()})
	vecs, err := e.Embed(context.Background(), []string{"good", "bad"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{7, 7}, vecs[0])
	assert.Equal(t, []float32{0, 0}, vecs[1])
	assert.Greater(t, calls.Load(), int64(2))
}

func TestEmbedEmptyInput(t *testing.T) {
	e := NewOllama(Config{BaseURL: "http://unused", Model: "m"})
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedContextCancelled(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewOllama(Config{BaseURL: srv.URL, Model: "m", Retry: fastRetry()})
	_, err := e.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanitizeKeepsUTF8Boundary(t *testing.T) {
	text := strings.Repeat("é", embedMaxTokens*2+10) // 2 bytes per rune
	got := sanitize(text)
	assert.LessOrEqual(t, len(got), embedMaxTokens*4)
	for _, r := range got {
		assert.NotEqual(t, '�', r)
	}
}

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	result, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, assert.AnError
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 2, attempts)
}
