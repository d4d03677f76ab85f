// Package index runs the chunk-embed-store pipeline over repository trees.
package index

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"lodestone/internal/chunker"
	"lodestone/internal/embedder"
	"lodestone/internal/logging"
	"lodestone/internal/redact"
	"lodestone/internal/store"
)

// Config holds the indexer configuration.
type Config struct {
	DBPath    string
	Ollama    embedder.Config
	Workers   int
	MaxTokens int
	Includes  []string
}

// Indexer is the public API for indexing repository checkouts.
type Indexer struct {
	store    *store.SQLiteStore
	embedder *embedder.OllamaEmbedder
	chunker  *chunker.Chunker
	config   Config
}

// New creates an Indexer with the given configuration.
func New(cfg Config) (*Indexer, error) {
	emb := embedder.NewOllama(cfg.Ollama)

	s, err := store.Open(cfg.DBPath, emb.Dim())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	chk := chunker.New(chunker.Options{
		MaxTokens:        cfg.MaxTokens,
		Redact:           redact.Redact,
		IsSecretManifest: redact.IsSecretManifest,
	})

	return &Indexer{
		store:    s,
		embedder: emb,
		chunker:  chk,
		config:   cfg,
	}, nil
}

// Store exposes the underlying store for retrieval.
func (idx *Indexer) Store() store.Store { return idx.store }

// Embedder exposes the underlying embedder for query embedding.
func (idx *Indexer) Embedder() *embedder.OllamaEmbedder { return idx.embedder }

// Index runs the pipeline over each root concurrently. Each root is indexed
// under its base directory name as the repo label. A change of embedding
// model forces a full re-index.
func (idx *Indexer) Index(ctx context.Context, roots []string) (*Stats, error) {
	lastModel, err := idx.store.GetMeta("embedding_model")
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	if lastModel != "" && lastModel != idx.config.Ollama.Model {
		logging.Get().Info().
			Str("from", lastModel).Str("to", idx.config.Ollama.Model).
			Msg("embedding model changed, re-indexing all files")
		if err := idx.store.DeleteAll(); err != nil {
			return nil, fmt.Errorf("delete all chunks: %w", err)
		}
	}

	var (
		mu    sync.Mutex
		total Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		g.Go(func() error {
			stats, err := runPipeline(gctx, root, idx.store, idx.chunker, idx.embedder, idx.config)
			if stats != nil {
				mu.Lock()
				total.add(stats)
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return &total, err
	}

	if err := idx.store.SetMeta("embedding_model", idx.config.Ollama.Model); err != nil {
		return &total, fmt.Errorf("set meta: %w", err)
	}
	return &total, nil
}

// Close releases resources.
func (idx *Indexer) Close() error {
	return idx.store.Close()
}
