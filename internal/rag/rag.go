// Package rag embeds queries and retrieves relevant chunks from the store.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lodestone/internal/embedder"
	"lodestone/internal/store"
)

// maxSnippet caps how much chunk text a formatted result shows.
const maxSnippet = 2000

// Options tunes retrieval.
type Options struct {
	TopK int
	// ScoreThreshold drops hits whose cosine similarity (1 - distance)
	// falls below it. Zero keeps everything.
	ScoreThreshold float64
	Filter         store.Filter
}

// Retrieve embeds the query and returns the top matching chunks.
func Retrieve(ctx context.Context, query string, st store.Store, emb *embedder.OllamaEmbedder, opts Options) ([]store.SearchResult, error) {
	k := opts.TopK
	if k <= 0 {
		k = 8
	}

	vec, err := emb.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := st.Search(vec, k, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if opts.ScoreThreshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if score(r) >= opts.ScoreThreshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return results, nil
}

// score converts cosine distance to similarity.
func score(r store.SearchResult) float64 {
	return 1 - r.Distance
}

// FormatResults renders hits as a markdown list: source path, metadata
// tags, similarity score, and a fenced snippet.
func FormatResults(results []store.SearchResult) string {
	if len(results) == 0 {
		return "No relevant documents found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant document(s):\n\n", len(results))
	for i, r := range results {
		source := r.FilePath
		if r.Repo != "" {
			source = r.Repo + "/" + source
		}

		meta := metaTags(r.Chunk.Metadata)
		metaStr := ""
		if len(meta) > 0 {
			metaStr = " (" + strings.Join(meta, ", ") + ")"
		}

		fmt.Fprintf(&b, "[%d] **%s**%s (score: %.3f)\n", i+1, source, metaStr, score(r))

		text := r.Chunk.Content
		if len(text) > maxSnippet {
			text = text[:maxSnippet]
		}
		fmt.Fprintf(&b, "```\n%s\n```\n\n", text)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// metaTags pulls the display-worthy fields out of the chunk metadata JSON,
// in a fixed order so output is deterministic.
func metaTags(metaJSON string) []string {
	var payload map[string]string
	if err := json.Unmarshal([]byte(metaJSON), &payload); err != nil {
		return nil
	}
	var tags []string
	for _, key := range []string{"kind", "name", "namespace", "section", "heading", "symbol", "symbol_type", "sub_chunk"} {
		if v := payload[key]; v != "" {
			tags = append(tags, key+": "+v)
		}
	}
	return tags
}
