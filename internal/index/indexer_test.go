package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodestone/internal/chunker"
	"lodestone/internal/embedder"
	"lodestone/internal/store"
)

// fakeOllama answers /api/embed with fixed-dimension vectors and counts
// how many texts it embedded.
func fakeOllama(t *testing.T, dim int, embedded *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if embedded != nil {
			embedded.Add(int64(len(req.Input)))
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			vec := make([]float32, dim)
			vec[0] = 1
			out[i] = vec
		}
		json.NewEncoder(w).Encode(map[string][][]float32{"embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newTestIndexer(t *testing.T, srvURL string) *Indexer {
	t.Helper()
	idx, err := New(Config{
		DBPath:  filepath.Join(t.TempDir(), "index.db"),
		Ollama:  embedder.Config{BaseURL: srvURL, Model: "test-model", Dim: 4},
		Workers: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexEndToEnd(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	root := writeRepo(t, map[string]string{
		"README.md":            "# Platform\n\nDocs for the platform.\n",
		"apps/plex/deploy.yaml": "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: plex\n  namespace: media\n",
	})

	idx := newTestIndexer(t, srv.URL)
	stats, err := idx.Index(context.Background(), []string{root})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesTotal)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesSkipped)
	assert.GreaterOrEqual(t, stats.ChunksTotal, 2)

	files, err := idx.Store().ListFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)

	results, err := idx.Store().Search([]float32{1, 0, 0, 0}, 5, store.Filter{Kind: "Deployment"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "media", results[0].Chunk.Namespace)

	model, err := idx.Store().GetMeta("embedding_model")
	require.NoError(t, err)
	assert.Equal(t, "test-model", model)
}

func TestIndexSkipsUnchangedFiles(t *testing.T) {
	var embedded atomic.Int64
	srv := fakeOllama(t, 4, &embedded)
	root := writeRepo(t, map[string]string{"README.md": "# Docs\n\ncontent\n"})

	idx := newTestIndexer(t, srv.URL)

	stats, err := idx.Index(context.Background(), []string{root})
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesIndexed)
	first := embedded.Load()

	stats, err = idx.Index(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, first, embedded.Load())
}

func TestIndexReindexesChangedFile(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	root := writeRepo(t, map[string]string{"README.md": "# Docs\n\nv1\n"})

	idx := newTestIndexer(t, srv.URL)
	_, err := idx.Index(context.Background(), []string{root})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# Docs\n\nv2\n"), 0o644))

	stats, err := idx.Index(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestIndexModelChangeForcesFullReindex(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	root := writeRepo(t, map[string]string{"README.md": "# Docs\n\ncontent\n"})

	idx := newTestIndexer(t, srv.URL)
	_, err := idx.Index(context.Background(), []string{root})
	require.NoError(t, err)
	require.NoError(t, idx.Store().SetMeta("embedding_model", "old-model"))

	stats, err := idx.Index(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestIndexMultipleRoots(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	rootA := writeRepo(t, map[string]string{"a.md": "# A\n\ncontent a\n"})
	rootB := writeRepo(t, map[string]string{"b.md": "# B\n\ncontent b\n"})

	idx := newTestIndexer(t, srv.URL)
	stats, err := idx.Index(context.Background(), []string{rootA, rootB})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)

	files, err := idx.Store().ListFiles()
	require.NoError(t, err)
	repos := map[string]bool{}
	for _, f := range files {
		repos[f.Repo] = true
	}
	assert.Len(t, repos, 2)
}

func TestIndexReturnsOnEmbedError(t *testing.T) {
	// An Ollama that always returns the wrong number of embeddings makes the
	// embed stage fail on the first file. With more files than the stage
	// channels buffer, Index must still drain the pipeline and return the
	// error instead of wedging the walker and hash workers.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][][]float32{
			"embeddings": {{1, 0, 0, 0}, {0, 1, 0, 0}},
		})
	}))
	t.Cleanup(srv.Close)

	files := make(map[string]string, 150)
	for i := 0; i < 150; i++ {
		files[fmt.Sprintf("doc-%03d.md", i)] = fmt.Sprintf("# Doc %d\n\ncontent %d\n", i, i)
	}
	root := writeRepo(t, files)

	idx, err := New(Config{
		DBPath:  filepath.Join(t.TempDir(), "index.db"),
		Ollama:  embedder.Config{BaseURL: srv.URL, Model: "test-model", Dim: 4},
		Workers: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	done := make(chan error, 1)
	go func() {
		_, err := idx.Index(context.Background(), []string{root})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding")
	case <-time.After(30 * time.Second):
		t.Fatal("Index did not return after embed stage error")
	}
}

func TestEmbedTextPrefix(t *testing.T) {
	ch := chunker.Chunk{
		Text: "spec: {}",
		Kind: chunker.KindK8sYAML,
		Meta: chunker.ManifestMeta{Kind: "Deployment", Name: "plex", Namespace: "media"},
	}
	got := embedText("infra", "apps/plex/deploy.yaml", ch)
	assert.Contains(t, got, "repo: infra | file: apps/plex/deploy.yaml")
	assert.Contains(t, got, "kind: Deployment")
	assert.Contains(t, got, "namespace: media")
	assert.Contains(t, got, "\n\nspec: {}")
}

func TestStableChunkUIDs(t *testing.T) {
	ch := chunker.Chunk{Text: "x", Kind: chunker.KindGeneric}
	a := toStoreChunk("infra", "a.txt", 0, ch)
	b := toStoreChunk("infra", "a.txt", 0, ch)
	c := toStoreChunk("infra", "a.txt", 1, ch)
	assert.Equal(t, a.UID, b.UID)
	assert.NotEqual(t, a.UID, c.UID)
}
