package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"lodestone/internal/chunker"
	"lodestone/internal/embedder"
	"lodestone/internal/logging"
	"lodestone/internal/store"
	"lodestone/internal/walker"
)

const embedBatchSize = 32

// Stats reports indexing results.
type Stats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
	ChunksTotal  int
}

func (s *Stats) add(o *Stats) {
	s.FilesTotal += o.FilesTotal
	s.FilesIndexed += o.FilesIndexed
	s.FilesSkipped += o.FilesSkipped
	s.ChunksTotal += o.ChunksTotal
}

// fileWork is a file that needs to be (re-)indexed.
type fileWork struct {
	info walker.FileInfo
	hash string
	kind chunker.FileKind
	src  []byte
}

// chunkBatch is the chunks extracted from a single file.
type chunkBatch struct {
	work   fileWork
	chunks []chunker.Chunk
}

// embeddedBatch has chunks with their embeddings ready to store.
type embeddedBatch struct {
	work       fileWork
	chunks     []chunker.Chunk
	embeddings [][]float32
}

// runPipeline indexes one repository root: walk → hash/skip → chunk →
// embed → store. The CPU-bound stages fan out to numWorkers goroutines;
// embedding and storage each run single-threaded to keep request batching
// and write ordering simple.
func runPipeline(
	ctx context.Context,
	root string,
	s *store.SQLiteStore,
	chk *chunker.Chunker,
	emb *embedder.OllamaEmbedder,
	cfg Config,
) (*Stats, error) {
	numWorkers := cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	repo := filepath.Base(root)
	log := logging.Get()

	var stats Stats
	var filesTotal atomic.Int64

	// Stage 1: Walk
	fileCh, walkErrCh := walker.Walk(root, cfg.Includes)

	// Stage 2: Hash + skip unchanged (N workers)
	workCh := make(chan fileWork, numWorkers)
	var hashWg sync.WaitGroup
	for range numWorkers {
		hashWg.Add(1)
		go func() {
			defer hashWg.Done()
			for fi := range fileCh {
				filesTotal.Add(1)
				src, err := os.ReadFile(fi.Path)
				if err != nil {
					continue
				}
				h := sha256.Sum256(src)
				hash := hex.EncodeToString(h[:])

				existing, err := s.GetFileHash(repo, fi.RelPath)
				if err == nil && existing == hash {
					continue // unchanged
				}

				workCh <- fileWork{
					info: fi,
					hash: hash,
					kind: chunker.Classify(fi.RelPath),
					src:  src,
				}
			}
		}()
	}
	go func() {
		hashWg.Wait()
		close(workCh)
	}()

	// Stage 3: Chunk (N workers)
	chunkCh := make(chan chunkBatch, numWorkers)
	var chunkWg sync.WaitGroup
	for range numWorkers {
		chunkWg.Add(1)
		go func() {
			defer chunkWg.Done()
			for w := range workCh {
				chunks := chk.File(string(w.src), w.info.RelPath)
				if len(chunks) > 0 {
					chunkCh <- chunkBatch{work: w, chunks: chunks}
				}
			}
		}()
	}
	go func() {
		chunkWg.Wait()
		close(chunkCh)
	}()

	// Stage 4: Embed (1 worker, batches of embedBatchSize). After a failure
	// the loop keeps draining chunkCh without embedding: the upstream stages
	// block on full channels otherwise and the walker never finishes.
	embeddedCh := make(chan embeddedBatch, 4)
	var embedErr error
	var embedWg sync.WaitGroup
	embedWg.Add(1)
	go func() {
		defer embedWg.Done()
		defer close(embeddedCh)

		for batch := range chunkCh {
			if embedErr != nil {
				continue
			}

			texts := make([]string, len(batch.chunks))
			for i, c := range batch.chunks {
				texts[i] = embedText(repo, batch.work.info.RelPath, c)
			}

			allEmbeddings := make([][]float32, 0, len(texts))
			for i := 0; i < len(texts); i += embedBatchSize {
				end := min(i+embedBatchSize, len(texts))
				embs, err := emb.Embed(ctx, texts[i:end])
				if err != nil {
					log.Error().Err(err).Str("file", batch.work.info.RelPath).Msg("embed failed")
					embedErr = err
					break
				}
				allEmbeddings = append(allEmbeddings, embs...)
			}
			if embedErr != nil {
				continue
			}

			embeddedCh <- embeddedBatch{
				work:       batch.work,
				chunks:     batch.chunks,
				embeddings: allEmbeddings,
			}
		}
	}()

	// Stage 5: Store (1 worker)
	var storeErr error
	var storeWg sync.WaitGroup
	storeWg.Add(1)
	go func() {
		defer storeWg.Done()

		for eb := range embeddedCh {
			fileID, err := s.UpsertFile(store.FileRecord{
				Repo:      repo,
				Path:      eb.work.info.RelPath,
				Hash:      eb.work.hash,
				Kind:      string(eb.work.kind),
				SizeBytes: eb.work.info.Size,
			})
			if err != nil {
				log.Error().Err(err).Str("file", eb.work.info.RelPath).Msg("store upsert failed")
				storeErr = err
				continue
			}

			storeChunks := make([]store.Chunk, len(eb.chunks))
			for i, c := range eb.chunks {
				storeChunks[i] = toStoreChunk(repo, eb.work.info.RelPath, i, c)
			}

			chunkIDs, err := s.InsertChunks(fileID, storeChunks)
			if err != nil {
				log.Error().Err(err).Str("file", eb.work.info.RelPath).Msg("store chunks failed")
				storeErr = err
				continue
			}
			if err := s.InsertEmbeddings(chunkIDs, eb.embeddings); err != nil {
				log.Error().Err(err).Str("file", eb.work.info.RelPath).Msg("store embeddings failed")
				storeErr = err
				continue
			}

			stats.FilesIndexed++
			stats.ChunksTotal += len(eb.chunks)
		}
	}()

	storeWg.Wait()
	embedWg.Wait()

	if err := <-walkErrCh; err != nil {
		return nil, fmt.Errorf("walk error: %w", err)
	}

	stats.FilesTotal = int(filesTotal.Load())
	stats.FilesSkipped = stats.FilesTotal - stats.FilesIndexed

	log.Info().Str("repo", repo).
		Int("files", stats.FilesTotal).Int("indexed", stats.FilesIndexed).
		Int("chunks", stats.ChunksTotal).Msg("pipeline finished")

	if embedErr != nil {
		return &stats, fmt.Errorf("embedding failed: %w", embedErr)
	}
	if storeErr != nil {
		return &stats, fmt.Errorf("storage failed: %w", storeErr)
	}
	return &stats, nil
}

// embedText prefixes the chunk with its source coordinates so retrieval
// matches on repo/file/kind terms as well as the content.
func embedText(repo, path string, c chunker.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "repo: %s | file: %s", repo, path)
	p := c.Payload()
	for _, key := range []string{"kind", "name", "namespace", "section", "heading", "symbol"} {
		if v := p[key]; v != "" {
			fmt.Fprintf(&b, " | %s: %s", key, v)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(c.Text)
	return b.String()
}

// toStoreChunk flattens a chunk for persistence. The UID is deterministic
// per repo/path/position so re-indexing a file produces stable identifiers.
func toStoreChunk(repo, path string, i int, c chunker.Chunk) store.Chunk {
	payload := c.Payload()
	metaJSON, err := json.Marshal(payload)
	if err != nil {
		metaJSON = []byte("{}")
	}
	return store.Chunk{
		UID:       uuid.NewMD5(uuid.NameSpaceOID, fmt.Appendf(nil, "%s:%s:%d", repo, path, i)).String(),
		ChunkType: payload["chunk_type"],
		Kind:      payload["kind"],
		Name:      payload["name"],
		Namespace: payload["namespace"],
		Content:   embedText(repo, path, c),
		Metadata:  string(metaJSON),
	}
}
