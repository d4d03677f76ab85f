package store

import "time"

// FileRecord represents an indexed file.
type FileRecord struct {
	ID        int64
	Repo      string
	Path      string
	Hash      string
	Kind      string // chunking strategy used (markdown, go-code, ...)
	IndexedAt time.Time
	SizeBytes int64
}

// Chunk is a stored chunk row. Kind/Name/Namespace are promoted to columns
// so search can filter on them; the full flattened payload lives in
// Metadata as JSON.
type Chunk struct {
	ID        int64
	UID       string
	FileID    int64
	ChunkType string
	Kind      string
	Name      string
	Namespace string
	Content   string
	Metadata  string
}

// FileSummary is a lightweight file listing entry.
type FileSummary struct {
	Repo   string
	Path   string
	Kind   string
	Chunks int
}

// Filter narrows a vector search to chunks matching the set fields.
type Filter struct {
	Kind      string
	Namespace string
	ChunkType string
}

func (f Filter) empty() bool {
	return f.Kind == "" && f.Namespace == "" && f.ChunkType == ""
}

// SearchResult is a chunk with its distance and source file.
type SearchResult struct {
	Chunk    Chunk
	Repo     string
	FilePath string
	Distance float64
}
