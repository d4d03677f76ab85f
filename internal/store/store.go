// Package store persists indexed files, chunks, and embeddings in SQLite
// with sqlite-vec for similarity search.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store provides persistence for indexed files, chunks, and embeddings.
type Store interface {
	// GetFileHash returns the stored hash for a repo/path, or "" if not indexed.
	GetFileHash(repo, path string) (string, error)
	// UpsertFile inserts or updates a file record and returns its ID.
	// It also deletes any existing chunks and embeddings for the file.
	UpsertFile(f FileRecord) (int64, error)
	// InsertChunks inserts chunks for a file and returns their IDs.
	InsertChunks(fileID int64, chunks []Chunk) ([]int64, error)
	// InsertEmbeddings stores embeddings keyed by chunk ID.
	InsertEmbeddings(chunkIDs []int64, embeddings [][]float32) error
	// Search finds the top-k chunks closest to the query embedding,
	// optionally filtered by kind/namespace/chunk_type.
	Search(queryEmbedding []float32, k int, filter Filter) ([]SearchResult, error)
	// ListFiles returns every indexed file with its chunk count.
	ListFiles() ([]FileSummary, error)
	// GetMeta returns a metadata value by key, or "" if not set.
	GetMeta(key string) (string, error)
	// SetMeta sets a metadata key-value pair.
	SetMeta(key, value string) error
	// DeleteAll removes all files, chunks, and embeddings.
	DeleteAll() error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path, initializing
// the schema with the given embedding dimension.
func Open(dbPath string, dim int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db, dim); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetFileHash(repo, path string) (string, error) {
	var hash string
	err := s.db.QueryRow("SELECT hash FROM files WHERE repo = ? AND path = ?", repo, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (s *SQLiteStore) UpsertFile(f FileRecord) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.QueryRow("SELECT id FROM files WHERE repo = ? AND path = ?", f.Repo, f.Path).Scan(&existingID)
	if err == nil {
		if err := deleteFileChunks(tx, existingID); err != nil {
			return 0, err
		}
		_, err = tx.Exec(
			"UPDATE files SET hash = ?, kind = ?, indexed_at = CURRENT_TIMESTAMP, size_bytes = ? WHERE id = ?",
			f.Hash, f.Kind, f.SizeBytes, existingID,
		)
		if err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := tx.Exec(
		"INSERT INTO files (repo, path, hash, kind, size_bytes) VALUES (?, ?, ?, ?, ?)",
		f.Repo, f.Path, f.Hash, f.Kind, f.SizeBytes,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// deleteFileChunks removes a file's chunks and their vectors inside tx.
func deleteFileChunks(tx *sql.Tx, fileID int64) error {
	rows, err := tx.Query("SELECT id FROM chunks WHERE file_id = ?", fileID)
	if err != nil {
		return err
	}
	var chunkIDs []int64
	for rows.Next() {
		var cid int64
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, cid)
	}
	rows.Close()

	for _, cid := range chunkIDs {
		if _, err := tx.Exec("DELETE FROM vec_chunks WHERE chunk_id = ?", cid); err != nil {
			return err
		}
	}
	_, err = tx.Exec("DELETE FROM chunks WHERE file_id = ?", fileID)
	return err
}

func (s *SQLiteStore) InsertChunks(fileID int64, chunks []Chunk) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT INTO chunks (uid, file_id, chunk_type, kind, name, namespace, content, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		meta := c.Metadata
		if meta == "" {
			meta = "{}"
		}
		res, err := stmt.Exec(c.UID, fileID, c.ChunkType, c.Kind, c.Name, c.Namespace, c.Content, meta)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) InsertEmbeddings(chunkIDs []int64, embeddings [][]float32) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("mismatched chunk IDs (%d) and embeddings (%d)", len(chunkIDs), len(embeddings))
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, cid := range chunkIDs {
		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %d: %w", cid, err)
		}
		if _, err := stmt.Exec(cid, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %d: %w", cid, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Search(queryEmbedding []float32, k int, filter Filter) ([]SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	// The KNN scan runs in a subquery; metadata filters apply after the
	// join, so oversample when a filter is set.
	knnLimit := k
	if !filter.empty() {
		knnLimit = k * 8
	}

	query := `
		SELECT v.chunk_id, v.distance,
		       c.uid, c.chunk_type, c.kind, c.name, c.namespace, c.content, c.metadata,
		       f.repo, f.path
		FROM (
			SELECT chunk_id, distance FROM vec_chunks
			WHERE embedding MATCH ?
			ORDER BY distance
			LIMIT ?
		) v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN files f ON f.id = c.file_id
	`
	args := []any{blob, knnLimit}

	var conds []string
	if filter.Kind != "" {
		conds = append(conds, "c.kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Namespace != "" {
		conds = append(conds, "c.namespace = ?")
		args = append(args, filter.Namespace)
	}
	if filter.ChunkType != "" {
		conds = append(conds, "c.chunk_type = ?")
		args = append(args, filter.ChunkType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY v.distance LIMIT ?"
	args = append(args, k)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(
			&r.Chunk.ID, &r.Distance,
			&r.Chunk.UID, &r.Chunk.ChunkType, &r.Chunk.Kind, &r.Chunk.Name,
			&r.Chunk.Namespace, &r.Chunk.Content, &r.Chunk.Metadata,
			&r.Repo, &r.FilePath,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ListFiles() ([]FileSummary, error) {
	rows, err := s.db.Query(`
		SELECT f.repo, f.path, f.kind, COUNT(c.id)
		FROM files f
		LEFT JOIN chunks c ON c.file_id = f.id
		GROUP BY f.id
		ORDER BY f.repo, f.path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileSummary
	for rows.Next() {
		var fs FileSummary
		if err := rows.Scan(&fs.Repo, &fs.Path, &fs.Kind, &fs.Chunks); err != nil {
			return nil, err
		}
		files = append(files, fs)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *SQLiteStore) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM vec_chunks"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM files"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
