package store

import (
	"database/sql"
	"fmt"
)

const ddl = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS files (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    repo       TEXT NOT NULL DEFAULT '',
    path       TEXT NOT NULL,
    hash       TEXT NOT NULL,
    kind       TEXT NOT NULL DEFAULT '',
    indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    UNIQUE(repo, path)
);

CREATE TABLE IF NOT EXISTS chunks (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    uid        TEXT NOT NULL DEFAULT '',
    file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    chunk_type TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL DEFAULT '',
    name       TEXT NOT NULL DEFAULT '',
    namespace  TEXT NOT NULL DEFAULT '',
    content    TEXT NOT NULL,
    metadata   TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
CREATE INDEX IF NOT EXISTS idx_chunks_kind ON chunks(kind);
CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks(namespace);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// vecDDL is separate because the embedding dimension is configurable.
const vecDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);
`

// Init creates the schema tables if they don't exist.
func Init(db *sql.DB, dim int) error {
	if _, err := db.Exec(ddl); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf(vecDDL, dim))
	return err
}
