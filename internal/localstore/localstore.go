// Package localstore caches per-file split metadata (chunk hashes, whole
// file hash) keyed by filename/size/mtime so a peer does not re-hash an
// unchanged shared file on every announce. Grounded on the teacher's
// internal/cache package: SQLite opened in WAL mode, schema created with a
// single CREATE TABLE IF NOT EXISTS block, simple sync.RWMutex guarding the
// handle.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no cached split record matches the key.
var ErrNotFound = errors.New("localstore: record not found")

// SplitRecord is the cached result of chunkstore.Split for one shared file.
type SplitRecord struct {
	Filename    string
	Size        int64
	ModTimeUnix int64
	FileHash    string
	ChunkHashes []string
}

// Store wraps a SQLite-backed cache of SplitRecords.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("localstore: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("localstore: open database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS split_records (
			filename TEXT NOT NULL,
			size INTEGER NOT NULL,
			mod_time_unix INTEGER NOT NULL,
			file_hash TEXT NOT NULL,
			chunk_hashes TEXT NOT NULL,
			PRIMARY KEY (filename, size, mod_time_unix)
		);
	`)
	return err
}

// Get looks up a cached split by filename/size/modtime. A cache hit requires
// all three to match exactly; any drift (file rewritten, touched) is a miss
// and the caller re-splits and re-hashes from scratch.
func (s *Store) Get(filename string, size, modTimeUnix int64) (*SplitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT file_hash, chunk_hashes FROM split_records
		WHERE filename = ? AND size = ? AND mod_time_unix = ?`,
		filename, size, modTimeUnix)

	var fileHash, chunkHashesJSON string
	if err := row.Scan(&fileHash, &chunkHashesJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("localstore: query: %w", err)
	}

	var chunkHashes []string
	if err := json.Unmarshal([]byte(chunkHashesJSON), &chunkHashes); err != nil {
		return nil, fmt.Errorf("localstore: decode chunk hashes: %w", err)
	}

	return &SplitRecord{
		Filename:    filename,
		Size:        size,
		ModTimeUnix: modTimeUnix,
		FileHash:    fileHash,
		ChunkHashes: chunkHashes,
	}, nil
}

// Put stores or replaces the split record for a file. Any stale rows for
// the same filename (different size/modtime) are removed, since only the
// current on-disk version of a shared file is ever worth caching.
func (s *Store) Put(rec SplitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkHashesJSON, err := json.Marshal(rec.ChunkHashes)
	if err != nil {
		return fmt.Errorf("localstore: encode chunk hashes: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("localstore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM split_records WHERE filename = ?`, rec.Filename); err != nil {
		return fmt.Errorf("localstore: evict stale records: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO split_records (filename, size, mod_time_unix, file_hash, chunk_hashes)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Filename, rec.Size, rec.ModTimeUnix, rec.FileHash, string(chunkHashesJSON),
	); err != nil {
		return fmt.Errorf("localstore: insert record: %w", err)
	}

	return tx.Commit()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
