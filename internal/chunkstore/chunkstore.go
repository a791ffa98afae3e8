// Package chunkstore splits files into fixed-size, content-addressed
// chunks and reassembles them, the way a shared file is advertised and
// later rebuilt from pieces pulled off multiple peers.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkSize is the fixed chunk size used to split every advertised file.
// Changing it invalidates every previously advertised hash.
const ChunkSize = 1 << 20 // 1 MiB

// MissingChunkError reports that reassembly could not find an expected
// chunk file on disk.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunkstore: missing chunk %d", e.Index)
}

// ChunksDir returns the sibling directory a shared file's chunks live in:
// "<path>_chunks".
func ChunksDir(path string) string {
	return path + "_chunks"
}

// ChunkPath returns the path of chunk i within a chunks directory, as
// produced by Split and consumed by Reassemble and the peer service
// endpoint's request_chunk handler.
func ChunkPath(dir string, i int) string {
	return chunkPath(dir, i)
}

func chunkPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d", i))
}

// Split reads path in ChunkSize increments, writes each chunk to
// ChunksDir(path)/chunk_<i>, and returns the file's whole-content SHA-256
// alongside the per-chunk SHA-256 list. An empty file yields a nil chunk
// slice and the hash of zero bytes.
func Split(path string) (fileHash string, chunkHashes []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("chunkstore: open %s: %w", path, err)
	}
	defer f.Close()

	dir := ChunksDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("chunkstore: mkdir %s: %w", dir, err)
	}

	whole := sha256.New()
	buf := make([]byte, ChunkSize)
	var hashes []string

	for i := 0; ; i++ {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			chunk := buf[:n]
			whole.Write(chunk)

			h := sha256.Sum256(chunk)
			hashes = append(hashes, hex.EncodeToString(h[:]))

			if writeErr := os.WriteFile(chunkPath(dir, i), chunk, 0o644); writeErr != nil {
				return "", nil, fmt.Errorf("chunkstore: write chunk %d: %w", i, writeErr)
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", nil, fmt.Errorf("chunkstore: read %s: %w", path, readErr)
		}
	}

	return hex.EncodeToString(whole.Sum(nil)), hashes, nil
}

// Reassemble concatenates chunk_0..chunk_{n-1} from dir into out, in
// order. It fails with a *MissingChunkError if any chunk file is absent.
// The caller is responsible for verifying the resulting whole-file hash.
func Reassemble(dir, out string, n int) error {
	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("chunkstore: create %s: %w", out, err)
	}
	defer dst.Close()

	for i := 0; i < n; i++ {
		p := chunkPath(dir, i)
		src, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				return &MissingChunkError{Index: i}
			}
			return fmt.Errorf("chunkstore: open chunk %d: %w", i, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("chunkstore: copy chunk %d: %w", i, err)
		}
	}
	return nil
}

// HashFile returns the hex SHA-256 of the full content of path, used to
// verify a reassembled file against the advertised file_hash.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("chunkstore: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("chunkstore: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 of b, used to verify a single received
// chunk against its expected hash.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// ExpectedChunkCount returns ceil(size / ChunkSize), or 0 iff size == 0.
func ExpectedChunkCount(size int64) int {
	if size == 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}
