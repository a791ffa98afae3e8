package chunkstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitReassembleRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"smaller than one chunk", 100},
		{"exactly one chunk", ChunkSize},
		{"spans three chunks with short tail", ChunkSize*3 - 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "doc.bin")

			data := make([]byte, tc.size)
			rand.New(rand.NewSource(1)).Read(data)
			if err := os.WriteFile(src, data, 0o644); err != nil {
				t.Fatal(err)
			}

			fileHash, chunkHashes, err := Split(src)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}

			wantCount := ExpectedChunkCount(int64(tc.size))
			if len(chunkHashes) != wantCount {
				t.Fatalf("got %d chunk hashes, want %d", len(chunkHashes), wantCount)
			}

			sum := sha256.Sum256(data)
			if fileHash != hex.EncodeToString(sum[:]) {
				t.Fatalf("file hash mismatch")
			}

			out := filepath.Join(dir, "doc.out")
			if err := Reassemble(ChunksDir(src), out, len(chunkHashes)); err != nil {
				t.Fatalf("Reassemble: %v", err)
			}

			got, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip produced different bytes")
			}

			gotHash, err := HashFile(out)
			if err != nil {
				t.Fatal(err)
			}
			if gotHash != fileHash {
				t.Fatalf("HashFile mismatch: got %s want %s", gotHash, fileHash)
			}
		})
	}
}

func TestReassembleMissingChunk(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.bin")
	if err := os.WriteFile(src, bytes.Repeat([]byte("x"), ChunkSize*2), 0o644); err != nil {
		t.Fatal(err)
	}
	_, chunkHashes, err := Split(src)
	if err != nil {
		t.Fatal(err)
	}

	chunksDir := ChunksDir(src)
	if err := os.Remove(filepath.Join(chunksDir, "chunk_1")); err != nil {
		t.Fatal(err)
	}

	err = Reassemble(chunksDir, filepath.Join(dir, "out.bin"), len(chunkHashes))
	if err == nil {
		t.Fatal("expected MissingChunkError")
	}
	var missing *MissingChunkError
	if !asMissingChunk(err, &missing) {
		t.Fatalf("expected *MissingChunkError, got %T: %v", err, err)
	}
	if missing.Index != 1 {
		t.Fatalf("expected missing index 1, got %d", missing.Index)
	}
}

func asMissingChunk(err error, target **MissingChunkError) bool {
	if mc, ok := err.(*MissingChunkError); ok {
		*target = mc
		return true
	}
	return false
}

func TestExpectedChunkCount(t *testing.T) {
	cases := map[int64]int{
		0:              0,
		1:              1,
		ChunkSize:      1,
		ChunkSize + 1:  2,
		ChunkSize * 3:  3,
	}
	for size, want := range cases {
		if got := ExpectedChunkCount(size); got != want {
			t.Errorf("ExpectedChunkCount(%d) = %d, want %d", size, got, want)
		}
	}
}
