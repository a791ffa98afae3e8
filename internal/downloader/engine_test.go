package downloader

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/filemesh/filemesh/internal/chunkstore"
	"github.com/filemesh/filemesh/internal/reputation"
	"github.com/filemesh/filemesh/internal/wire"
)

// fakePeer serves a fixed set of chunk bytes for request_chunk, optionally
// corrupting the first N responses for a given chunk index to exercise the
// retry path (Scenario D), or refusing entirely (Scenario E).
type fakePeer struct {
	chunks         map[int][]byte
	corruptUntil   map[int]int // chunk index -> number of corrupt responses to send before the real bytes
	refuseAlways   map[int]bool
	served         map[int]int
}

func newFakePeer(t *testing.T, chunks map[int][]byte) (addr string, fp *fakePeer, closeFn func()) {
	t.Helper()
	fp = &fakePeer{chunks: chunks, corruptUntil: map[int]int{}, refuseAlways: map[int]bool{}, served: map[int]int{}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fp.handle(conn)
		}
	}()
	return ln.Addr().String(), fp, func() { ln.Close() }
}

func (fp *fakePeer) handle(conn net.Conn) {
	defer conn.Close()
	req, err := wire.ReadRequest(conn)
	if err != nil {
		return
	}
	if fp.refuseAlways[req.ChunkIndex] {
		return
	}
	fp.served[req.ChunkIndex]++
	if remaining := fp.corruptUntil[req.ChunkIndex]; remaining > 0 {
		fp.corruptUntil[req.ChunkIndex]--
		conn.Write([]byte("corrupted-bytes-not-matching-hash"))
		return
	}
	conn.Write(fp.chunks[req.ChunkIndex])
}

func TestDownloadSucceedsWithReliablePeer(t *testing.T) {
	chunkA := []byte("chunk-zero-bytes")
	chunkB := []byte("chunk-one-bytes-right-here")

	addr, _, closeFn := newFakePeer(t, map[int][]byte{0: chunkA, 1: chunkB})
	defer closeFn()

	f := File{
		Filename:    "doc.bin",
		FileHash:    "", // verified at the end via reassembled bytes; filled in below
		ChunkHashes: []string{chunkstore.HashBytes(chunkA), chunkstore.HashBytes(chunkB)},
		Peers:       []string{addr},
	}
	combined := append(append([]byte{}, chunkA...), chunkB...)
	f.FileHash = chunkstore.HashBytes(combined)

	dir := t.TempDir()
	engine := New(filepath.Join(dir, "downloads"), filepath.Join(dir, "out"), nil, nil)
	os.MkdirAll(filepath.Join(dir, "out"), 0o755)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := engine.Download(ctx, f, "requester", reputation.TierDiamante)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	got, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(combined) {
		t.Fatalf("reassembled content mismatch")
	}
}

func TestDownloadRetriesCorruptChunkThenSucceeds(t *testing.T) {
	chunkA := []byte("the-one-true-chunk")
	addr, fp, closeFn := newFakePeer(t, map[int][]byte{0: chunkA})
	defer closeFn()
	fp.corruptUntil[0] = 2 // fails twice, succeeds on the 3rd attempt

	f := File{
		Filename:    "single.bin",
		FileHash:    chunkstore.HashBytes(chunkA),
		ChunkHashes: []string{chunkstore.HashBytes(chunkA)},
		Peers:       []string{addr},
	}

	dir := t.TempDir()
	engine := New(filepath.Join(dir, "downloads"), filepath.Join(dir, "out"), nil, nil)
	os.MkdirAll(filepath.Join(dir, "out"), 0o755)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := engine.Download(ctx, f, "requester", reputation.TierBronze)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result.Attempts[0] != 3 {
		t.Fatalf("expected 3 attempts for chunk 0, got %d", result.Attempts[0])
	}
}

func TestDownloadPermanentFailureLeavesScratchDir(t *testing.T) {
	addr, fp, closeFn := newFakePeer(t, map[int][]byte{0: []byte("irrelevant")})
	defer closeFn()
	fp.refuseAlways[0] = true

	f := File{
		Filename:    "doomed.bin",
		FileHash:    "irrelevant-hash",
		ChunkHashes: []string{"expected-hash-never-met"},
		Peers:       []string{addr},
	}

	dir := t.TempDir()
	engine := New(filepath.Join(dir, "downloads"), filepath.Join(dir, "out"), nil, nil)
	os.MkdirAll(filepath.Join(dir, "out"), 0o755)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := engine.Download(ctx, f, "requester", reputation.TierBronze)
	if err == nil {
		t.Fatal("expected failure")
	}
	if _, statErr := os.Stat(result.ScratchDir); statErr != nil {
		t.Fatalf("expected scratch dir to remain for forensics: %v", statErr)
	}
}

func TestDownloadWorkerCountBoundedByTierAndPeerCount(t *testing.T) {
	chunkA := []byte("x")
	addr, _, closeFn := newFakePeer(t, map[int][]byte{0: chunkA, 1: chunkA, 2: chunkA})
	defer closeFn()

	f := File{
		Filename:    "many.bin",
		FileHash:    chunkstore.HashBytes(append(append(append([]byte{}, chunkA...), chunkA...), chunkA...)),
		ChunkHashes: []string{chunkstore.HashBytes(chunkA), chunkstore.HashBytes(chunkA), chunkstore.HashBytes(chunkA)},
		Peers:       []string{addr}, // only 1 live peer despite diamante tier allowing 4 workers
	}

	dir := t.TempDir()
	engine := New(filepath.Join(dir, "downloads"), filepath.Join(dir, "out"), nil, nil)
	os.MkdirAll(filepath.Join(dir, "out"), 0o755)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := engine.Download(ctx, f, "requester", reputation.TierDiamante)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if result.Workers != 1 {
		t.Fatalf("expected worker count bounded by peer count (1), got %d", result.Workers)
	}
}
