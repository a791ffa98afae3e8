package peersvc

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/chunkstore"
	"github.com/filemesh/filemesh/internal/trackerclient"
	"github.com/filemesh/filemesh/internal/wire"
)

// fakeTracker answers every request (get_peer_score and the serveChunk's
// fire-and-forget report_upload) with tier, so tests don't pay the tier's
// real reputation.ServiceDelaySeconds in serveChunk.
func fakeTracker(t *testing.T, tier string) (*trackerclient.Client, func()) {
	t.Helper()
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
			go func() {
				defer conn.Close()
				if _, err := wire.ReadRequest(conn); err != nil {
					return
				}
				wire.WriteResponse(conn, wire.Response{Status: true, Tier: tier})
			}()
		}
	}()
	return trackerclient.New(ln.Addr().String()), func() { ln.Close() }
}

func TestServeChunkSendsBytesAndCloses(t *testing.T) {
	sharedDir := t.TempDir()
	chunkDir := chunkstore.ChunksDir(filepath.Join(sharedDir, "doc.bin"))
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	payload := []byte("hello chunk world")
	if err := os.WriteFile(chunkstore.ChunkPath(chunkDir, 0), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	tracker, cleanupTracker := fakeTracker(t, "diamante")
	defer cleanupTracker()

	srv := New(ln, zap.NewNop(), Config{SharedDir: sharedDir, SelfUser: "u1", Tracker: tracker})
	go srv.Serve()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := wire.WriteRequest(conn, wire.Request{
		Action: wire.ActionRequestChunk, FileName: "doc.bin", ChunkIndex: 0, Username: "requester",
	}); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	n := 0
	for n < len(payload) {
		m, err := conn.Read(got[n:])
		n += m
		if err != nil {
			break
		}
	}
	if string(got[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", got[:n], payload)
	}

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) == "" {
		t.Fatal("sanity check failed")
	}
}

func TestServeChunkMissingClosesSilently(t *testing.T) {
	sharedDir := t.TempDir()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := New(ln, zap.NewNop(), Config{SharedDir: sharedDir, SelfUser: "u1"})
	go srv.Serve()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := wire.WriteRequest(conn, wire.Request{
		Action: wire.ActionRequestChunk, FileName: "absent.bin", ChunkIndex: 0, Username: "requester",
	}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected silent close with no bytes, got n=%d err=%v", n, err)
	}
}
