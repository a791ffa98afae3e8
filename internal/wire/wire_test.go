package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Action: ActionAnnounce, Username: "u1", Port: 5000, Files: []AnnouncedFile{
		{Filename: "doc.bin", Size: 10, FileHash: "H", ChunkHashes: []string{"a"}},
	}}
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}

	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != ActionAnnounce || got.Username != "u1" || got.Port != 5000 || len(got.Files) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{Status: true, Scores: []ScoreEntry{{Username: "u1", Score: 10.5, Tier: "prata"}}}
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatal(err)
	}

	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Status || len(got.Scores) != 1 || got.Scores[0].Score != 10.5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestReadRequestHandlesLargePayloadWithoutTruncation(t *testing.T) {
	// Regression test for the fixed-4096-byte-buffer truncation bug
	// documented in spec.md §9: build an announce with enough chunk
	// hashes that a naive fixed buffer would cut it off mid-object.
	hashes := make([]string, 2000)
	for i := range hashes {
		hashes[i] = strings.Repeat("a", 64)
	}

	var buf bytes.Buffer
	req := Request{Action: ActionAnnounce, Files: []AnnouncedFile{{Filename: "big.bin", ChunkHashes: hashes}}}
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatal(err)
	}
	if buf.Len() < 4096*4 {
		t.Fatalf("test payload not actually large enough to be meaningful: %d bytes", buf.Len())
	}

	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files[0].ChunkHashes) != len(hashes) {
		t.Fatalf("got %d chunk hashes, want %d", len(got.Files[0].ChunkHashes), len(hashes))
	}
}

func TestFailfFormatsMessage(t *testing.T) {
	resp := Failf("bad thing: %d", 42)
	if resp.Status || resp.Message != "bad thing: 42" {
		t.Fatalf("got %+v", resp)
	}
}
