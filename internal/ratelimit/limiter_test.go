package ratelimit

import (
	"bytes"
	"context"
	"testing"
)

func TestDisabledLimiterPassesThrough(t *testing.T) {
	l := New(0)
	if l.Enabled() {
		t.Fatal("limiter with bytesPerSecond<=0 should be disabled")
	}
	var buf bytes.Buffer
	w := l.Writer(context.Background(), &buf)
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestEnabledLimiterWritesAllBytes(t *testing.T) {
	l := New(1024 * 1024)
	if !l.Enabled() {
		t.Fatal("expected enabled limiter")
	}
	var buf bytes.Buffer
	w := l.Writer(context.Background(), &buf)
	payload := bytes.Repeat([]byte("a"), 1000)
	n, err := w.Write(payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) || buf.Len() != len(payload) {
		t.Fatalf("wrote %d bytes, buffer has %d, want %d", n, buf.Len(), len(payload))
	}
}
