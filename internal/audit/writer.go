package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends Events to a JSONL audit log file, one object per line.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewWriter opens (creating if necessary) the audit log at path for
// appending.
func NewWriter(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("audit: create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}

	return &Writer{file: f, encoder: json.NewEncoder(f)}, nil
}

// Log appends one event. A write failure is swallowed after logging to
// stderr: the audit trail is best-effort operational tooling, not part of
// the tracker's authoritative state.
func (w *Writer) Log(e Event) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(e); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write event: %v\n", err)
	}
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	return w.file.Close()
}
