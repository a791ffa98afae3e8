// Package downloader is the peer's parallel chunk-download engine: a
// worker pool per file, round-robin peer selection, per-chunk retries, and
// final whole-file reassembly and verification. Grounded on spec.md
// §4.6/§5: the FIFO queue, peer iterator and attempts counter each carry
// their own mutex so workers never serialize on network I/O.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/filemesh/filemesh/internal/audit"
	"github.com/filemesh/filemesh/internal/chunkstore"
	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/reputation"
	"github.com/filemesh/filemesh/internal/wire"
)

const (
	// MaxChunkRetries is the total number of attempts (success or
	// failure) permitted per chunk before it is declared permanently
	// failed, per spec.md §4.6 item d and Scenario D/E.
	MaxChunkRetries = 3

	// ChunkAttemptTimeout bounds one peer round for one chunk attempt.
	ChunkAttemptTimeout = 20 * time.Second
)

// ErrDownloadFailed is returned when one or more chunks could not be
// fetched from any source peer within MaxChunkRetries attempts.
var ErrDownloadFailed = errors.New("downloader: one or more chunks failed permanently")

// ErrIntegrityMismatch is returned when reassembly succeeds but the
// whole-file hash does not match the expected file hash.
var ErrIntegrityMismatch = errors.New("downloader: reassembled file hash mismatch")

// File describes the download target, as returned by list_files.
type File struct {
	Filename    string
	Size        int64
	FileHash    string
	ChunkHashes []string
	Peers       []string // "ip:port", already sorted by score desc by the tracker
}

// Result reports the outcome of a download attempt.
type Result struct {
	ScratchDir string
	OutputPath string
	Workers    int
	Attempts   map[int]int
}

// Engine runs one download at a time per File; callers create one Engine
// call per file download.
type Engine struct {
	scratchRoot string
	outputRoot  string
	metrics     *metrics.Peer
	auditLog    *audit.Writer
}

// New builds an Engine. m and auditLog are optional (nil disables the
// corresponding instrumentation) and record the download-side Prometheus
// gauges/histogram and the verification-failed audit event respectively.
func New(scratchRoot, outputRoot string, m *metrics.Peer, auditLog *audit.Writer) *Engine {
	return &Engine{scratchRoot: scratchRoot, outputRoot: outputRoot, metrics: m, auditLog: auditLog}
}

// Download executes spec.md §4.6's algorithm for f, using selfTier to
// bound worker parallelism.
func (e *Engine) Download(ctx context.Context, f File, selfUsername string, selfTier reputation.Tier) (*Result, error) {
	if len(f.Peers) == 0 {
		return nil, errors.New("downloader: no source peers available")
	}

	if e.metrics != nil {
		e.metrics.DownloadsActive.Inc()
		defer e.metrics.DownloadsActive.Dec()
	}
	start := time.Now()

	scratchDir := filepath.Join(e.scratchRoot, "temp_"+f.FileHash)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("downloader: create scratch dir: %w", err)
	}

	workers := reputation.MaxWorkers(selfTier)
	if workers > len(f.Peers) {
		workers = len(f.Peers)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make([]chunkJob, len(f.ChunkHashes))
	for i, h := range f.ChunkHashes {
		jobs[i] = chunkJob{index: i, expectedHash: h}
	}
	queue := newFIFOQueue(jobs)
	iter := newPeerIterator(f.Peers)
	attempts := newAttemptCounter()

	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		go func() {
			e.worker(ctx, f, selfUsername, scratchDir, queue, iter, attempts)
			done <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	for i := range f.ChunkHashes {
		p := chunkstore.ChunkPath(scratchDir, i)
		if _, err := os.Stat(p); err != nil {
			return &Result{ScratchDir: scratchDir, Workers: workers, Attempts: attempts.snapshot()}, ErrDownloadFailed
		}
	}

	outPath := filepath.Join(e.outputRoot, f.Filename)
	if err := chunkstore.Reassemble(scratchDir, outPath, len(f.ChunkHashes)); err != nil {
		return &Result{ScratchDir: scratchDir, Workers: workers, Attempts: attempts.snapshot()}, err
	}

	hash, err := chunkstore.HashFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("downloader: hash reassembled file: %w", err)
	}
	if hash != f.FileHash {
		return &Result{ScratchDir: scratchDir, OutputPath: outPath, Workers: workers, Attempts: attempts.snapshot()}, ErrIntegrityMismatch
	}

	os.RemoveAll(scratchDir)
	if e.metrics != nil {
		e.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	}
	return &Result{OutputPath: outPath, Workers: workers, Attempts: attempts.snapshot()}, nil
}

// worker drains the queue until empty, matching spec.md §4.6 item 4: take
// non-blocking, exit when there is nothing left to take.
func (e *Engine) worker(ctx context.Context, f File, selfUsername, scratchDir string, queue *fifoQueue, iter *peerIterator, attempts *attemptCounter) {
	for {
		job, ok := queue.take()
		if !ok {
			return
		}

		count := attempts.increment(job.index)
		data, err := e.fetchChunkFromAnyPeer(ctx, iter, f.Filename, job, selfUsername)
		if err == nil {
			if writeErr := os.WriteFile(chunkstore.ChunkPath(scratchDir, job.index), data, 0o644); writeErr == nil {
				continue
			}
		}

		if count < MaxChunkRetries {
			queue.push(job)
		}
		// else: permanently failed; move on without rollback of
		// already-written chunks, per spec.md §4.6.
	}
}

// fetchChunkFromAnyPeer tries up to len(peers) peers in round-robin order
// for one attempt cycle, per spec.md §4.6 item b.
func (e *Engine) fetchChunkFromAnyPeer(ctx context.Context, iter *peerIterator, filename string, job chunkJob, selfUsername string) ([]byte, error) {
	attemptsLeft := iter.len()
	if attemptsLeft == 0 {
		return nil, errors.New("downloader: no peers configured")
	}

	var lastErr error
	for i := 0; i < attemptsLeft; i++ {
		peer := iter.take()
		data, err := fetchChunk(ctx, peer, filename, job.index, selfUsername)
		if err != nil {
			lastErr = err
			e.observeAttempt("network_error")
			continue
		}
		if chunkstore.HashBytes(data) != job.expectedHash {
			lastErr = fmt.Errorf("downloader: chunk %d hash mismatch from %s", job.index, peer)
			e.observeAttempt("hash_mismatch")
			if e.auditLog != nil {
				e.auditLog.Log(audit.NewVerificationFailedEvent(filename, job.index, lastErr.Error()))
			}
			continue
		}
		e.observeAttempt("success")
		return data, nil
	}
	return nil, lastErr
}

func (e *Engine) observeAttempt(outcome string) {
	if e.metrics != nil {
		e.metrics.ChunkAttempts.WithLabelValues(outcome).Inc()
	}
}

func fetchChunk(ctx context.Context, peer, filename string, index int, selfUsername string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ChunkAttemptTimeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := wire.WriteRequest(conn, wire.Request{
		Action:     wire.ActionRequestChunk,
		FileName:   filename,
		ChunkIndex: index,
		Username:   selfUsername,
	}); err != nil {
		return nil, fmt.Errorf("send request_chunk: %w", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty chunk from %s (chunk absent or refused)", peer)
	}
	return data, nil
}
