// Package metrics exposes Prometheus metrics for the tracker and peer
// processes. The teacher hand-rolls its own counter/gauge types; this
// repo instead wires the real client_golang library the teacher's go.mod
// already carries (transitively) but never calls directly, serving the
// same operational role the teacher's internal/metrics package does.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker holds every metric the tracker dispatcher updates.
type Tracker struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	ActivePeers     prometheus.Gauge
	AnnouncedFiles  prometheus.Gauge
	SnapshotWrites  prometheus.Counter
	SnapshotErrors  prometheus.Counter
}

// NewTracker builds a fresh registry and metric set for the tracker.
func NewTracker() *Tracker {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Tracker{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filemesh_tracker_requests_total",
			Help: "Tracker requests handled, by action and outcome.",
		}, []string{"action", "status"}),
		ActivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filemesh_tracker_active_peers",
			Help: "Number of currently logged-in peer endpoints.",
		}),
		AnnouncedFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filemesh_tracker_announced_files",
			Help: "Number of distinct filenames currently advertised.",
		}),
		SnapshotWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "filemesh_tracker_snapshot_writes_total",
			Help: "Successful snapshot persistence writes.",
		}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "filemesh_tracker_snapshot_errors_total",
			Help: "Snapshot persistence failures (state stays in-memory authoritative).",
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{})
}

// Peer holds every metric the peer service endpoint and download engine
// update.
type Peer struct {
	Registry *prometheus.Registry

	ChunksServed      prometheus.Counter
	BytesUploaded     prometheus.Counter
	ChunkServeSeconds prometheus.Histogram

	DownloadsActive   prometheus.Gauge
	ChunkAttempts     *prometheus.CounterVec // label: outcome (success, hash_mismatch, network_error)
	DownloadDuration  prometheus.Histogram
}

// NewPeer builds a fresh registry and metric set for the peer process.
func NewPeer() *Peer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Peer{
		Registry: reg,
		ChunksServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "filemesh_peer_chunks_served_total",
			Help: "Chunks successfully sent to requesters.",
		}),
		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "filemesh_peer_bytes_uploaded_total",
			Help: "Raw chunk bytes sent to requesters.",
		}),
		ChunkServeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "filemesh_peer_chunk_serve_seconds",
			Help:    "Time spent serving one chunk, including the tier delay.",
			Buckets: prometheus.DefBuckets,
		}),
		DownloadsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filemesh_peer_downloads_active",
			Help: "Downloads currently in progress.",
		}),
		ChunkAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filemesh_peer_chunk_attempts_total",
			Help: "Chunk download attempts, by outcome.",
		}, []string{"outcome"}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "filemesh_peer_download_duration_seconds",
			Help:    "Wall-clock time to complete a whole-file download.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (p *Peer) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}
