// Package peersvc is the peer's chunk-serving and chat hand-off TCP
// endpoint: one goroutine per accepted connection, one request read and
// (for request_chunk) one raw-bytes reply followed by connection close.
package peersvc

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/audit"
	"github.com/filemesh/filemesh/internal/chatproto"
	"github.com/filemesh/filemesh/internal/chunkstore"
	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/ratelimit"
	"github.com/filemesh/filemesh/internal/reputation"
	"github.com/filemesh/filemesh/internal/trackerclient"
	"github.com/filemesh/filemesh/internal/wire"
)

// Server serves chunk requests for this peer's shared files and hands off
// chat/room connections to a chatproto.Handler.
type Server struct {
	listener net.Listener
	log      *zap.Logger

	sharedDir string
	selfUser  string

	tracker *trackerclient.Client
	limiter *ratelimit.Limiter
	metrics *metrics.Peer
	auditLog *audit.Writer
	chat    chatproto.Handler
}

// Config bundles the dependencies a Server needs beyond the listener.
type Config struct {
	SharedDir string
	SelfUser  string
	Tracker   *trackerclient.Client
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Peer
	AuditLog  *audit.Writer
	Chat      chatproto.Handler
}

// New wraps an already-bound listener (chosen by the OS, per spec.md §6).
func New(listener net.Listener, log *zap.Logger, cfg Config) *Server {
	chat := cfg.Chat
	if chat == nil {
		chat = chatproto.NoopHandler{Log: log}
	}
	return &Server{
		listener:  listener,
		log:       log,
		sharedDir: cfg.SharedDir,
		selfUser:  cfg.SelfUser,
		tracker:   cfg.Tracker,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		auditLog:  cfg.AuditLog,
		chat:      chat,
	}
}

// Addr returns the bound address, the value advertised to the tracker as
// "port" in every action.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	req, err := wire.ReadRequest(conn)
	if err != nil {
		conn.Close()
		return
	}

	switch req.Action {
	case wire.ActionRequestChunk:
		defer conn.Close()
		s.serveChunk(conn, req)
	case wire.ActionInitiateChat:
		s.chat.HandleChat(conn, req.FromUser)
	case wire.ActionJoinRoom:
		s.chat.HandleJoinRoom(conn, req.RoomName, req.Username)
	default:
		conn.Close()
	}
}

// serveChunk implements spec.md §4.5's request_chunk path: locate the
// chunk, apply the requester's tier-based service delay, send the raw
// bytes, then self-report the upload fire-and-forget.
func (s *Server) serveChunk(conn net.Conn, req wire.Request) {
	start := time.Now()
	sharedFilePath := filepath.Join(s.sharedDir, req.FileName)
	chunkPath := chunkstore.ChunkPath(chunkstore.ChunksDir(sharedFilePath), req.ChunkIndex)

	f, err := os.Open(chunkPath)
	if err != nil {
		// Absent chunk: close silently, per spec.md §4.5.
		return
	}
	defer f.Close()

	var w io.Writer = conn
	if s.limiter != nil {
		w = s.limiter.Writer(context.Background(), conn)
	}

	tier := reputation.TierBronze
	if s.tracker != nil {
		if resp, err := s.tracker.GetPeerScore(context.Background(), req.Username); err == nil && resp.Status {
			tier = reputation.Tier(resp.Tier)
		}
	}
	delay := reputation.ServiceDelaySeconds(tier)
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Second)
	}

	n, err := io.Copy(w, f)
	if err != nil {
		s.log.Warn("chunk send interrupted", zap.Error(err), zap.String("file", req.FileName), zap.Int("chunk", req.ChunkIndex))
		return
	}

	if s.metrics != nil {
		s.metrics.ChunksServed.Inc()
		s.metrics.BytesUploaded.Add(float64(n))
		s.metrics.ChunkServeSeconds.Observe(time.Since(start).Seconds())
	}
	if s.auditLog != nil {
		s.auditLog.Log(audit.NewUploadCompleteEvent(s.selfUser, req.Username, req.FileName, req.ChunkIndex))
	}

	s.selfReportUpload()
}

// selfReportUpload issues report_upload{username=self} fire-and-forget, per
// spec.md §4.5: a failure here must never affect the chunk transfer that
// already succeeded.
func (s *Server) selfReportUpload() {
	if s.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.tracker.ReportUpload(ctx, s.selfUser); err != nil {
		s.log.Debug("self report_upload failed", zap.Error(err))
	}
}
