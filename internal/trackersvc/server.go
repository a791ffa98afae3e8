// Package trackersvc is the tracker's TCP accept loop: one goroutine per
// connection, one request read and one reply written per connection, then
// close. Accept-loop shape grounded on the gateway.TCPServer pattern found
// in the pack (accept, spawn handler goroutine, handler owns conn
// lifecycle); logging and lifecycle idiom follow the teacher's zap usage.
package trackersvc

import (
	"net"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/audit"
	"github.com/filemesh/filemesh/internal/blocklist"
	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/trackerstate"
	"github.com/filemesh/filemesh/internal/wire"
)

// Server accepts tracker control connections and dispatches each one.
type Server struct {
	listener  net.Listener
	log       *zap.Logger
	registry  *trackerstate.Registry
	blocked   *blocklist.List
	metrics   *metrics.Tracker
	auditLog  *audit.Writer
}

// New wraps an already-bound listener. Binding is left to the caller (the
// cmd/tracker entrypoint) so tests can use net.Listen("tcp", "127.0.0.1:0").
func New(listener net.Listener, log *zap.Logger, registry *trackerstate.Registry, blocked *blocklist.List, m *metrics.Tracker, auditLog *audit.Writer) *Server {
	if blocked == nil {
		blocked = blocklist.New()
	}
	return &Server{listener: listener, log: log, registry: registry, blocked: blocked, metrics: m, auditLog: auditLog}
}

// Serve accepts connections until the listener is closed. Each connection
// is handled in its own goroutine, matching spec's one-task-per-connection
// scheduling model.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Addr returns the bound address, for tests and for startup logging.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	if s.blocked != nil && s.blocked.Blocked(host) {
		s.log.Warn("rejected connection from blocked peer", zap.String("ip", host))
		if s.auditLog != nil {
			s.auditLog.Log(audit.NewPeerBlockedEvent(host, "blocklisted"))
		}
		wire.WriteResponse(conn, wire.Fail("blocked"))
		return
	}

	s.dispatch(conn, host)
}
