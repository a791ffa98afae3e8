package trackersvc

import (
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/filemesh/filemesh/internal/audit"
	"github.com/filemesh/filemesh/internal/sanitize"
	"github.com/filemesh/filemesh/internal/trackerstate"
	"github.com/filemesh/filemesh/internal/wire"
)

// dispatch reads exactly one Request from conn, routes it by Action to the
// matching registry call, and writes exactly one Response before the
// caller closes the connection. Replacing the if/else ladder the original
// used with a switch over the Action tagged union, per spec.md §9.
func (s *Server) dispatch(conn net.Conn, ip string) {
	start := time.Now()
	req, err := wire.ReadRequest(conn)
	if err != nil {
		wire.WriteResponse(conn, wire.Fail("malformed request"))
		s.observe("unknown", false, start)
		return
	}

	resp := s.route(ip, req)

	if err := wire.WriteResponse(conn, resp); err != nil {
		s.log.Warn("write response failed", zap.Error(err), zap.String("action", string(req.Action)))
	}
	s.observe(string(req.Action), resp.Status, start)
}

func (s *Server) observe(action string, ok bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "error"
	if ok {
		status = "ok"
	}
	s.metrics.RequestsTotal.WithLabelValues(action, status).Inc()
}

func (s *Server) route(ip string, req wire.Request) (resp wire.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("handler panic recovered", zap.Any("panic", rec), zap.String("action", string(req.Action)))
			resp = wire.Failf("internal error handling %s", req.Action)
		}
	}()

	switch req.Action {
	case wire.ActionRegister:
		return s.handleRegister(req)
	case wire.ActionLogin:
		return s.handleLogin(ip, req)
	case wire.ActionLogout:
		return s.handleLogout(ip, req)
	case wire.ActionAnnounce:
		return s.handleAnnounce(ip, req)
	case wire.ActionListFiles:
		return s.handleListFiles()
	case wire.ActionReportUpload:
		return s.handleReportUpload(req)
	case wire.ActionGetScores:
		return s.handleGetScores()
	case wire.ActionGetPeerScore:
		return s.handleGetPeerScore(req)
	case wire.ActionGetActivePeers:
		return s.handleGetActivePeers(ip, req)
	case wire.ActionCreateRoom:
		return s.handleCreateRoom(ip, req)
	case wire.ActionListRooms:
		return s.handleListRooms()
	case wire.ActionDeleteRoom:
		return s.handleDeleteRoom(req)
	case wire.ActionRoomMemberUpdate:
		return s.handleRoomMemberUpdate(req)
	default:
		return wire.Fail("unknown action")
	}
}

func (s *Server) handleRegister(req wire.Request) wire.Response {
	if err := sanitize.Username(req.Username); err != nil {
		return wire.Failf("invalid username: %v", err)
	}
	if err := s.registry.Register(req.Username, req.Password); err != nil {
		return translateRegistryError(err)
	}
	return wire.Ok()
}

func (s *Server) handleLogin(ip string, req wire.Request) wire.Response {
	if err := s.registry.Login(req.Username, req.Password, ip, req.Port); err != nil {
		return translateRegistryError(err)
	}
	if s.auditLog != nil {
		s.auditLog.Log(audit.NewLoginEvent(req.Username, peerString(ip, req.Port)))
	}
	return wire.Ok()
}

func (s *Server) handleLogout(ip string, req wire.Request) wire.Response {
	if err := s.registry.Logout(ip, req.Port, req.Username); err != nil {
		return translateRegistryError(err)
	}
	if s.auditLog != nil {
		s.auditLog.Log(audit.NewLogoutEvent(req.Username, peerString(ip, req.Port)))
	}
	return wire.Ok()
}

func (s *Server) handleAnnounce(ip string, req wire.Request) wire.Response {
	for _, f := range req.Files {
		if err := sanitize.Filename(f.Filename); err != nil {
			return wire.Failf("invalid filename %q: %v", f.Filename, err)
		}
	}
	if err := s.registry.Announce(ip, req.Port, req.Username, req.Files); err != nil {
		return translateRegistryError(err)
	}
	if s.auditLog != nil {
		for _, f := range req.Files {
			s.auditLog.Log(audit.NewAnnounceEvent(req.Username, f.Filename, f.Size))
		}
	}
	return wire.Ok()
}

func (s *Server) handleListFiles() wire.Response {
	return wire.Response{Status: true, Files: s.registry.ListFiles()}
}

func (s *Server) handleReportUpload(req wire.Request) wire.Response {
	// report_upload carries no port on the wire, so only the username's
	// session is checked (see Registry.IsActiveUsername).
	if !s.registry.IsActiveUsername(req.Username) {
		return translateRegistryError(trackerstate.ErrNotLoggedIn)
	}
	s.registry.ReportUpload(req.Username)
	return wire.Ok()
}

func (s *Server) handleGetScores() wire.Response {
	return wire.Response{Status: true, Scores: s.registry.GetScores()}
}

func (s *Server) handleGetPeerScore(req wire.Request) wire.Response {
	score, tier := s.registry.GetPeerScore(req.TargetUsername)
	return wire.Response{Status: true, Score: score, Tier: string(tier)}
}

func (s *Server) handleGetActivePeers(ip string, req wire.Request) wire.Response {
	return wire.Response{Status: true, Peers: s.registry.GetActivePeers(ip, req.Port)}
}

func (s *Server) handleCreateRoom(ip string, req wire.Request) wire.Response {
	if err := sanitize.RoomName(req.RoomName); err != nil {
		return wire.Failf("invalid room name: %v", err)
	}
	address := peerString(ip, req.Port)
	if err := s.registry.CreateRoom(ip, req.Port, req.Username, req.RoomName, address); err != nil {
		return translateRegistryError(err)
	}
	return wire.Ok()
}

func (s *Server) handleListRooms() wire.Response {
	return wire.Response{Status: true, Rooms: s.registry.ListRooms()}
}

func (s *Server) handleDeleteRoom(req wire.Request) wire.Response {
	if err := s.registry.DeleteRoom(req.Username, req.RoomName); err != nil {
		return translateRegistryError(err)
	}
	return wire.Ok()
}

func (s *Server) handleRoomMemberUpdate(req wire.Request) wire.Response {
	if err := s.registry.RoomMemberUpdate(req.Username, req.RoomName, req.Event); err != nil {
		return translateRegistryError(err)
	}
	return wire.Ok()
}

func translateRegistryError(err error) wire.Response {
	switch {
	case errors.Is(err, trackerstate.ErrUserExists),
		errors.Is(err, trackerstate.ErrRoomExists),
		errors.Is(err, trackerstate.ErrNotModerator),
		errors.Is(err, trackerstate.ErrUnknownUser),
		errors.Is(err, trackerstate.ErrBadPassword),
		errors.Is(err, trackerstate.ErrNotLoggedIn),
		errors.Is(err, trackerstate.ErrUnknownRoom):
		return wire.Fail(err.Error())
	default:
		return wire.Response{Status: false, Error: err.Error()}
	}
}

func peerString(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
