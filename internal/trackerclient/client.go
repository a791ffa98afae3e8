// Package trackerclient is the peer-side client for every tracker action
// in the wire protocol. It opens one TCP connection per call, matching the
// protocol's one-request-one-response-per-connection model (see internal
// /wire), and wraps transient failures with internal/retry so a peer
// surviving a momentary tracker hiccup doesn't have to hand-roll backoff at
// every call site.
package trackerclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/filemesh/filemesh/internal/retry"
	"github.com/filemesh/filemesh/internal/wire"
)

// Client talks to a single tracker address.
type Client struct {
	addr       string
	dialTimeout time.Duration
	retryCfg   retry.Config
}

// New builds a client for the given tracker address.
func New(addr string) *Client {
	return &Client{
		addr:        addr,
		dialTimeout: 5 * time.Second,
		retryCfg: retry.Config{
			MaxAttempts: 3,
			Backoff:     retry.Constant(500 * time.Millisecond),
		},
	}
}

// call dials the tracker, writes req, reads and returns one Response.
// Dial and I/O errors are retried (the tracker may be mid-restart); a
// non-nil Response.Error is an application-level rejection and is
// returned as-is without retrying.
func (c *Client) call(ctx context.Context, req wire.Request) (wire.Response, error) {
	var resp wire.Response
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: c.dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return fmt.Errorf("dial tracker: %w", err)
		}
		defer conn.Close()

		if err := wire.WriteRequest(conn, req); err != nil {
			return fmt.Errorf("write request: %w", err)
		}

		r, err := wire.ReadResponse(conn)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		resp = r
		return nil
	})
	return resp, err
}

func (c *Client) Register(ctx context.Context, username, password string) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionRegister, Username: username, Password: password})
}

func (c *Client) Login(ctx context.Context, username, password string, port int) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionLogin, Username: username, Password: password, Port: port})
}

func (c *Client) Logout(ctx context.Context, username string, port int) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionLogout, Username: username, Port: port})
}

func (c *Client) Announce(ctx context.Context, username string, port int, files []wire.AnnouncedFile) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionAnnounce, Username: username, Port: port, Files: files})
}

func (c *Client) ListFiles(ctx context.Context) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionListFiles})
}

func (c *Client) ReportUpload(ctx context.Context, username string) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionReportUpload, Username: username})
}

func (c *Client) GetScores(ctx context.Context) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionGetScores})
}

func (c *Client) GetPeerScore(ctx context.Context, username string) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionGetPeerScore, TargetUsername: username})
}

func (c *Client) GetActivePeers(ctx context.Context, username string, port int) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionGetActivePeers, Username: username, Port: port})
}

func (c *Client) CreateRoom(ctx context.Context, username string, port int, roomName string) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionCreateRoom, Username: username, Port: port, RoomName: roomName})
}

func (c *Client) ListRooms(ctx context.Context) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionListRooms})
}

func (c *Client) DeleteRoom(ctx context.Context, username, roomName string) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionDeleteRoom, Username: username, RoomName: roomName})
}

func (c *Client) RoomEvent(ctx context.Context, username, roomName, event string) (wire.Response, error) {
	return c.call(ctx, wire.Request{Action: wire.ActionRoomMemberUpdate, Username: username, RoomName: roomName, Event: event})
}
