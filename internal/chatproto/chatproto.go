// Package chatproto defines the hand-off point between the peer service
// endpoint and the 1:1/group chat session logic. Session logic itself is
// an external collaborator not respecified here; this package only owns
// the protocol hook and a default stub so the peer endpoint has something
// to call until a real chat implementation is wired in.
package chatproto

import (
	"net"

	"go.uber.org/zap"
)

// Handler takes ownership of a live connection handed off by the peer
// service endpoint. The accept goroutine that received initiate_chat or
// join_room stops referencing conn once it calls into Handler.
type Handler interface {
	HandleChat(conn net.Conn, fromUser string)
	HandleJoinRoom(conn net.Conn, roomName, username string)
}

// NoopHandler accepts the hand-off and closes the connection. It exists so
// the peer service endpoint always has a non-nil Handler to call even when
// no chat implementation is configured.
type NoopHandler struct {
	Log *zap.Logger
}

func (h NoopHandler) HandleChat(conn net.Conn, fromUser string) {
	defer conn.Close()
	if h.Log != nil {
		h.Log.Debug("chat session hand-off received, no handler configured", zap.String("from_user", fromUser))
	}
}

func (h NoopHandler) HandleJoinRoom(conn net.Conn, roomName, username string) {
	defer conn.Close()
	if h.Log != nil {
		h.Log.Debug("join_room hand-off received, no handler configured",
			zap.String("room_name", roomName), zap.String("username", username))
	}
}
