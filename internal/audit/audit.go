// Package audit provides structured, append-only logging of
// state-changing and transfer events, independent of the tracker's
// authoritative snapshot, adapted from the teacher's audit event
// constructors onto this system's login/announce/upload/download events.
package audit

import (
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventLogin             EventType = "login"
	EventLogout            EventType = "logout"
	EventAnnounce          EventType = "announce"
	EventUploadComplete    EventType = "upload_complete"
	EventDownloadComplete  EventType = "download_complete"
	EventDownloadFailed    EventType = "download_failed"
	EventVerificationFailed EventType = "verification_failed"
	EventPeerBlocked       EventType = "peer_blocked"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	Username string `json:"username,omitempty"`
	Peer     string `json:"peer,omitempty"`

	Filename   string `json:"filename,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
	Size       int64  `json:"size,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	Workers    int    `json:"workers,omitempty"`

	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func NewLoginEvent(username, peer string) Event {
	return Event{Timestamp: time.Now(), EventType: EventLogin, Username: username, Peer: peer}
}

func NewLogoutEvent(username, peer string) Event {
	return Event{Timestamp: time.Now(), EventType: EventLogout, Username: username, Peer: peer}
}

func NewAnnounceEvent(username, filename string, size int64) Event {
	return Event{Timestamp: time.Now(), EventType: EventAnnounce, Username: username, Filename: filename, Size: size}
}

func NewUploadCompleteEvent(username, peer, filename string, chunkIndex int) Event {
	return Event{
		Timestamp:  time.Now(),
		EventType:  EventUploadComplete,
		Username:   username,
		Peer:       peer,
		Filename:   filename,
		ChunkIndex: chunkIndex,
	}
}

func NewDownloadCompleteEvent(filename, fileHash string, size int64, durationMs int64, workers int) Event {
	return Event{
		Timestamp:  time.Now(),
		EventType:  EventDownloadComplete,
		Filename:   filename,
		FileHash:   fileHash,
		Size:       size,
		DurationMs: durationMs,
		Workers:    workers,
	}
}

func NewDownloadFailedEvent(filename, reason string) Event {
	return Event{Timestamp: time.Now(), EventType: EventDownloadFailed, Filename: filename, Reason: reason}
}

func NewVerificationFailedEvent(filename string, chunkIndex int, err string) Event {
	return Event{
		Timestamp:  time.Now(),
		EventType:  EventVerificationFailed,
		Filename:   filename,
		ChunkIndex: chunkIndex,
		Error:      err,
	}
}

func NewPeerBlockedEvent(peer, reason string) Event {
	return Event{Timestamp: time.Now(), EventType: EventPeerBlocked, Peer: peer, Reason: reason}
}
