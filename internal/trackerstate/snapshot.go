package trackerstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// snapshotUser/snapshotScore/snapshotRoom are the JSON shapes persisted to
// disk; they are decoupled from the in-memory types so the on-disk format
// can evolve independently of field names used internally.
type snapshotUser struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

type snapshotScore struct {
	Username      string `json:"username"`
	Uploads       int64  `json:"uploads"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type snapshotRoom struct {
	RoomName  string   `json:"room_name"`
	Moderator string   `json:"moderator"`
	Address   string   `json:"address"`
	Members   []string `json:"members"`
}

type snapshotDocument struct {
	Users  []snapshotUser  `json:"users"`
	Scores []snapshotScore `json:"scores"`
	Rooms  []snapshotRoom  `json:"rooms"`
}

// SnapshotStore owns the primary snapshot path (and an optional seed path
// copied in on first boot) and serializes writes with its own mutex, kept
// separate from the Registry's index locks so a slow disk write never
// blocks a handler holding an index lock past its reply.
type SnapshotStore struct {
	mu          sync.Mutex
	log         *zap.Logger
	primaryPath string
	seedPath    string
}

// NewSnapshotStore configures the primary and (optional) seed snapshot
// paths. seedPath may be empty.
func NewSnapshotStore(log *zap.Logger, primaryPath, seedPath string) *SnapshotStore {
	return &SnapshotStore{log: log, primaryPath: primaryPath, seedPath: seedPath}
}

// Load populates r from disk: the primary snapshot if present and
// non-empty, else the seed snapshot (which is then persisted as the
// primary). Every room loaded this way is marked Old, since its
// moderator's peer is not currently live. Scores have score/tier
// recomputed from the loaded counters rather than trusted verbatim, so a
// formula change takes effect without a migration step.
func (r *Registry) Load() error {
	if r.snapshot == nil {
		return nil
	}

	doc, fromSeed, err := r.snapshot.read()
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	r.usersMu.Lock()
	for _, u := range doc.Users {
		r.users[u.Username] = &User{Username: u.Username, PasswordHash: u.PasswordHash}
	}
	r.usersMu.Unlock()

	r.scoresMu.Lock()
	for _, s := range doc.Scores {
		score := &Score{Username: s.Username, Uploads: s.Uploads, UptimeSeconds: s.UptimeSeconds}
		score.recompute()
		r.scores[s.Username] = score
	}
	r.scoresMu.Unlock()

	r.roomsMu.Lock()
	for _, rm := range doc.Rooms {
		r.rooms[rm.RoomName] = &Room{
			RoomName:  rm.RoomName,
			Moderator: rm.Moderator,
			Address:   rm.Address,
			Members:   append([]string(nil), rm.Members...),
			Old:       true,
		}
	}
	r.roomsMu.Unlock()

	if fromSeed {
		r.persist()
	}
	return nil
}

// persist snapshots users/scores/rooms and write-then-renames them into
// the primary path. A PersistenceError is logged and swallowed: in-memory
// state stays authoritative until the process exits (spec.md §7).
func (r *Registry) persist() {
	if r.snapshot == nil {
		return
	}

	r.usersMu.RLock()
	users := make([]snapshotUser, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, snapshotUser{Username: u.Username, PasswordHash: u.PasswordHash})
	}
	r.usersMu.RUnlock()

	r.scoresMu.RLock()
	scores := make([]snapshotScore, 0, len(r.scores))
	for _, s := range r.scores {
		scores = append(scores, snapshotScore{Username: s.Username, Uploads: s.Uploads, UptimeSeconds: s.UptimeSeconds})
	}
	r.scoresMu.RUnlock()

	r.roomsMu.RLock()
	rooms := make([]snapshotRoom, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, snapshotRoom{
			RoomName:  rm.RoomName,
			Moderator: rm.Moderator,
			Address:   rm.Address,
			Members:   append([]string(nil), rm.Members...),
		})
	}
	r.roomsMu.RUnlock()

	doc := snapshotDocument{Users: users, Scores: scores, Rooms: rooms}
	if err := r.snapshot.write(doc); err != nil {
		if r.log != nil {
			r.log.Warn("snapshot persistence failed, continuing with in-memory state", zap.Error(err))
		}
		if r.metrics != nil {
			r.metrics.SnapshotErrors.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.SnapshotWrites.Inc()
	}
}

// read loads the primary snapshot, falling back to the seed snapshot. It
// returns (nil, false, nil) if neither exists yet.
func (s *SnapshotStore) read() (*snapshotDocument, bool, error) {
	if doc, err := readDocument(s.primaryPath); err == nil {
		return doc, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	if s.seedPath == "" {
		return nil, false, nil
	}
	doc, err := readDocument(s.seedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc, true, nil
}

func readDocument(path string) (*snapshotDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, os.ErrNotExist
	}
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("trackerstate: parse snapshot %s: %w", path, err)
	}
	return &doc, nil
}

// write replaces the primary snapshot via write-then-rename, so a process
// killed mid-write never leaves a truncated primary file (spec.md §9).
func (s *SnapshotStore) write(doc snapshotDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("trackerstate: marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.primaryPath)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("trackerstate: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("trackerstate: write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("trackerstate: sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("trackerstate: close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.primaryPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("trackerstate: rename snapshot into place: %w", err)
	}
	return nil
}
