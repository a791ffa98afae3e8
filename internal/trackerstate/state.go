// Package trackerstate holds the tracker's authoritative indices: users,
// active peers, advertised files, reputation scores, and chat rooms. It
// replaces the module-level globals a quick prototype would reach for with
// explicit fields and per-index locks on a single service value, per the
// design note in spec.md §9.
package trackerstate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/filemesh/filemesh/internal/metrics"
	"github.com/filemesh/filemesh/internal/reputation"
	"github.com/filemesh/filemesh/internal/wire"
	"go.uber.org/zap"
)

// PeerKey identifies an active peer by its advertised listening endpoint.
type PeerKey struct {
	IP   string
	Port int
}

// User is an authenticated account. Never deleted once registered.
type User struct {
	Username     string
	PasswordHash string
}

// ActivePeer is a currently logged-in peer endpoint.
type ActivePeer struct {
	Username  string
	LoginTime time.Time
}

// FileRecord is one advertised file and the peers currently hosting it.
type FileRecord struct {
	Filename    string
	Size        int64
	FileHash    string
	ChunkHashes []string
	Peers       map[PeerKey]struct{}
}

// Score is a user's accumulated reputation inputs and derived fields.
type Score struct {
	Username      string
	Uploads       int64
	UptimeSeconds int64
	score         float64
	tier          reputation.Tier
}

func (s *Score) recompute() {
	s.score = reputation.Score(s.Uploads, s.UptimeSeconds)
	s.tier = reputation.TierFor(s.score)
}

// Room is a chat room. Old rooms (loaded from a snapshot, whose moderator
// is not currently live) are hidden from list_rooms.
type Room struct {
	RoomName  string
	Moderator string
	Address   string
	Members   []string
	Old       bool
}

// Registry is the tracker's in-memory state plus the snapshot it persists
// users/scores/rooms to. Each index has its own lock; files_db and
// active_peers are session-lived and never persisted.
type Registry struct {
	log *zap.Logger

	usersMu sync.RWMutex
	users   map[string]*User

	peersMu sync.RWMutex
	peers   map[PeerKey]*ActivePeer

	filesMu sync.RWMutex
	files   map[string]*FileRecord

	scoresMu sync.RWMutex
	scores   map[string]*Score

	roomsMu sync.RWMutex
	rooms   map[string]*Room

	snapshot *SnapshotStore
	metrics  *metrics.Tracker
}

// New creates an empty Registry backed by the given snapshot store. m is
// optional; when set, ActivePeers/AnnouncedFiles are kept current on every
// Login/Logout/Announce and SnapshotWrites/SnapshotErrors on every persist.
func New(log *zap.Logger, snapshot *SnapshotStore, m *metrics.Tracker) *Registry {
	return &Registry{
		log:      log,
		users:    make(map[string]*User),
		peers:    make(map[PeerKey]*ActivePeer),
		files:    make(map[string]*FileRecord),
		scores:   make(map[string]*Score),
		rooms:    make(map[string]*Room),
		snapshot: snapshot,
		metrics:  m,
	}
}

// HashPassword returns the hex SHA-256 of a UTF-8 password, the form
// stored on User.PasswordHash.
func HashPassword(password string) string {
	h := sha256.Sum256([]byte(password))
	return hex.EncodeToString(h[:])
}

var (
	ErrUserExists       = errors.New("username already registered")
	ErrUnknownUser      = errors.New("unknown username")
	ErrBadPassword      = errors.New("incorrect password")
	ErrNotLoggedIn      = errors.New("action requires an active session")
	ErrRoomExists       = errors.New("room already exists")
	ErrUnknownRoom      = errors.New("unknown room")
	ErrNotModerator     = errors.New("only the moderator may perform this action")
)

// Register creates a new user if the username is free and seeds its
// score row. Returns ErrUserExists if already registered.
func (r *Registry) Register(username, password string) error {
	r.usersMu.Lock()
	if _, exists := r.users[username]; exists {
		r.usersMu.Unlock()
		return ErrUserExists
	}
	r.users[username] = &User{Username: username, PasswordHash: HashPassword(password)}
	r.usersMu.Unlock()

	r.ensureScore(username)
	r.persist()
	return nil
}

// Authenticate checks username/password against the registry.
func (r *Registry) Authenticate(username, password string) error {
	r.usersMu.RLock()
	u, exists := r.users[username]
	r.usersMu.RUnlock()
	if !exists {
		return ErrUnknownUser
	}
	if u.PasswordHash != HashPassword(password) {
		return ErrBadPassword
	}
	return nil
}

// Login authenticates username/password and registers (ip, port) as its
// active peer key, replacing any prior key the same user held.
func (r *Registry) Login(username, password, ip string, port int) error {
	if err := r.Authenticate(username, password); err != nil {
		return err
	}

	r.peersMu.Lock()
	for key, ap := range r.peers {
		if ap.Username == username {
			delete(r.peers, key)
		}
	}
	r.peers[PeerKey{IP: ip, Port: port}] = &ActivePeer{Username: username, LoginTime: time.Now()}
	count := len(r.peers)
	r.peersMu.Unlock()

	r.ensureScore(username)
	r.setActivePeerGauge(count)
	return nil
}

func (r *Registry) setActivePeerGauge(count int) {
	if r.metrics != nil {
		r.metrics.ActivePeers.Set(float64(count))
	}
}

func (r *Registry) setAnnouncedFilesGauge(count int) {
	if r.metrics != nil {
		r.metrics.AnnouncedFiles.Set(float64(count))
	}
}

// IsActive reports whether (ip, port) is currently logged in as username.
func (r *Registry) IsActive(ip string, port int, username string) bool {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	ap, ok := r.peers[PeerKey{IP: ip, Port: port}]
	return ok && ap.Username == username
}

// IsActiveUsername reports whether username holds any active session,
// regardless of which (ip, port) it logged in under. Used by actions whose
// wire request carries no port (delete_room, room_member_update per
// spec.md §4.4's input-key table) — a user holds at most one active key at
// a time, so identity alone is sufficient to authorize these.
func (r *Registry) IsActiveUsername(username string) bool {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	for _, ap := range r.peers {
		if ap.Username == username {
			return true
		}
	}
	return false
}

// Logout removes the active peer entry, folds its session duration into
// the user's uptime, removes the peer from every file's peer set, and
// persists the resulting score change.
func (r *Registry) Logout(ip string, port int, username string) error {
	key := PeerKey{IP: ip, Port: port}

	r.peersMu.Lock()
	ap, ok := r.peers[key]
	if !ok || ap.Username != username {
		r.peersMu.Unlock()
		return ErrNotLoggedIn
	}
	delete(r.peers, key)
	sessionSeconds := int64(time.Since(ap.LoginTime).Seconds())
	count := len(r.peers)
	r.peersMu.Unlock()

	r.setActivePeerGauge(count)
	r.addUptime(username, sessionSeconds)

	r.filesMu.Lock()
	for _, fr := range r.files {
		delete(fr.Peers, key)
	}
	r.filesMu.Unlock()

	r.persist()
	return nil
}

// Announce upserts a file's record (first announce wins on conflicting
// metadata, per spec.md §9) and adds (ip, port) to its peer set. Requires
// an active session for (ip, port, username).
func (r *Registry) Announce(ip string, port int, username string, files []wire.AnnouncedFile) error {
	if !r.IsActive(ip, port, username) {
		return ErrNotLoggedIn
	}

	key := PeerKey{IP: ip, Port: port}

	r.filesMu.Lock()
	for _, f := range files {
		fr, exists := r.files[f.Filename]
		if !exists {
			fr = &FileRecord{
				Filename:    f.Filename,
				Size:        f.Size,
				FileHash:    f.FileHash,
				ChunkHashes: append([]string(nil), f.ChunkHashes...),
				Peers:       make(map[PeerKey]struct{}),
			}
			r.files[f.Filename] = fr
		}
		fr.Peers[key] = struct{}{}
	}
	count := len(r.files)
	r.filesMu.Unlock()

	r.setAnnouncedFilesGauge(count)
	return nil
}

// ListFiles builds the per-file reply: peers restricted to currently
// active keys, each enriched with score/tier, sorted by score descending.
func (r *Registry) ListFiles() []wire.FileListing {
	r.filesMu.RLock()
	records := make([]*FileRecord, 0, len(r.files))
	for _, fr := range r.files {
		records = append(records, fr)
	}
	r.filesMu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })

	out := make([]wire.FileListing, 0, len(records))
	for _, fr := range records {
		out = append(out, wire.FileListing{
			Filename:    fr.Filename,
			Size:        fr.Size,
			FileHash:    fr.FileHash,
			ChunkHashes: append([]string(nil), fr.ChunkHashes...),
			Peers:       r.activePeerInfos(fr),
		})
	}
	return out
}

func (r *Registry) activePeerInfos(fr *FileRecord) []wire.PeerInfo {
	r.filesMu.RLock()
	keys := make([]PeerKey, 0, len(fr.Peers))
	for k := range fr.Peers {
		keys = append(keys, k)
	}
	r.filesMu.RUnlock()

	r.peersMu.RLock()
	var infos []wire.PeerInfo
	for _, k := range keys {
		ap, ok := r.peers[k]
		if !ok {
			continue
		}
		score, tier := r.scoreOf(ap.Username)
		infos = append(infos, wire.PeerInfo{
			Peer:  peerAddr(k),
			Score: score,
			Tier:  string(tier),
		})
	}
	r.peersMu.RUnlock()

	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Score > infos[j].Score })
	return infos
}

// ReportUpload increments a user's upload counter and recomputes
// score/tier, then persists.
func (r *Registry) ReportUpload(username string) {
	r.scoresMu.Lock()
	s := r.getOrCreateScoreLocked(username)
	s.Uploads++
	s.recompute()
	r.scoresMu.Unlock()

	r.persist()
}

// GetScores returns the entire score table sorted by score descending.
func (r *Registry) GetScores() []wire.ScoreEntry {
	r.scoresMu.RLock()
	defer r.scoresMu.RUnlock()

	out := make([]wire.ScoreEntry, 0, len(r.scores))
	for _, s := range r.scores {
		out = append(out, wire.ScoreEntry{Username: s.Username, Score: s.score, Tier: string(s.tier)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// GetPeerScore returns (score, tier) for target, defaulting to (0, bronze)
// if unknown.
func (r *Registry) GetPeerScore(target string) (float64, reputation.Tier) {
	return r.scoreOf(target)
}

func (r *Registry) scoreOf(username string) (float64, reputation.Tier) {
	r.scoresMu.RLock()
	defer r.scoresMu.RUnlock()
	s, ok := r.scores[username]
	if !ok {
		return 0, reputation.TierBronze
	}
	return s.score, s.tier
}

// GetActivePeers returns every active peer except the caller's own key.
func (r *Registry) GetActivePeers(excludeIP string, excludePort int) []wire.PeerInfo {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()

	var out []wire.PeerInfo
	for k, ap := range r.peers {
		if k.IP == excludeIP && k.Port == excludePort {
			continue
		}
		score, tier := r.scoreOf(ap.Username)
		out = append(out, wire.PeerInfo{Peer: peerAddr(k), Score: score, Tier: string(tier)})
	}
	return out
}

// CreateRoom creates room_name with the caller as moderator, if the name
// is free. Requires an active session.
func (r *Registry) CreateRoom(ip string, port int, username, roomName, address string) error {
	if !r.IsActive(ip, port, username) {
		return ErrNotLoggedIn
	}

	r.roomsMu.Lock()
	if _, exists := r.rooms[roomName]; exists {
		r.roomsMu.Unlock()
		return ErrRoomExists
	}
	r.rooms[roomName] = &Room{
		RoomName:  roomName,
		Moderator: username,
		Address:   address,
		Members:   []string{username},
	}
	r.roomsMu.Unlock()

	r.persist()
	return nil
}

// ListRooms returns rooms that are not marked old.
func (r *Registry) ListRooms() []wire.RoomListing {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()

	var out []wire.RoomListing
	for _, room := range r.rooms {
		if room.Old {
			continue
		}
		out = append(out, wire.RoomListing{
			RoomName:  room.RoomName,
			Moderator: room.Moderator,
			Address:   room.Address,
			Members:   append([]string(nil), room.Members...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomName < out[j].RoomName })
	return out
}

// DeleteRoom removes room_name iff username is its moderator. Requires an
// active session (the wire request carries no port for this action, so
// identity alone is checked — see IsActiveUsername).
func (r *Registry) DeleteRoom(username, roomName string) error {
	if !r.IsActiveUsername(username) {
		return ErrNotLoggedIn
	}

	r.roomsMu.Lock()
	room, exists := r.rooms[roomName]
	if !exists {
		r.roomsMu.Unlock()
		return ErrUnknownRoom
	}
	if room.Moderator != username {
		r.roomsMu.Unlock()
		return ErrNotModerator
	}
	delete(r.rooms, roomName)
	r.roomsMu.Unlock()

	r.persist()
	return nil
}

// RoomMemberUpdate adds or removes username from room_name's member list.
// Requires an active session (no port in the wire request for this
// action; see IsActiveUsername).
func (r *Registry) RoomMemberUpdate(username, roomName, event string) error {
	if !r.IsActiveUsername(username) {
		return ErrNotLoggedIn
	}

	r.roomsMu.Lock()
	room, exists := r.rooms[roomName]
	if !exists {
		r.roomsMu.Unlock()
		return ErrUnknownRoom
	}

	switch event {
	case "join":
		found := false
		for _, m := range room.Members {
			if m == username {
				found = true
				break
			}
		}
		if !found {
			room.Members = append(room.Members, username)
		}
	case "leave":
		out := room.Members[:0]
		for _, m := range room.Members {
			if m != username {
				out = append(out, m)
			}
		}
		room.Members = out
	default:
		r.roomsMu.Unlock()
		return errors.New("trackerstate: unknown room_member_update event " + event)
	}
	r.roomsMu.Unlock()

	r.persist()
	return nil
}

func (r *Registry) ensureScore(username string) {
	r.scoresMu.Lock()
	r.getOrCreateScoreLocked(username)
	r.scoresMu.Unlock()
}

func (r *Registry) addUptime(username string, seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	r.scoresMu.Lock()
	s := r.getOrCreateScoreLocked(username)
	s.UptimeSeconds += seconds
	s.recompute()
	r.scoresMu.Unlock()
}

func (r *Registry) getOrCreateScoreLocked(username string) *Score {
	s, ok := r.scores[username]
	if !ok {
		s = &Score{Username: username}
		s.recompute()
		r.scores[username] = s
	}
	return s
}

func peerAddr(k PeerKey) string {
	return k.IP + ":" + strconv.Itoa(k.Port)
}
