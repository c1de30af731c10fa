package chat

import (
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var roomTopicPattern = regexp.MustCompile(`^/sub/chat/room/(\d+)$`)

// RoomFromDestination extracts the room id from a room-topic destination.
func RoomFromDestination(dest string) (int64, bool) {
	m := roomTopicPattern.FindStringSubmatch(dest)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type connState struct {
	userID     int64
	subs       map[string]int64 // destination -> room id
	lastActive time.Time
}

// Registry tracks, per live connection, which room subscriptions are open,
// and per room, which users currently have the room's feed open. It is a
// cache of presence: the durable membership rows stay authoritative for
// "is this user part of this room".
//
// One mutex guards both maps so presence-set shrink and the emptiness
// check stay atomic; an empty set is removed in the same critical section
// that drained it.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*connState
	presence map[int64]map[int64]struct{} // room id -> user ids
	onJoin   func(roomID, userID int64)
	now      func() time.Time
}

// NewRegistry builds a registry. onJoin fires after a successful room
// subscription, outside the registry lock; the caller wires it to the
// message pipeline's mark-read. It may be nil.
func NewRegistry(onJoin func(roomID, userID int64)) *Registry {
	return &Registry{
		conns:    make(map[string]*connState),
		presence: make(map[int64]map[int64]struct{}),
		onJoin:   onJoin,
		now:      time.Now,
	}
}

// Connect allocates an empty subscription set for the connection.
// Idempotent.
func (r *Registry) Connect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = &connState{subs: make(map[string]int64), lastActive: r.now()}
	}
}

// Subscribe records destination->room for the connection and adds the
// user to the room's presence set. A destination outside the room-topic
// pattern, or a subscribe without an authenticated user, is logged and
// ignored; the transport owns surfacing auth failures.
func (r *Registry) Subscribe(connID, dest string, userID int64) (int64, bool) {
	if userID == 0 {
		slog.Warn("subscribe without authenticated user ignored", "conn_id", connID, "destination", dest)
		return 0, false
	}
	roomID, ok := RoomFromDestination(dest)
	if !ok {
		slog.Warn("subscribe to unrecognized destination ignored", "conn_id", connID, "destination", dest)
		return 0, false
	}

	r.mu.Lock()
	c, exists := r.conns[connID]
	if !exists {
		c = &connState{subs: make(map[string]int64)}
		r.conns[connID] = c
	}
	c.userID = userID
	c.subs[dest] = roomID
	c.lastActive = r.now()

	set, exists := r.presence[roomID]
	if !exists {
		set = make(map[int64]struct{})
		r.presence[roomID] = set
	}
	set[userID] = struct{}{}
	r.mu.Unlock()

	if r.onJoin != nil {
		r.onJoin(roomID, userID)
	}
	return roomID, true
}

// Unsubscribe drops the destination mapping and the user's presence in
// the room.
func (r *Registry) Unsubscribe(connID, dest string, userID int64) (int64, bool) {
	roomID, ok := RoomFromDestination(dest)
	if !ok {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[connID]
	if !exists {
		return 0, false
	}
	if _, open := c.subs[dest]; !open {
		return 0, false
	}
	delete(c.subs, dest)
	c.lastActive = r.now()
	r.removePresenceLocked(roomID, userID)
	return roomID, true
}

// Disconnect performs the unsubscribe side effects for every destination
// still open on the connection, then drops its entry.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnectLocked(connID)
}

func (r *Registry) disconnectLocked(connID string) {
	c, exists := r.conns[connID]
	if !exists {
		return
	}
	for _, roomID := range c.subs {
		r.removePresenceLocked(roomID, c.userID)
	}
	delete(r.conns, connID)
}

func (r *Registry) removePresenceLocked(roomID, userID int64) {
	set, exists := r.presence[roomID]
	if !exists {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(r.presence, roomID)
	}
}

// Touch refreshes the connection's idle clock. Wired to inbound frames
// and pongs.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.lastActive = r.now()
	}
}

// ActiveUsers returns a copy of the room's presence set.
func (r *Registry) ActiveUsers(roomID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.presence[roomID]
	if !exists {
		return nil
	}
	users := make([]int64, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	return users
}

// Sweep releases connections idle for longer than maxIdle, covering
// disconnect signals lost behind proxies. Returns the number reaped.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for connID, c := range r.conns {
		if c.lastActive.Before(cutoff) {
			stale = append(stale, connID)
		}
	}
	for _, connID := range stale {
		r.disconnectLocked(connID)
	}
	return len(stale)
}

// Connections reports the live connection count, for the sweep log line.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
