package realtime

import (
	"log/slog"
	"sync"

	v1 "wren/contracts/realtime/v1"
)

// Router manages chat-scoped broadcast groups.
//
// Rooms are purely transient: membership is rebuilt from Join calls and a
// room exists only while it has members. Personal rooms (keyed by user id)
// and chat rooms (keyed by chat id) are the same primitive in different id
// namespaces. The Router is mechanism, not policy: whether a user may join
// a chat is decided by the caller before Join.
//
// Lock order when an operation touches both tables: Registry before Router.
type Router struct {
	log *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[string]*Client  // roomID -> sessionID -> client
	joined map[string]map[string]struct{} // sessionID -> set of roomIDs
}

// NewRouter constructs an empty room Router.
func NewRouter(log *slog.Logger) *Router {
	return &Router{
		log:    log,
		rooms:  make(map[string]map[string]*Client),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds the client to a room. Idempotent: joining twice has no
// additional effect. There is no membership cap.
func (rt *Router) Join(roomID string, client *Client) {
	if rt == nil || roomID == "" || client == nil || client.SessionID == "" {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	room := rt.rooms[roomID]
	if room == nil {
		room = make(map[string]*Client)
		rt.rooms[roomID] = room
	}
	if _, ok := room[client.SessionID]; ok {
		return
	}
	room[client.SessionID] = client

	set := rt.joined[client.SessionID]
	if set == nil {
		set = make(map[string]struct{})
		rt.joined[client.SessionID] = set
	}
	set[roomID] = struct{}{}

	rt.log.Info("room.join", "room_id", roomID, "session_id", client.SessionID, "members", len(room))
}

// Leave removes the session from one room.
func (rt *Router) Leave(roomID, sessionID string) {
	if rt == nil || roomID == "" || sessionID == "" {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.leaveLocked(roomID, sessionID)
}

// LeaveAll removes the session from every room it joined.
// Called on disconnect; unknown sessions are a no-op.
func (rt *Router) LeaveAll(sessionID string) {
	if rt == nil || sessionID == "" {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	for roomID := range rt.joined[sessionID] {
		rt.leaveLocked(roomID, sessionID)
	}
}

func (rt *Router) leaveLocked(roomID, sessionID string) {
	room := rt.rooms[roomID]
	if _, ok := room[sessionID]; !ok {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(rt.rooms, roomID)
	}

	set := rt.joined[sessionID]
	delete(set, roomID)
	if len(set) == 0 {
		delete(rt.joined, sessionID)
	}

	rt.log.Info("room.leave", "room_id", roomID, "session_id", sessionID)
}

// Members returns the number of sessions currently in a room.
func (rt *Router) Members(roomID string) int {
	if rt == nil || roomID == "" {
		return 0
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.rooms[roomID])
}

// Broadcast fans an envelope out to every current member of the room except
// the excluded sessions. The membership snapshot is taken once under the
// read lock; delivery is best-effort and non-blocking, so a member whose
// transport is already dead or whose queue is full is silently skipped.
func (rt *Router) Broadcast(roomID string, env v1.Envelope, exclude ...string) {
	if rt == nil || roomID == "" {
		return
	}

	var skip map[string]struct{}
	if len(exclude) > 0 {
		skip = make(map[string]struct{}, len(exclude))
		for _, s := range exclude {
			skip[s] = struct{}{}
		}
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for sessionID, cl := range rt.rooms[roomID] {
		if _, ok := skip[sessionID]; ok {
			continue
		}
		if cl.TrySend(env) {
			broadcastDelivered.WithLabelValues(env.Type).Inc()
		} else {
			broadcastDropped.WithLabelValues(env.Type).Inc()
		}
	}
}
