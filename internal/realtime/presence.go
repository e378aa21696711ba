package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "wren/contracts/realtime/v1"
)

// Registry is the single source of truth for who is online.
//
// It keeps two indices that are always mutually consistent under mu:
// userID -> set of live clients, and sessionID -> owning userID.
// A user is online iff their client set is non-empty; status edges
// (offline->online, online->offline) are broadcast to every registered
// connection, because presence is global rather than room-scoped.
type Registry struct {
	log *slog.Logger

	mu        sync.Mutex
	byUser    map[string]map[string]*Client // userID -> sessionID -> client
	bySession map[string]string             // sessionID -> userID
}

// NewRegistry constructs an empty presence Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:       log,
		byUser:    make(map[string]map[string]*Client),
		bySession: make(map[string]string),
	}
}

// Register adds a client handle to the user's connection set.
// The first handle for a user transitions them offline->online and
// broadcasts the status edge to every registered connection.
func (r *Registry) Register(userID string, client *Client) {
	if r == nil || userID == "" || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byUser[userID]
	first := len(set) == 0
	if set == nil {
		set = make(map[string]*Client)
		r.byUser[userID] = set
	}
	set[client.SessionID] = client
	r.bySession[client.SessionID] = userID

	r.log.Info("presence.register", "user_id", userID, "session_id", client.SessionID, "handles", len(set))

	if first {
		r.emitStatusLocked(userID, v1.StatusOnline)
	}
}

// Deregister removes a handle by session id. Unknown handles are a no-op:
// disconnects may race an already-cleaned-up state. Removing a user's last
// handle transitions them online->offline and broadcasts the edge.
func (r *Registry) Deregister(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	delete(r.bySession, sessionID)

	set := r.byUser[userID]
	delete(set, sessionID)

	r.log.Info("presence.deregister", "user_id", userID, "session_id", sessionID, "handles", len(set))

	if len(set) == 0 {
		delete(r.byUser, userID)
		r.emitStatusLocked(userID, v1.StatusOffline)
	}
}

// StatusOf returns "online" or "offline"; unknown users are offline, never an error.
func (r *Registry) StatusOf(userID string) string {
	if r == nil || userID == "" {
		return v1.StatusOffline
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byUser[userID]) > 0 {
		return v1.StatusOnline
	}
	return v1.StatusOffline
}

// UserOf returns the user id owning a session id, if any.
func (r *Registry) UserOf(sessionID string) (string, bool) {
	if r == nil || sessionID == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.bySession[sessionID]
	return userID, ok
}

// emitStatusLocked fans a status edge out to every registered connection.
// Callers must hold mu; delivery is non-blocking so holding the lock keeps
// edge emission linearizable without risking a stall.
func (r *Registry) emitStatusLocked(userID, status string) {
	payload, _ := json.Marshal(v1.UserStatusUpdatePayload{UserID: userID, Status: status})

	id, _ := NewEnvelopeID(time.Now().UTC())
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeUserStatusUpdate,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: payload,
	}

	for _, set := range r.byUser {
		for _, cl := range set {
			if !cl.TrySend(env) {
				presenceDropped.Inc()
			}
		}
	}

	r.log.Info("presence.status", "user_id", userID, "status", status)
}
