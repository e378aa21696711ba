package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "wren/contracts/realtime/v1"
)

// MembershipStore defines the authorization boundary for chat membership.
// A nil store disables enforcement (dev mode mirrors the permissive
// behavior of the original service).
type MembershipStore interface {
	// IsMember reports whether userID belongs to chatID.
	IsMember(ctx context.Context, userID, chatID string) (bool, error)
}

// State is a Session's lifecycle phase.
type State uint8

const (
	// StateUnauthenticated is the initial state right after transport connect.
	StateUnauthenticated State = iota
	// StateActive is reached after a valid setup handshake bound a user.
	StateActive
	// StateClosed is terminal; a new connection creates a new Session.
	StateClosed
)

// Session is the per-connection state machine. It owns exactly one
// ConnectionHandle, translates inbound events into Presence/Router/Delivery
// operations, and is the unit of cleanup on disconnect.
//
// Events requiring an authenticated session are silently ignored while
// Unauthenticated (soft-fail, matching unauthenticated-socket reality);
// malformed events are logged and dropped, never fatal to the connection.
type Session struct {
	log      *slog.Logger
	client   *Client
	presence *Registry
	rooms    *Router
	delivery *Delivery
	members  MembershipStore

	mu     sync.Mutex
	state  State
	userID string

	closeOnce sync.Once
}

// NewSession constructs an Unauthenticated session for one client handle.
func NewSession(log *slog.Logger, client *Client, presence *Registry, rooms *Router, delivery *Delivery, members MembershipStore) *Session {
	return &Session{
		log:      log,
		client:   client,
		presence: presence,
		rooms:    rooms,
		delivery: delivery,
		members:  members,
	}
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the bound user id, empty while Unauthenticated.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// HandleSetup binds a user identity to the connection, registers presence,
// auto-joins the user's personal room, and acknowledges the caller only.
// A repeated setup on an Active session is ignored.
func (s *Session) HandleSetup(p v1.SetupPayload) {
	userID := strings.TrimSpace(p.User.ID)
	if userID == "" {
		s.log.Warn("session.setup.malformed", "session_id", s.client.SessionID)
		return
	}

	s.mu.Lock()
	if s.state != StateUnauthenticated {
		s.mu.Unlock()
		s.log.Info("session.setup.ignored", "session_id", s.client.SessionID, "state", uint8(s.state))
		return
	}
	s.state = StateActive
	s.userID = userID
	s.mu.Unlock()

	s.presence.Register(userID, s.client)

	// Every user implicitly owns a personal room keyed by their own id.
	s.rooms.Join(userID, s.client)

	ack, _ := json.Marshal(v1.ConnectedPayload{SessionID: s.client.SessionID})
	s.client.TrySend(NewEnvelope(v1.TypeConnected, ack, time.Now().UTC()))

	s.log.Info("session.active", "session_id", s.client.SessionID, "user_id", userID)
}

// HandleJoinChat joins the chat room after validating chat membership
// against the persistence layer. No-op while Unauthenticated.
func (s *Session) HandleJoinChat(ctx context.Context, p v1.JoinChatPayload) error {
	chatID := strings.TrimSpace(p.ChatID)
	if chatID == "" {
		s.log.Warn("session.join.malformed", "session_id", s.client.SessionID)
		return nil
	}

	userID, ok := s.activeUser()
	if !ok {
		return nil
	}

	if s.members != nil {
		member, err := s.members.IsMember(ctx, userID, chatID)
		if err != nil {
			return err
		}
		if !member {
			s.log.Info("session.join.denied", "session_id", s.client.SessionID, "user_id", userID, "chat_id", chatID)
			return ErrNotChatMember
		}
	}

	s.rooms.Join(chatID, s.client)
	return nil
}

// HandleTyping relays a typing indicator to the chat room, excluding the
// sender's own connection. stop selects stop-typing. No-op while
// Unauthenticated. Typing never touches storage and never blocks.
func (s *Session) HandleTyping(p v1.TypingPayload, stop bool) {
	chatID := strings.TrimSpace(p.ChatID)
	if chatID == "" {
		s.log.Warn("session.typing.malformed", "session_id", s.client.SessionID)
		return
	}
	if _, ok := s.activeUser(); !ok {
		return
	}

	typ := v1.TypeTyping
	if stop {
		typ = v1.TypeStopTyping
	}
	payload, _ := json.Marshal(v1.TypingPayload{ChatID: chatID})
	s.rooms.Broadcast(chatID, NewEnvelope(typ, payload, time.Now().UTC()), s.client.SessionID)
}

// HandleNewMessage hands an already-persisted message to the Delivery
// coordinator for personal-room fan-out. No-op while Unauthenticated.
func (s *Session) HandleNewMessage(msg v1.Message) error {
	if _, ok := s.activeUser(); !ok {
		return nil
	}
	return s.delivery.FanOutMessage(msg)
}

// HandleMessageRead relays a read receipt to the chat room, excluding the
// reader's own connection. No-op while Unauthenticated.
func (s *Session) HandleMessageRead(rr v1.MessageReadPayload) error {
	if _, ok := s.activeUser(); !ok {
		return nil
	}
	return s.delivery.FanOutReadReceipt(rr, s.client.SessionID)
}

// Disconnect runs the full cleanup path exactly once: deregister presence
// (idempotent even if never authenticated), leave all rooms, close the
// client handle. It is the only transition to StateClosed.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		// Lock order discipline: Registry before Router.
		s.presence.Deregister(s.client.SessionID)
		s.rooms.LeaveAll(s.client.SessionID)
		s.client.Close()

		s.log.Info("session.closed", "session_id", s.client.SessionID)
	})
}

func (s *Session) activeUser() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return "", false
	}
	return s.userID, true
}
