// Package syncstate is the client-side counterpart of the realtime engine:
// an event-sourced reducer that merges REST-fetched history with live
// envelopes into one ordered, deduplicated message list per chat, plus a
// presence map and per-chat typing flags.
//
// The reducer is deliberately idempotent: there is no delivery-order
// guarantee between a server push and a concurrent REST poll, so duplicate
// message-received envelopes (e.g. a reconnect racing a refetch) must not
// create duplicate visible entries. That idempotence is load-bearing, not
// defensive.
package syncstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	v1 "wren/contracts/realtime/v1"
)

// Emitter sends client-originated events back to the server.
type Emitter interface {
	EmitTyping(chatID string)
	EmitStopTyping(chatID string)
	EmitMessageRead(messageID, chatID, readerID string)
}

// Session holds one client's reconciled view of chats, messages, presence
// and typing state. It is owned by exactly one client; the mutex only
// exists because the local typing timer fires on a separate goroutine.
type Session struct {
	selfID  string
	emitter Emitter

	// Quiet period after which a locally-started typing indicator
	// auto-expires and stop-typing is emitted.
	quiet time.Duration

	mu       sync.Mutex
	selected string
	chats    map[string]*chatView
	presence map[string]string
	typing   map[string]*localTyping
}

type chatView struct {
	messages []v1.Message
	index    map[string]int // message id -> position in messages
	latest   *v1.Message
	peer     bool // peer is typing in this chat
}

// DefaultTypingQuiet is the quiet period before stop-typing auto-fires.
const DefaultTypingQuiet = 3 * time.Second

// NewSession constructs a reducer for the given local user.
// quiet <= 0 selects DefaultTypingQuiet.
func NewSession(selfID string, emitter Emitter, quiet time.Duration) *Session {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	return &Session{
		selfID:   selfID,
		emitter:  emitter,
		quiet:    quiet,
		chats:    make(map[string]*chatView),
		presence: make(map[string]string),
		typing:   make(map[string]*localTyping),
	}
}

// SelectChat makes chatID the active chat and replaces its message sequence
// wholesale with the REST-fetched history, ordered by creation time
// ascending and deduplicated by id.
func (s *Session) SelectChat(chatID string, history []v1.Message) {
	sorted := append([]v1.Message(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	view := &chatView{index: make(map[string]int)}
	for _, m := range sorted {
		if _, ok := view.index[m.ID]; ok {
			continue
		}
		view.index[m.ID] = len(view.messages)
		view.messages = append(view.messages, m)
	}
	if n := len(view.messages); n > 0 {
		last := view.messages[n-1]
		view.latest = &last
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.chats[chatID]; prev != nil {
		view.peer = prev.peer
	}
	s.chats[chatID] = view
	s.selected = chatID
}

// Apply replays one server envelope into the view model.
// Unknown or client-to-server types are rejected; malformed payloads are
// reported, never partially applied.
func (s *Session) Apply(env v1.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	switch env.Type {
	case v1.TypeMessageReceived:
		var msg v1.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return fmt.Errorf("message-received payload: %w", err)
		}
		s.applyMessageReceived(msg)
		return nil

	case v1.TypeMessageReadUpdate:
		var p v1.MessageReadUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("message-read-update payload: %w", err)
		}
		s.applyReadUpdate(p.MessageID, p.ReadBy)
		return nil

	case v1.TypeUserStatusUpdate:
		var p v1.UserStatusUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("user-status-update payload: %w", err)
		}
		s.applyStatus(p.UserID, p.Status)
		return nil

	case v1.TypeTyping, v1.TypeStopTyping:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("typing payload: %w", err)
		}
		s.applyPeerTyping(p.ChatID, env.Type == v1.TypeTyping)
		return nil

	case v1.TypeConnected, v1.TypeError:
		// Informational; nothing to reduce.
		return nil

	default:
		return errors.New("syncstate: not a server-to-client envelope: " + env.Type)
	}
}

func (s *Session) applyMessageReceived(msg v1.Message) {
	if msg.ID == "" || msg.Chat.ID == "" {
		return
	}

	var emitRead bool

	s.mu.Lock()
	view := s.chats[msg.Chat.ID]
	if view == nil {
		view = &chatView{index: make(map[string]int)}
		s.chats[msg.Chat.ID] = view
	}

	if msg.Chat.ID == s.selected {
		// Idempotent merge: duplicate delivery must not duplicate entries.
		if _, ok := view.index[msg.ID]; !ok {
			view.index[msg.ID] = len(view.messages)
			view.messages = append(view.messages, msg)
			emitRead = true
		}
	}

	// Any chat, selected or not, updates its latest-message preview;
	// the full sequence of an unselected chat is lazy-loaded on selection.
	cp := msg
	view.latest = &cp
	s.mu.Unlock()

	// The message is now visibly displayed: acknowledge it as read.
	if emitRead && s.emitter != nil {
		s.emitter.EmitMessageRead(msg.ID, msg.Chat.ID, s.selfID)
	}
}

func (s *Session) applyReadUpdate(messageID, readerID string) {
	if messageID == "" || readerID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, view := range s.chats {
		i, ok := view.index[messageID]
		if !ok {
			continue
		}
		// Set-insert on the client too: the wire payload is not assumed
		// deduplicated, and readBy never regresses.
		m := &view.messages[i]
		for _, r := range m.ReadBy {
			if r == readerID {
				return
			}
		}
		m.ReadBy = append(m.ReadBy, readerID)
		if view.latest != nil && view.latest.ID == messageID {
			cp := *m
			cp.ReadBy = append([]string(nil), m.ReadBy...)
			view.latest = &cp
		}
		return
	}
}

func (s *Session) applyStatus(userID, status string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = status
}

func (s *Session) applyPeerTyping(chatID string, typing bool) {
	if chatID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.chats[chatID]
	if view == nil {
		view = &chatView{index: make(map[string]int)}
		s.chats[chatID] = view
	}
	view.peer = typing
}

// ---- views ----

// Messages returns a copy of the chat's current message sequence.
func (s *Session) Messages(chatID string) []v1.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.chats[chatID]
	if view == nil {
		return nil
	}
	return append([]v1.Message(nil), view.messages...)
}

// LatestMessage returns the chat's latest-message preview, or nil.
func (s *Session) LatestMessage(chatID string) *v1.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.chats[chatID]
	if view == nil || view.latest == nil {
		return nil
	}
	cp := *view.latest
	return &cp
}

// StatusOf returns a user's last observed status; unknown users are offline.
func (s *Session) StatusOf(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.presence[userID]; ok {
		return st
	}
	return v1.StatusOffline
}

// PeerTyping reports whether the other member is typing in the chat.
func (s *Session) PeerTyping(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.chats[chatID]
	return view != nil && view.peer
}

// SelectedChat returns the id of the currently active chat.
func (s *Session) SelectedChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}
