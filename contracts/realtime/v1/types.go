// Package v1 defines the Wren Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeSetup starts a session by binding a user identity (client -> server).
	TypeSetup = "setup"
	// TypeConnected acknowledges a successful setup (server -> caller only).
	TypeConnected = "connected"

	// TypeJoinChat joins a chat room (client -> server).
	TypeJoinChat = "join-chat"

	// TypeTyping and TypeStopTyping are relayed to the chat room excluding the sender.
	TypeTyping     = "typing"
	TypeStopTyping = "stop-typing"

	// TypeNewMessage announces an already-persisted message for fan-out (client -> server).
	TypeNewMessage = "new-message"
	// TypeMessageReceived delivers a message to the other chat member (server -> client).
	TypeMessageReceived = "message-received"

	// TypeMessageRead reports a read receipt (client -> server).
	TypeMessageRead = "message-read"
	// TypeMessageReadUpdate fans a read receipt out to the chat room (server -> client).
	TypeMessageReadUpdate = "message-read-update"

	// TypeUserStatusUpdate broadcasts presence edges to every connection (server -> client).
	TypeUserStatusUpdate = "user-status-update"

	// TypeError is a generic diagnostic envelope (server -> client).
	TypeError = "error"
)

// Presence status values carried by TypeUserStatusUpdate.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSetup,
		TypeConnected,
		TypeJoinChat,
		TypeTyping,
		TypeStopTyping,
		TypeNewMessage,
		TypeMessageReceived,
		TypeMessageRead,
		TypeMessageReadUpdate,
		TypeUserStatusUpdate,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Entities carried on the wire ----

// User is the display projection of a user identity.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Chat carries the membership a fan-out decision needs.
// Users must be populated for TypeNewMessage; an empty list is malformed.
type Chat struct {
	ID    string `json:"id"`
	Users []User `json:"users,omitempty"`
}

// Message is the fully-populated persisted message as it travels the wire.
type Message struct {
	ID        string    `json:"id"`
	Chat      Chat      `json:"chat"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ReadBy    []string  `json:"read_by"`
}

// ---- Payloads ----

// SetupPayload binds the connection to a user identity.
type SetupPayload struct {
	User User `json:"user"`
}

// ConnectedPayload acknowledges setup and returns the server session id.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// JoinChatPayload requests membership in a chat room.
type JoinChatPayload struct {
	ChatID string `json:"chat_id"`
}

// TypingPayload identifies the chat a typing indicator belongs to.
// It is used for both TypeTyping and TypeStopTyping.
type TypingPayload struct {
	ChatID string `json:"chat_id"`
}

// MessageReadPayload reports that a reader has seen a message.
type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	ReaderID  string `json:"reader_id"`
}

// MessageReadUpdatePayload fans a single read receipt out to the chat room.
type MessageReadUpdatePayload struct {
	MessageID string `json:"message_id"`
	ReadBy    string `json:"read_by"`
}

// UserStatusUpdatePayload carries a presence edge.
type UserStatusUpdatePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
