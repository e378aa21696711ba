// Package chat is the persistence gateway: durable Users, Chats and Messages
// behind a store-agnostic contract. The realtime tier never caches these
// records beyond the current request or connection.
package chat

import (
	"context"
	"time"

	v1 "wren/contracts/realtime/v1"
)

// User is a durable user record. PasswordHash never leaves the package
// boundary except to the auth layer.
type User struct {
	ID           string
	Name         string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
}

// Wire returns the display projection used on the realtime wire.
func (u User) Wire() v1.User {
	return v1.User{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// Chat is a durable 1:1 chat: exactly two members, created lazily when two
// users first message, with a nullable latest-message reference.
type Chat struct {
	ID            string
	Users         []User
	LatestMessage *Message
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is a durable message. ReadBy is unique and keeps insertion order
// (read order); the sender is always a member of ReadBy from creation, and
// ReadBy only ever grows.
type Message struct {
	ID        string
	ChatID    string
	Sender    User
	Content   string
	CreatedAt time.Time
	ReadBy    []string
}

// Wire returns the fully-populated wire form, embedding the chat membership
// the delivery fan-out needs.
func (m Message) Wire(chatUsers []User) v1.Message {
	users := make([]v1.User, 0, len(chatUsers))
	for _, u := range chatUsers {
		users = append(users, u.Wire())
	}
	return v1.Message{
		ID:        m.ID,
		Chat:      v1.Chat{ID: m.ChatID, Users: users},
		Sender:    m.Sender.Wire(),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		ReadBy:    append([]string(nil), m.ReadBy...),
	}
}

// Store persists users, chats and messages.
//
// Requirements:
//   - CreateMessage sets ReadBy = [senderID]
//   - AppendReader is a set-insert: duplicate marks are no-ops
//   - ListMessages is ordered by created_at ASC
//   - FindOrCreateDirectChat enforces the exactly-two-members invariant
type Store interface {
	CreateUser(ctx context.Context, name, avatar, passwordHash string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserByName(ctx context.Context, name string) (User, error)
	ListUsers(ctx context.Context, excludeID string) ([]User, error)
	UpdateUser(ctx context.Context, id, name, avatar string) (User, error)

	FindOrCreateDirectChat(ctx context.Context, userA, userB string) (Chat, bool, error)
	ChatByID(ctx context.Context, id string) (Chat, error)
	ChatsForUser(ctx context.Context, userID string) ([]Chat, error)
	ChatUsers(ctx context.Context, chatID string) ([]User, error)
	SetLatestMessage(ctx context.Context, chatID, messageID string) error

	// IsMember satisfies the realtime tier's membership authorization boundary.
	IsMember(ctx context.Context, userID, chatID string) (bool, error)

	CreateMessage(ctx context.Context, senderID, chatID, content string) (Message, error)
	AppendReader(ctx context.Context, messageID, readerID string) (Message, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)

	Close() error
}
