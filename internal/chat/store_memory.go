package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the dev/test fallback when no database is configured.
// It honors the same contract as PostgresStore: idempotent AppendReader,
// readBy seeded with the sender, created_at ASC message listing, and the
// two-member direct chat invariant.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*User
	byName  map[string]string // lower(name) -> user id
	chats   map[string]*memChat
	msgs    map[string]*Message
	byChat  map[string][]string // chatID -> ordered message ids
}

type memChat struct {
	id        string
	members   [2]string
	latestMsg string
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*User),
		byName: make(map[string]string),
		chats:  make(map[string]*memChat),
		msgs:   make(map[string]*Message),
		byChat: make(map[string][]string),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, name, avatar, passwordHash string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[strings.ToLower(name)]; ok {
		return User{}, ErrUserExists
	}

	id, err := newID(time.Now().UTC())
	if err != nil {
		return User{}, err
	}
	u := &User{
		ID:           id,
		Name:         name,
		Avatar:       avatar,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[id] = u
	s.byName[strings.ToLower(name)] = id
	return *u, nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *MemoryStore) UserByName(ctx context.Context, name string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return User{}, ErrNotFound
	}
	return *s.users[id], nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, excludeID string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(s.users))
	for id, u := range s.users {
		if id == excludeID {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, id, name, avatar string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if name = strings.TrimSpace(name); name != "" && name != u.Name {
		lower := strings.ToLower(name)
		if other, exists := s.byName[lower]; exists && other != id {
			return User{}, ErrUserExists
		}
		delete(s.byName, strings.ToLower(u.Name))
		s.byName[lower] = id
		u.Name = name
	}
	if avatar != "" {
		u.Avatar = avatar
	}
	return *u, nil
}

func (s *MemoryStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (Chat, bool, error) {
	if userA == "" || userB == "" {
		return Chat{}, false, ErrInvalidInput
	}
	if userA == userB {
		return Chat{}, false, ErrSameUser
	}
	if err := ctx.Err(); err != nil {
		return Chat{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userA]; !ok {
		return Chat{}, false, ErrNotFound
	}
	if _, ok := s.users[userB]; !ok {
		return Chat{}, false, ErrNotFound
	}

	for _, c := range s.chats {
		if (c.members[0] == userA && c.members[1] == userB) ||
			(c.members[0] == userB && c.members[1] == userA) {
			return s.chatViewLocked(c), false, nil
		}
	}

	id, err := newID(time.Now().UTC())
	if err != nil {
		return Chat{}, false, err
	}
	now := time.Now().UTC()
	c := &memChat{id: id, members: [2]string{userA, userB}, createdAt: now, updatedAt: now}
	s.chats[id] = c
	return s.chatViewLocked(c), true, nil
}

func (s *MemoryStore) ChatByID(ctx context.Context, id string) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return s.chatViewLocked(c), nil
}

func (s *MemoryStore) ChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Chat, 0, 4)
	for _, c := range s.chats {
		if c.members[0] == userID || c.members[1] == userID {
			out = append(out, s.chatViewLocked(c))
		}
	}
	// Most recently active first, matching the chat list ordering of the API.
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) ChatUsers(ctx context.Context, chatID string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.membersLocked(c), nil
}

func (s *MemoryStore) SetLatestMessage(ctx context.Context, chatID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.msgs[messageID]; !ok {
		return ErrNotFound
	}
	c.latestMsg = messageID
	c.updatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	if userID == "" || chatID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	return c.members[0] == userID || c.members[1] == userID, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, senderID, chatID, content string) (Message, error) {
	if senderID == "" || chatID == "" || strings.TrimSpace(content) == "" {
		return Message{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.users[senderID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if _, ok := s.chats[chatID]; !ok {
		return Message{}, ErrNotFound
	}

	id, err := newID(time.Now().UTC())
	if err != nil {
		return Message{}, err
	}
	m := &Message{
		ID:        id,
		ChatID:    chatID,
		Sender:    *sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		ReadBy:    []string{senderID}, // sender has read their own message
	}
	s.msgs[id] = m
	s.byChat[chatID] = append(s.byChat[chatID], id)
	return s.messageCopyLocked(m), nil
}

func (s *MemoryStore) AppendReader(ctx context.Context, messageID, readerID string) (Message, error) {
	if messageID == "" || readerID == "" {
		return Message{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	for _, r := range m.ReadBy {
		if r == readerID {
			return s.messageCopyLocked(m), nil
		}
	}
	m.ReadBy = append(m.ReadBy, readerID)
	return s.messageCopyLocked(m), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	if chatID == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byChat[chatID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messageCopyLocked(s.msgs[id]))
	}
	return out, nil
}

// ---- locked helpers ----

func (s *MemoryStore) membersLocked(c *memChat) []User {
	out := make([]User, 0, 2)
	for _, id := range c.members {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}

func (s *MemoryStore) chatViewLocked(c *memChat) Chat {
	view := Chat{
		ID:        c.id,
		Users:     s.membersLocked(c),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	if c.latestMsg != "" {
		if m, ok := s.msgs[c.latestMsg]; ok {
			cp := s.messageCopyLocked(m)
			view.LatestMessage = &cp
		}
	}
	return view
}

func (s *MemoryStore) messageCopyLocked(m *Message) Message {
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	return cp
}
