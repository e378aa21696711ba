package chat

import (
	"context"
	"errors"
	"testing"
)

func seedUsers(t *testing.T, s *MemoryStore, names ...string) []User {
	t.Helper()
	out := make([]User, 0, len(names))
	for _, n := range names {
		u, err := s.CreateUser(context.Background(), n, "", "hash-"+n)
		if err != nil {
			t.Fatalf("CreateUser(%s): %v", n, err)
		}
		out = append(out, u)
	}
	return out
}

func TestMemoryStore_CreateUser_DuplicateName(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "Alice", "", "h"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice", "", "h"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists for case-insensitive duplicate, got %v", err)
	}
}

func TestMemoryStore_UserLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice")

	got, err := s.UserByID(ctx, users[0].ID)
	if err != nil || got.Name != "alice" {
		t.Fatalf("UserByID: %v %+v", err, got)
	}

	got, err = s.UserByName(ctx, "ALICE")
	if err != nil || got.ID != users[0].ID {
		t.Fatalf("UserByName should be case-insensitive: %v %+v", err, got)
	}

	if _, err := s.UserByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListUsersExcludesCaller(t *testing.T) {
	s := NewMemoryStore()
	users := seedUsers(t, s, "alice", "bob", "carol")

	got, err := s.ListUsers(context.Background(), users[0].ID)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	for _, u := range got {
		if u.ID == users[0].ID {
			t.Fatalf("caller not excluded")
		}
	}
}

func TestMemoryStore_FindOrCreateDirectChat(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")

	c1, created, err := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)
	if err != nil || !created {
		t.Fatalf("first call should create: %v created=%v", err, created)
	}
	if len(c1.Users) != 2 {
		t.Fatalf("expected exactly two members, got %d", len(c1.Users))
	}

	// Same pair in reverse order resolves to the same chat.
	c2, created, err := s.FindOrCreateDirectChat(ctx, users[1].ID, users[0].ID)
	if err != nil || created {
		t.Fatalf("second call should find: %v created=%v", err, created)
	}
	if c2.ID != c1.ID {
		t.Fatalf("expected same chat id, got %s vs %s", c2.ID, c1.ID)
	}
}

func TestMemoryStore_FindOrCreateDirectChat_Rejections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice")

	if _, _, err := s.FindOrCreateDirectChat(ctx, users[0].ID, users[0].ID); !errors.Is(err, ErrSameUser) {
		t.Fatalf("expected ErrSameUser, got %v", err)
	}
	if _, _, err := s.FindOrCreateDirectChat(ctx, users[0].ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.FindOrCreateDirectChat(ctx, "", users[0].ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMemoryStore_CreateMessage_SeedsSenderRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	c, _, err := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)
	if err != nil {
		t.Fatalf("FindOrCreateDirectChat: %v", err)
	}

	m, err := s.CreateMessage(ctx, users[0].ID, c.ID, "hello")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if len(m.ReadBy) != 1 || m.ReadBy[0] != users[0].ID {
		t.Fatalf("expected readBy=[sender], got %v", m.ReadBy)
	}
	if m.Sender.ID != users[0].ID {
		t.Fatalf("expected sender populated, got %+v", m.Sender)
	}
}

func TestMemoryStore_CreateMessage_Rejections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	c, _, err := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)
	if err != nil {
		t.Fatalf("FindOrCreateDirectChat: %v", err)
	}

	if _, err := s.CreateMessage(ctx, users[0].ID, c.ID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank content, got %v", err)
	}
	if _, err := s.CreateMessage(ctx, "ghost", c.ID, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown sender, got %v", err)
	}
	if _, err := s.CreateMessage(ctx, users[0].ID, "ghost", "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
	}
}

func TestMemoryStore_AppendReader_SetInsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	c, _, _ := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)
	m, err := s.CreateMessage(ctx, users[0].ID, c.ID, "hello")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := s.AppendReader(ctx, m.ID, users[1].ID)
	if err != nil {
		t.Fatalf("AppendReader: %v", err)
	}
	if len(got.ReadBy) != 2 || got.ReadBy[0] != users[0].ID || got.ReadBy[1] != users[1].ID {
		t.Fatalf("expected insertion order [sender, reader], got %v", got.ReadBy)
	}

	// Duplicate marks never grow the set.
	got, err = s.AppendReader(ctx, m.ID, users[1].ID)
	if err != nil {
		t.Fatalf("AppendReader duplicate: %v", err)
	}
	if len(got.ReadBy) != 2 {
		t.Fatalf("duplicate reader grew readBy: %v", got.ReadBy)
	}

	// Sender re-marking is also a no-op.
	got, err = s.AppendReader(ctx, m.ID, users[0].ID)
	if err != nil {
		t.Fatalf("AppendReader sender: %v", err)
	}
	if len(got.ReadBy) != 2 {
		t.Fatalf("sender re-mark grew readBy: %v", got.ReadBy)
	}
}

func TestMemoryStore_ListMessages_CreationOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	c, _, _ := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		m, err := s.CreateMessage(ctx, users[0].ID, c.ID, content)
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}

	got, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.ID != ids[i] {
			t.Fatalf("order mismatch at %d: %s vs %s", i, m.ID, ids[i])
		}
	}
}

func TestMemoryStore_SetLatestMessage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")
	c, _, _ := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)
	m, _ := s.CreateMessage(ctx, users[0].ID, c.ID, "hello")

	if err := s.SetLatestMessage(ctx, c.ID, m.ID); err != nil {
		t.Fatalf("SetLatestMessage: %v", err)
	}

	got, err := s.ChatByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("ChatByID: %v", err)
	}
	if got.LatestMessage == nil || got.LatestMessage.ID != m.ID {
		t.Fatalf("latest message not set: %+v", got.LatestMessage)
	}

	if err := s.SetLatestMessage(ctx, c.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ChatsForUser_RecentFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "carol")

	c1, _, _ := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)
	c2, _, _ := s.FindOrCreateDirectChat(ctx, users[0].ID, users[2].ID)

	// Activity in c1 bumps it above c2.
	m, _ := s.CreateMessage(ctx, users[0].ID, c1.ID, "ping")
	if err := s.SetLatestMessage(ctx, c1.ID, m.ID); err != nil {
		t.Fatalf("SetLatestMessage: %v", err)
	}

	got, err := s.ChatsForUser(ctx, users[0].ID)
	if err != nil {
		t.Fatalf("ChatsForUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(got))
	}
	if got[0].ID != c1.ID || got[1].ID != c2.ID {
		t.Fatalf("expected most recent first, got %s,%s", got[0].ID, got[1].ID)
	}

	// Bob sees only his one chat.
	bobChats, err := s.ChatsForUser(ctx, users[1].ID)
	if err != nil || len(bobChats) != 1 {
		t.Fatalf("ChatsForUser(bob): %v %d", err, len(bobChats))
	}
}

func TestMemoryStore_IsMember(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob", "eve")
	c, _, _ := s.FindOrCreateDirectChat(ctx, users[0].ID, users[1].ID)

	cases := []struct {
		userID, chatID string
		want           bool
	}{
		{users[0].ID, c.ID, true},
		{users[1].ID, c.ID, true},
		{users[2].ID, c.ID, false},
		{users[0].ID, "ghost", false},
		{"", c.ID, false},
	}
	for _, tc := range cases {
		got, err := s.IsMember(ctx, tc.userID, tc.chatID)
		if err != nil {
			t.Fatalf("IsMember(%s,%s): %v", tc.userID, tc.chatID, err)
		}
		if got != tc.want {
			t.Fatalf("IsMember(%s,%s)=%v want %v", tc.userID, tc.chatID, got, tc.want)
		}
	}
}

func TestMemoryStore_UpdateUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	users := seedUsers(t, s, "alice", "bob")

	got, err := s.UpdateUser(ctx, users[0].ID, "alicia", "a.png")
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if got.Name != "alicia" || got.Avatar != "a.png" {
		t.Fatalf("update not applied: %+v", got)
	}

	// Renaming onto another user's name is rejected.
	if _, err := s.UpdateUser(ctx, users[0].ID, "BOB", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	// Old name is released after rename.
	if _, err := s.UserByName(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old name released, got %v", err)
	}
}
