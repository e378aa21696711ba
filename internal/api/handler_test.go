package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "wren/contracts/realtime/v1"
	"wren/internal/auth"
	"wren/internal/chat"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*httptest.Server, chat.Store) {
	t.Helper()

	tokens, err := auth.NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	store := chat.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, store, tokens, nil)

	mux := http.NewServeMux()
	h.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

type authResult struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

func register(t *testing.T, ts *httptest.Server, name string) authResult {
	t.Helper()
	resp, data := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"name":     name,
		"password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", name, resp.StatusCode, data)
	}
	var out authResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if out.Token == "" || out.User.ID == "" {
		t.Fatalf("incomplete register response: %s", data)
	}
	return out
}

func TestRegisterAndLogin(t *testing.T) {
	ts, _ := newTestServer(t)

	register(t, ts, "alice")

	// Duplicate name rejected.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]string{
		"name": "alice", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register: status %d", resp.StatusCode)
	}

	// Good login.
	resp, data := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"name": "alice", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d: %s", resp.StatusCode, data)
	}

	// Wrong password.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"name": "alice", "password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d", resp.StatusCode)
	}

	// Unknown user and bad password are indistinguishable.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"name": "nobody", "password": "hunter2hunter2",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown login: status %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/users", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/users", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", resp.StatusCode)
	}
}

func TestListUsersExcludesSelf(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := register(t, ts, "alice")
	register(t, ts, "bob")

	resp, data := doJSON(t, http.MethodGet, ts.URL+"/api/users", alice.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list users: status %d: %s", resp.StatusCode, data)
	}
	var users []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 || users[0].Name != "bob" {
		t.Fatalf("expected only bob, got %s", data)
	}
}

func TestChatLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := register(t, ts, "alice")
	bob := register(t, ts, "bob")
	eve := register(t, ts, "eve")

	// Create.
	resp, data := doJSON(t, http.MethodPost, ts.URL+"/api/chats", alice.Token, map[string]string{
		"user_id": bob.User.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat: status %d: %s", resp.StatusCode, data)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.ID == "" {
		t.Fatalf("decode chat: %v %s", err, data)
	}

	// Find-or-create from the other side returns the same chat with 200.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/api/chats", bob.Token, map[string]string{
		"user_id": alice.User.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("find chat: status %d: %s", resp.StatusCode, data)
	}

	// Self-chat rejected.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chats", alice.Token, map[string]string{
		"user_id": alice.User.ID,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self chat: status %d", resp.StatusCode)
	}

	// Non-member access is forbidden.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+created.ID, eve.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member chat access: status %d", resp.StatusCode)
	}

	// Member access succeeds.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+created.ID, alice.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member chat access: status %d", resp.StatusCode)
	}
}

func TestMessageFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := register(t, ts, "alice")
	bob := register(t, ts, "bob")
	eve := register(t, ts, "eve")

	resp, data := doJSON(t, http.MethodPost, ts.URL+"/api/chats", alice.Token, map[string]string{
		"user_id": bob.User.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat: status %d: %s", resp.StatusCode, data)
	}
	var c struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("decode chat: %v", err)
	}

	// Send.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/api/messages", alice.Token, map[string]string{
		"content": "hello bob", "chat_id": c.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message: status %d: %s", resp.StatusCode, data)
	}
	var sent v1.Message
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if len(sent.Chat.Users) != 2 {
		t.Fatalf("wire message must embed chat membership, got %d users", len(sent.Chat.Users))
	}
	if len(sent.ReadBy) != 1 || sent.ReadBy[0] != alice.User.ID {
		t.Fatalf("expected readBy=[sender], got %v", sent.ReadBy)
	}

	// Non-member cannot send.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/messages", eve.Token, map[string]string{
		"content": "intrude", "chat_id": c.ID,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member send: status %d", resp.StatusCode)
	}

	// Mark read.
	resp, data = doJSON(t, http.MethodPut, ts.URL+"/api/messages/read", bob.Token, map[string]string{
		"message_id": sent.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: status %d: %s", resp.StatusCode, data)
	}
	var read v1.Message
	if err := json.Unmarshal(data, &read); err != nil {
		t.Fatalf("decode read message: %v", err)
	}
	if len(read.ReadBy) != 2 || read.ReadBy[1] != bob.User.ID {
		t.Fatalf("expected readBy [alice bob], got %v", read.ReadBy)
	}

	// Repeat mark is idempotent.
	resp, data = doJSON(t, http.MethodPut, ts.URL+"/api/messages/read", bob.Token, map[string]string{
		"message_id": sent.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat mark read: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(read.ReadBy) != 2 {
		t.Fatalf("repeat mark grew readBy: %v", read.ReadBy)
	}

	// List.
	resp, data = doJSON(t, http.MethodGet, ts.URL+"/api/messages/"+c.ID, bob.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages: status %d: %s", resp.StatusCode, data)
	}
	var msgs []v1.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello bob" {
		t.Fatalf("unexpected message list: %s", data)
	}

	// Non-member cannot list.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/messages/"+c.ID, eve.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member list: status %d", resp.StatusCode)
	}
}

func TestUpdateMe(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := register(t, ts, "alice")
	register(t, ts, "bob")

	resp, data := doJSON(t, http.MethodPut, ts.URL+"/api/users/me", alice.Token, map[string]string{
		"name": "alicia", "avatar": "a.png",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update me: status %d: %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), "alicia") {
		t.Fatalf("update not reflected: %s", data)
	}

	// Taking another user's name is rejected.
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/users/me", alice.Token, map[string]string{
		"name": "bob",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("name collision: status %d", resp.StatusCode)
	}
}

func TestRejectsMalformedBodies(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := register(t, ts, "alice")

	// Unknown fields rejected.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chats", alice.Token, map[string]string{
		"user_id": "x", "surprise": "y",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", resp.StatusCode)
	}

	// Raw garbage rejected.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/messages", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("garbage body: status %d", resp2.StatusCode)
	}
}
