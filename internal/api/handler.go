// Package api is the conventional request/response surface of the service:
// registration, login, user/chat/message CRUD. It persists through the chat
// store before any realtime fan-out can happen; the socket tier only ever
// relays already-persisted facts.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "wren/contracts/realtime/v1"
	"wren/internal/auth"
	"wren/internal/chat"
	"wren/internal/realtime"
)

// Handler owns the REST routes and their dependencies.
type Handler struct {
	log      *slog.Logger
	store    chat.Store
	tokens   *auth.Tokens
	presence *realtime.Registry
}

// NewHandler constructs the REST handler. presence may be nil; user listings
// then omit live status.
func NewHandler(log *slog.Logger, store chat.Store, tokens *auth.Tokens, presence *realtime.Registry) *Handler {
	return &Handler{log: log, store: store, tokens: tokens, presence: presence}
}

// Register mounts all REST routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)

	mux.HandleFunc("GET /api/users", h.withAuth(h.handleListUsers))
	mux.HandleFunc("GET /api/users/me", h.withAuth(h.handleMe))
	mux.HandleFunc("PUT /api/users/me", h.withAuth(h.handleUpdateMe))

	mux.HandleFunc("GET /api/chats", h.withAuth(h.handleListChats))
	mux.HandleFunc("POST /api/chats", h.withAuth(h.handleCreateChat))
	mux.HandleFunc("GET /api/chats/{id}", h.withAuth(h.handleChatByID))

	mux.HandleFunc("POST /api/messages", h.withAuth(h.handleSendMessage))
	mux.HandleFunc("GET /api/messages/{chatId}", h.withAuth(h.handleListMessages))
	mux.HandleFunc("PUT /api/messages/read", h.withAuth(h.handleMarkRead))
}

// ---- DTOs ----

type userDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status,omitempty"`
}

type chatDTO struct {
	ID            string      `json:"id"`
	Users         []userDTO   `json:"users"`
	LatestMessage *v1.Message `json:"latest_message,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type authResponse struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

func (h *Handler) userDTO(u chat.User) userDTO {
	d := userDTO{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
	if h.presence != nil {
		d.Status = h.presence.StatusOf(u.ID)
	}
	return d
}

func (h *Handler) chatDTO(c chat.Chat) chatDTO {
	d := chatDTO{ID: c.ID, Users: make([]userDTO, 0, len(c.Users)), UpdatedAt: c.UpdatedAt}
	for _, u := range c.Users {
		d.Users = append(d.Users, h.userDTO(u))
	}
	if c.LatestMessage != nil {
		wired := c.LatestMessage.Wire(c.Users)
		d.LatestMessage = &wired
	}
	return d
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		Avatar   string `json:"avatar"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "please provide name and password")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			writeError(w, http.StatusBadRequest, "password too short")
			return
		}
		h.serverError(w, "auth.register.hash", err)
		return
	}

	u, err := h.store.CreateUser(r.Context(), req.Name, req.Avatar, hash)
	if err != nil {
		if errors.Is(err, chat.ErrUserExists) {
			writeError(w, http.StatusBadRequest, "user already exists")
			return
		}
		h.serverError(w, "auth.register.create", err)
		return
	}

	token, err := h.tokens.Issue(u.ID, time.Now().UTC())
	if err != nil {
		h.serverError(w, "auth.register.token", err)
		return
	}

	h.log.Info("auth.register", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: h.userDTO(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.store.UserByName(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.serverError(w, "auth.login.lookup", err)
		return
	}

	ok, err := auth.VerifyPassword(u.PasswordHash, req.Password)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(u.ID, time.Now().UTC())
	if err != nil {
		h.serverError(w, "auth.login.token", err)
		return
	}

	h.log.Info("auth.login", "user_id", u.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: h.userDTO(u)})
}

// ---- users ----

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.serverError(w, "users.list", err)
		return
	}

	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, h.userDTO(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.UserByID(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.serverError(w, "users.me", err)
		return
	}
	writeJSON(w, http.StatusOK, h.userDTO(u))
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.store.UpdateUser(r.Context(), userIDFrom(r.Context()), req.Name, req.Avatar)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, chat.ErrUserExists):
			writeError(w, http.StatusBadRequest, "name already taken")
		default:
			h.serverError(w, "users.update", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, h.userDTO(u))
}

// ---- chats ----

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.ChatsForUser(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.serverError(w, "chats.list", err)
		return
	}

	out := make([]chatDTO, 0, len(chats))
	for _, c := range chats {
		out = append(out, h.chatDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "please provide user_id")
		return
	}

	c, created, err := h.store.FindOrCreateDirectChat(r.Context(), userIDFrom(r.Context()), req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, chat.ErrSameUser):
			writeError(w, http.StatusBadRequest, "cannot chat with yourself")
		default:
			h.serverError(w, "chats.create", err)
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.chatDTO(c))
}

func (h *Handler) handleChatByID(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.ChatByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		h.serverError(w, "chats.get", err)
		return
	}

	self := userIDFrom(r.Context())
	member := false
	for _, u := range c.Users {
		if u.ID == self {
			member = true
			break
		}
	}
	if !member {
		writeError(w, http.StatusForbidden, "not authorized to access this chat")
		return
	}

	writeJSON(w, http.StatusOK, h.chatDTO(c))
}

// ---- messages ----

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		ChatID  string `json:"chat_id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.ChatID) == "" {
		writeError(w, http.StatusBadRequest, "please provide content and chat_id")
		return
	}

	self := userIDFrom(r.Context())
	if !h.requireMember(w, r, self, req.ChatID) {
		return
	}

	m, err := h.store.CreateMessage(r.Context(), self, req.ChatID, req.Content)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		h.serverError(w, "messages.create", err)
		return
	}

	if err := h.store.SetLatestMessage(r.Context(), req.ChatID, m.ID); err != nil {
		h.serverError(w, "messages.latest", err)
		return
	}

	users, err := h.store.ChatUsers(r.Context(), req.ChatID)
	if err != nil {
		h.serverError(w, "messages.users", err)
		return
	}

	h.log.Info("messages.sent", "message_id", m.ID, "chat_id", req.ChatID, "sender_id", self)
	writeJSON(w, http.StatusCreated, m.Wire(users))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	self := userIDFrom(r.Context())
	if !h.requireMember(w, r, self, chatID) {
		return
	}

	users, err := h.store.ChatUsers(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		h.serverError(w, "messages.chat_users", err)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		h.serverError(w, "messages.list", err)
		return
	}

	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire(users))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		writeError(w, http.StatusBadRequest, "please provide message_id")
		return
	}

	m, err := h.store.AppendReader(r.Context(), req.MessageID, userIDFrom(r.Context()))
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		h.serverError(w, "messages.read", err)
		return
	}

	users, err := h.store.ChatUsers(r.Context(), m.ChatID)
	if err != nil {
		h.serverError(w, "messages.read_users", err)
		return
	}
	writeJSON(w, http.StatusOK, m.Wire(users))
}

func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, userID, chatID string) bool {
	member, err := h.store.IsMember(r.Context(), userID, chatID)
	if err != nil {
		h.serverError(w, "chats.membership", err)
		return false
	}
	if !member {
		writeError(w, http.StatusForbidden, "not a member of this chat")
		return false
	}
	return true
}

func (h *Handler) serverError(w http.ResponseWriter, event string, err error) {
	h.log.Error(event, "err", err)
	writeError(w, http.StatusInternalServerError, "server error")
}
