package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - FindOrCreateDirectChat serializes per user pair with a transactional
//   advisory lock so two concurrent first messages cannot create two chats.
// - AppendReader uses ON CONFLICT DO NOTHING for set-insert semantics.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "wren").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "wren",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema and tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.table("users") + ` (
			id            text PRIMARY KEY,
			name          text NOT NULL,
			name_lower    text NOT NULL UNIQUE,
			avatar        text NOT NULL DEFAULT '',
			password_hash text NOT NULL DEFAULT '',
			created_at    timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("chats") + ` (
			id                text PRIMARY KEY,
			latest_message_id text,
			created_at        timestamptz NOT NULL DEFAULT now(),
			updated_at        timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("chat_members") + ` (
			chat_id text NOT NULL REFERENCES ` + s.table("chats") + `(id),
			user_id text NOT NULL REFERENCES ` + s.table("users") + `(id),
			PRIMARY KEY (chat_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("messages") + ` (
			id         text PRIMARY KEY,
			chat_id    text NOT NULL REFERENCES ` + s.table("chats") + `(id),
			sender_id  text NOT NULL REFERENCES ` + s.table("users") + `(id),
			content    text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_chat_created_idx
			ON ` + s.table("messages") + ` (chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("message_reads") + ` (
			message_id text NOT NULL REFERENCES ` + s.table("messages") + `(id),
			user_id    text NOT NULL REFERENCES ` + s.table("users") + `(id),
			read_at    timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (message_id, user_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, name, avatar, passwordHash string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, ErrInvalidInput
	}

	id, err := newID(time.Now().UTC())
	if err != nil {
		return User{}, err
	}

	var u User
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("users")+` (id, name, name_lower, avatar, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name_lower) DO NOTHING
		 RETURNING id, name, avatar, password_hash, created_at`,
		id, name, strings.ToLower(name), avatar, passwordHash,
	).Scan(&u.ID, &u.Name, &u.Avatar, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserExists
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	return s.userBy(ctx, `id = $1`, id)
}

func (s *PostgresStore) UserByName(ctx context.Context, name string) (User, error) {
	return s.userBy(ctx, `name_lower = $1`, strings.ToLower(strings.TrimSpace(name)))
}

func (s *PostgresStore) userBy(ctx context.Context, where string, arg any) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, avatar, password_hash, created_at
		   FROM `+s.table("users")+`
		  WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Name, &u.Avatar, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, excludeID string) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, avatar, password_hash, created_at
		   FROM `+s.table("users")+`
		  WHERE id <> $1
		  ORDER BY name ASC`,
		excludeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id, name, avatar string) (User, error) {
	u, err := s.UserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if n := strings.TrimSpace(name); n != "" {
		u.Name = n
	}
	if avatar != "" {
		u.Avatar = avatar
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE `+s.table("users")+`
		    SET name = $2, name_lower = $3, avatar = $4
		  WHERE id = $1
		RETURNING id, name, avatar, password_hash, created_at`,
		id, u.Name, strings.ToLower(u.Name), u.Avatar,
	).Scan(&u.ID, &u.Name, &u.Avatar, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return User{}, ErrUserExists
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- chats ----

func (s *PostgresStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (Chat, bool, error) {
	if userA == "" || userB == "" {
		return Chat{}, false, ErrInvalidInput
	}
	if userA == userB {
		return Chat{}, false, ErrSameUser
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Chat{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize per pair so two concurrent first messages cannot create two chats.
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lo+":"+hi); err != nil {
		return Chat{}, false, fmt.Errorf("advisory lock: %w", err)
	}

	var chatID string
	err = tx.QueryRow(ctx,
		`SELECT c.id
		   FROM `+s.table("chats")+` c
		   JOIN `+s.table("chat_members")+` m1 ON m1.chat_id = c.id AND m1.user_id = $1
		   JOIN `+s.table("chat_members")+` m2 ON m2.chat_id = c.id AND m2.user_id = $2`,
		userA, userB,
	).Scan(&chatID)

	created := false
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		chatID, err = newID(time.Now().UTC())
		if err != nil {
			return Chat{}, false, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("chats")+` (id) VALUES ($1)`, chatID); err != nil {
			return Chat{}, false, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("chat_members")+` (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
			chatID, userA, userB); err != nil {
			return Chat{}, false, err
		}
		created = true
	case err != nil:
		return Chat{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, false, err
	}

	c, err := s.ChatByID(ctx, chatID)
	return c, created, err
}

func (s *PostgresStore) ChatByID(ctx context.Context, id string) (Chat, error) {
	var (
		c        Chat
		latestID *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, latest_message_id, created_at, updated_at
		   FROM `+s.table("chats")+`
		  WHERE id = $1`,
		id,
	).Scan(&c.ID, &latestID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}

	if c.Users, err = s.ChatUsers(ctx, c.ID); err != nil {
		return Chat{}, err
	}
	if latestID != nil {
		m, err := s.messageByID(ctx, *latestID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Chat{}, err
		}
		if err == nil {
			c.LatestMessage = &m
		}
	}
	return c, nil
}

func (s *PostgresStore) ChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id
		   FROM `+s.table("chats")+` c
		   JOIN `+s.table("chat_members")+` m ON m.chat_id = c.id
		  WHERE m.user_id = $1
		  ORDER BY c.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Chat, 0, len(ids))
	for _, id := range ids {
		c, err := s.ChatByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) ChatUsers(ctx context.Context, chatID string) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.avatar, u.password_hash, u.created_at
		   FROM `+s.table("users")+` u
		   JOIN `+s.table("chat_members")+` m ON m.user_id = u.id
		  WHERE m.chat_id = $1
		  ORDER BY u.id ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users, err := scanUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return users, nil
}

func (s *PostgresStore) SetLatestMessage(ctx context.Context, chatID, messageID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("chats")+`
		    SET latest_message_id = $2, updated_at = now()
		  WHERE id = $1`,
		chatID, messageID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	if userID == "" || chatID == "" {
		return false, nil
	}

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+s.table("chat_members")+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- messages ----

func (s *PostgresStore) CreateMessage(ctx context.Context, senderID, chatID, content string) (Message, error) {
	if senderID == "" || chatID == "" || strings.TrimSpace(content) == "" {
		return Message{}, ErrInvalidInput
	}

	id, err := newID(time.Now().UTC())
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.table("messages")+` (id, chat_id, sender_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		id, chatID, senderID, content,
	).Scan(&createdAt)
	if err != nil {
		return Message{}, err
	}

	// The sender has trivially read their own message.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("message_reads")+` (message_id, user_id, read_at)
		 VALUES ($1, $2, $3)`,
		id, senderID, createdAt,
	); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return s.messageByID(ctx, id)
}

func (s *PostgresStore) AppendReader(ctx context.Context, messageID, readerID string) (Message, error) {
	if messageID == "" || readerID == "" {
		return Message{}, ErrInvalidInput
	}

	// Set-insert: a duplicate mark is a no-op, readBy never shrinks.
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("message_reads")+` (message_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, readerID,
	); err != nil {
		return Message{}, err
	}
	return s.messageByID(ctx, messageID)
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	if chatID == "" {
		return nil, ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx,
		messageSelect(s.schema)+`
		  WHERE m.chat_id = $1`+
			messageGroupBy+`
		  ORDER BY m.created_at ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 64)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) messageByID(ctx context.Context, id string) (Message, error) {
	rows, err := s.pool.Query(ctx,
		messageSelect(s.schema)+`
		  WHERE m.id = $1`+messageGroupBy,
		id,
	)
	if err != nil {
		return Message{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Message{}, err
		}
		return Message{}, ErrNotFound
	}
	return scanMessage(rows)
}

// ---- scan helpers ----

func messageSelect(schema string) string {
	messages := pgx.Identifier{schema, "messages"}.Sanitize()
	users := pgx.Identifier{schema, "users"}.Sanitize()
	reads := pgx.Identifier{schema, "message_reads"}.Sanitize()
	return `SELECT m.id, m.chat_id, m.content, m.created_at,
		       u.id, u.name, u.avatar,
		       COALESCE(array_agg(r.user_id ORDER BY r.read_at, r.user_id)
		                FILTER (WHERE r.user_id IS NOT NULL), '{}')
		   FROM ` + messages + ` m
		   JOIN ` + users + ` u ON u.id = m.sender_id
		   LEFT JOIN ` + reads + ` r ON r.message_id = m.id`
}

const messageGroupBy = `
		  GROUP BY m.id, m.chat_id, m.content, m.created_at, u.id, u.name, u.avatar`

func scanMessage(rows pgx.Rows) (Message, error) {
	var m Message
	if err := rows.Scan(
		&m.ID, &m.ChatID, &m.Content, &m.CreatedAt,
		&m.Sender.ID, &m.Sender.Name, &m.Sender.Avatar,
		&m.ReadBy,
	); err != nil {
		return Message{}, err
	}
	return m, nil
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	out := make([]User, 0, 8)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Avatar, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func (s *PostgresStore) table(name string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, name}.Sanitize()
}
