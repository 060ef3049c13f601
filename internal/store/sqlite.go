package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	clockMu sync.Mutex
	now     func() time.Time
	last    time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source used for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets trigger handlers read while another turn writes.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		first_greet TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_session_id TEXT,
		first_greet TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		loading INTEGER NOT NULL DEFAULT 0,
		agent TEXT NOT NULL DEFAULT '',
		processing INTEGER NOT NULL DEFAULT 0,
		function_call TEXT,
		function_response TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(user_id, session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// timestamp returns a strictly increasing server time.
func (s *SQLiteStore) timestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves the user-scope document.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, first_greet, status, created_at, updated_at FROM users WHERE user_id = ?`, userID)

	var user domain.User
	var firstGreet string
	var createdAt, updatedAt int64
	err := row.Scan(&user.UserID, &firstGreet, &user.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.FirstGreet = domain.FirstGreetStatus(firstGreet)
	user.CreatedAt = time.Unix(0, createdAt).UTC()
	user.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &user, nil
}

// UpsertUser creates or updates a user document.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	now := s.timestamp()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
	INSERT INTO users (user_id, first_greet, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		first_greet = excluded.first_greet,
		status = excluded.status,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, string(user.FirstGreet), user.Status,
			user.CreatedAt.UnixNano(), user.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateUserProgress sets the first-greet status and optionally the account status.
func (s *SQLiteStore) UpdateUserProgress(ctx context.Context, userID string, firstGreet domain.FirstGreetStatus, status string) error {
	query := `UPDATE users SET first_greet = ?, updated_at = ? WHERE user_id = ?`
	args := []interface{}{string(firstGreet), s.timestamp().UnixNano(), userID}
	if status != "" {
		query = `UPDATE users SET first_greet = ?, status = ?, updated_at = ? WHERE user_id = ?`
		args = []interface{}{string(firstGreet), status, args[1], userID}
	}

	return withRetry(ctx, "update user progress", func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update user progress: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil
	})
}

// CreateSession inserts a session document. A non-zero CreatedAt is kept so
// imported history retains its original time.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	now := s.timestamp()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `
	INSERT INTO sessions (user_id, session_id, agent_session_id, first_greet, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.UserID, session.ID, nullString(session.AgentSessionID), string(session.FirstGreet),
			session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session document.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, agent_session_id, first_greet, created_at, updated_at
		FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessionsSince returns sessions created at or after since, oldest first.
func (s *SQLiteStore) ListSessionsSince(ctx context.Context, userID string, since time.Time) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, session_id, agent_session_id, first_greet, created_at, updated_at
		FROM sessions WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC`, userID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// BindAgentSession binds the runtime session id at most once.
func (s *SQLiteStore) BindAgentSession(ctx context.Context, userID, sessionID, agentSessionID string) (string, error) {
	if agentSessionID == "" {
		return "", errors.New("bind agent session: empty agent session id")
	}
	now := s.timestamp().UnixNano()

	// Sessions are normally created by the client, but the bind must also
	// work when the session document is missing.
	query := `
	INSERT INTO sessions (user_id, session_id, agent_session_id, first_greet, created_at, updated_at)
	VALUES (?, ?, ?, '', ?, ?)
	ON CONFLICT(user_id, session_id) DO UPDATE SET
		agent_session_id = COALESCE(sessions.agent_session_id, excluded.agent_session_id),
		updated_at = CASE WHEN sessions.agent_session_id IS NULL THEN excluded.updated_at ELSE sessions.updated_at END`

	err := withRetry(ctx, "bind agent session", func() error {
		if _, err := s.db.ExecContext(ctx, query, userID, sessionID, agentSessionID, now, now); err != nil {
			return fmt.Errorf("bind agent session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	var bound sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_session_id FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	if err := row.Scan(&bound); err != nil {
		return "", fmt.Errorf("read bound agent session: %w", err)
	}
	if bound.String != agentSessionID {
		slog.Warn("agent session already bound, reusing existing",
			"user_id", userID,
			"session_id", sessionID,
			"bound", bound.String,
			"discarded", agentSessionID,
		)
	}
	return bound.String, nil
}

// MarkSessionGreeted sets the session greet flag to done.
func (s *SQLiteStore) MarkSessionGreeted(ctx context.Context, userID, sessionID string) error {
	now := s.timestamp().UnixNano()
	query := `
	INSERT INTO sessions (user_id, session_id, first_greet, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, session_id) DO UPDATE SET
		first_greet = excluded.first_greet,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "mark session greeted", func() error {
		if _, err := s.db.ExecContext(ctx, query, userID, sessionID, string(domain.SessionGreetDone), now, now); err != nil {
			return fmt.Errorf("mark session greeted: %w", err)
		}
		return nil
	})
}

// AddMessage appends a message to the thread.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	msg.CreatedAt = s.timestamp()

	query := `
	INSERT INTO messages (id, user_id, session_id, role, content, status, loading, agent,
		processing, function_call, function_response, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "add message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.UserID, msg.SessionID, string(msg.Role), msg.Content, string(msg.Status),
			msg.Loading, msg.Agent, msg.Processing,
			nullString(string(msg.FunctionCall)), nullString(string(msg.FunctionResponse)),
			msg.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("add message: %w", err)
		}
		return nil
	})
}

// GetMessage retrieves a message.
func (s *SQLiteStore) GetMessage(ctx context.Context, userID, sessionID, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE id = ? AND user_id = ? AND session_id = ?`, messageID, userID, sessionID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return msg, nil
}

// UpdateMessage merges upd into an existing message.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, userID, sessionID, messageID string, upd domain.MessageUpdate) error {
	var sets []string
	var args []interface{}
	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Loading != nil {
		sets = append(sets, "loading = ?")
		args = append(args, *upd.Loading)
	}
	if upd.Agent != nil {
		sets = append(sets, "agent = ?")
		args = append(args, *upd.Agent)
	}
	if upd.FunctionCall != nil {
		sets = append(sets, "function_call = ?")
		args = append(args, string(upd.FunctionCall))
	}
	if upd.FunctionResponse != nil {
		sets = append(sets, "function_response = ?")
		args = append(args, string(upd.FunctionResponse))
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE messages SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND user_id = ? AND session_id = ?`
	args = append(args, messageID, userID, sessionID)

	return withRetry(ctx, "update message", func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return nil
	})
}

// ClaimMessage atomically marks a message as processing.
func (s *SQLiteStore) ClaimMessage(ctx context.Context, userID, sessionID, messageID string) (bool, error) {
	var claimed bool
	err := withRetry(ctx, "claim message", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE messages SET processing = 1 WHERE id = ? AND user_id = ? AND session_id = ? AND processing = 0`,
			messageID, userID, sessionID)
		if err != nil {
			return fmt.Errorf("claim message: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		claimed = rows == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	if claimed {
		return true, nil
	}

	// Distinguish an existing claim from a missing document.
	if _, err := s.GetMessage(ctx, userID, sessionID, messageID); err != nil {
		return false, err
	}
	return false, nil
}

// ListMessages returns the thread ordered by creation time ascending.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID, sessionID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE user_id = ? AND session_id = ?
		ORDER BY created_at ASC, id ASC`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

const messageColumns = `id, user_id, session_id, role, content, status, loading, agent,
		processing, function_call, function_response, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var session domain.Session
	var agentSessionID sql.NullString
	var firstGreet string
	var createdAt, updatedAt int64
	if err := row.Scan(&session.UserID, &session.ID, &agentSessionID, &firstGreet, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	session.AgentSessionID = agentSessionID.String
	session.FirstGreet = domain.SessionGreetFlag(firstGreet)
	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &session, nil
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var role, status string
	var call, response sql.NullString
	var createdAt int64
	err := row.Scan(
		&msg.ID, &msg.UserID, &msg.SessionID, &role, &msg.Content, &status, &msg.Loading, &msg.Agent,
		&msg.Processing, &call, &response, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Role = domain.Role(role)
	msg.Status = domain.MessageStatus(status)
	if call.Valid {
		msg.FunctionCall = []byte(call.String)
	}
	if response.Valid {
		msg.FunctionResponse = []byte(response.String)
	}
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	return &msg, nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

var _ Repository = (*SQLiteStore)(nil)
