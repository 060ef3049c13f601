package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/ashureev/proxima/internal/analytics"
)

const memoryLimit = 100

// PostgresStore handles the relational records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
	now  func() time.Time
}

// NewPostgresStore creates a store with a connection pool. Dates are rendered in loc.
func NewPostgresStore(ctx context.Context, databaseURL string, loc *time.Location) (*PostgresStore, error) {
	if loc == nil {
		loc = time.UTC
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, loc: loc, now: time.Now}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables used by this service if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS memory (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS information (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		recommend_level INTEGER NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		recommend TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		estimated_time INTEGER NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS career_goals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		career_title TEXT NOT NULL,
		career_description TEXT NOT NULL DEFAULT '',
		target_period TEXT NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS chat_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_session_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		content_type TEXT NOT NULL,
		meta JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_user ON memory(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_information_user ON information(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_chat_logs_session ON chat_logs(user_id, session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure relational schema: %w", err)
	}
	return nil
}

// SearchMemory returns the latest memories of the user as a formatted block.
func (s *PostgresStore) SearchMemory(ctx context.Context, userID string) (string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, content, updated_at
		FROM memory
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, memoryLimit)
	if err != nil {
		return "", fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var items []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Category, &m.Content, &m.UpdatedAt); err != nil {
			return "", fmt.Errorf("scan memory: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate memory: %w", err)
	}
	return FormatMemory(items, s.loc), nil
}

// SearchInformation returns items curated since yesterday, most recommended first.
func (s *PostgresStore) SearchInformation(ctx context.Context, userID string) (string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, body, url, recommend_level, category, created_at
		FROM information
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY recommend_level DESC
	`, userID, startOfYesterday(s.now(), s.loc))
	if err != nil {
		return "", fmt.Errorf("search information: %w", err)
	}
	defer rows.Close()

	var items []Information
	for rows.Next() {
		var it Information
		if err := rows.Scan(&it.ID, &it.Title, &it.Body, &it.URL, &it.RecommendLevel, &it.Category, &it.CreatedAt); err != nil {
			return "", fmt.Errorf("scan information: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate information: %w", err)
	}
	return FormatInformation(items, s.loc), nil
}

// SearchTasks returns the user's tasks created since yesterday, newest first.
func (s *PostgresStore) SearchTasks(ctx context.Context, userID string) (string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, description, recommend, category, estimated_time, completed, created_at
		FROM tasks
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, userID, startOfYesterday(s.now(), s.loc))
	if err != nil {
		return "", fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	var items []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Recommend, &t.Category, &t.EstimatedTime, &t.Completed, &t.CreatedAt); err != nil {
			return "", fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate tasks: %w", err)
	}
	return FormatTasks(items), nil
}

// SearchCareer returns the user's active career goals.
func (s *PostgresStore) SearchCareer(ctx context.Context, userID string) (string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, career_title, career_description, target_period, created_at, updated_at
		FROM career_goals
		WHERE user_id = $1 AND deleted = false
		ORDER BY created_at
	`, userID)
	if err != nil {
		return "", fmt.Errorf("search career: %w", err)
	}
	defer rows.Close()

	var items []CareerGoal
	for rows.Next() {
		var g CareerGoal
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &g.TargetPeriod, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return "", fmt.Errorf("scan career goal: %w", err)
		}
		items = append(items, g)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate career goals: %w", err)
	}
	return FormatCareer(items, s.loc), nil
}

// AddTask inserts a new, uncompleted task and returns its id.
func (s *PostgresStore) AddTask(ctx context.Context, task *Task) (string, error) {
	if task == nil || task.UserID == "" || task.Title == "" {
		return "", errors.New("task requires user id and title")
	}
	task.ID = ulid.Make().String()
	task.Completed = false
	task.CreatedAt = s.now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, user_id, title, description, recommend, category, estimated_time, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.UserID, task.Title, task.Description, task.Recommend, task.Category, task.EstimatedTime, task.Completed, task.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("add task: %w", err)
	}
	return task.ID, nil
}

// InsertChatLog appends an analytics entry to chat_logs.
func (s *PostgresStore) InsertChatLog(ctx context.Context, e analytics.Entry) error {
	var meta []byte
	if len(e.Meta) > 0 {
		data, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode chat log meta: %w", err)
		}
		meta = data
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_logs (id, user_id, session_id, agent_session_id, content, content_type, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.UserID, e.SessionID, e.AgentSessionID, e.Content, string(e.ContentType), meta, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert chat log: %w", err)
	}
	return nil
}
