// Package store provides the conversation document store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/proxima/internal/domain"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Repository defines the document store for users, sessions and messages.
// Each write is committed independently; there are no multi-document transactions.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetUser retrieves the user-scope document. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user document.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateUserProgress sets the first-greet status and, if non-empty, the account status.
	UpdateUserProgress(ctx context.Context, userID string, firstGreet domain.FirstGreetStatus, status string) error

	// CreateSession inserts a session document. A zero CreatedAt is assigned by the store.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session. Returns nil, nil if absent.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// ListSessionsSince returns sessions created at or after since, oldest first.
	ListSessionsSince(ctx context.Context, userID string, since time.Time) ([]*domain.Session, error)

	// BindAgentSession binds agentSessionID if the session has none yet and
	// returns the id that ends up bound. A lost race returns the winner's id.
	BindAgentSession(ctx context.Context, userID, sessionID, agentSessionID string) (string, error)

	// MarkSessionGreeted sets the session greet flag to done.
	MarkSessionGreeted(ctx context.Context, userID, sessionID string) error

	// AddMessage appends a message. ID and CreatedAt are assigned by the store.
	AddMessage(ctx context.Context, msg *domain.Message) error

	// GetMessage retrieves a message. Returns ErrNotFound if absent.
	GetMessage(ctx context.Context, userID, sessionID, messageID string) (*domain.Message, error)

	// UpdateMessage merges upd into an existing message.
	UpdateMessage(ctx context.Context, userID, sessionID, messageID string, upd domain.MessageUpdate) error

	// ClaimMessage atomically flips processing from false to true.
	// It returns false if the message was already claimed.
	ClaimMessage(ctx context.Context, userID, sessionID, messageID string) (bool, error)

	// ListMessages returns the thread ordered by creation time ascending.
	ListMessages(ctx context.Context, userID, sessionID string) ([]*domain.Message, error)
}
