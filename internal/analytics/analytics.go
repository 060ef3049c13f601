// Package analytics records the conversation analytics log.
//
// Appends are best-effort: sinks log their own failures and never return
// them to the turn that produced the entry.
package analytics

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// ContentType classifies an analytics entry.
type ContentType string

const (
	ContentUser             ContentType = "user"
	ContentResponse         ContentType = "response"
	ContentFunctionCall     ContentType = "function_call"
	ContentFunctionResponse ContentType = "function_response"
	ContentGreet            ContentType = "greet"
	ContentGreetInput       ContentType = "greet_input"
)

// Entry is one row of the analytics log.
type Entry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id"`
	AgentSessionID string         `json:"agent_session_id,omitempty"`
	Content        string         `json:"content"`
	ContentType    ContentType    `json:"content_type"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// NewEntry stamps a new entry with a sortable id and the current time.
func NewEntry(userID, sessionID, agentSessionID, content string, contentType ContentType) Entry {
	now := time.Now().UTC()
	return Entry{
		ID:             ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp:      now,
		UserID:         userID,
		SessionID:      sessionID,
		AgentSessionID: agentSessionID,
		Content:        content,
		ContentType:    contentType,
	}
}

// WithMeta returns a copy of e carrying the given metadata key.
func (e Entry) WithMeta(key string, value any) Entry {
	meta := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}

// Sink receives analytics entries.
type Sink interface {
	Log(ctx context.Context, e Entry)
}

// Noop discards every entry.
type Noop struct{}

// Log implements Sink.
func (Noop) Log(context.Context, Entry) {}

// Multi fans an entry out to several sinks in order.
type Multi []Sink

// Log implements Sink.
func (m Multi) Log(ctx context.Context, e Entry) {
	for _, s := range m {
		if s != nil {
			s.Log(ctx, e)
		}
	}
}
