package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// MessageStatus is the rendering state of a message.
type MessageStatus string

const (
	StatusThinking MessageStatus = "thinking"
	StatusSuccess  MessageStatus = "success"
)

// Message is an entry in a session's ordered thread.
//
// A model message with status thinking and empty content is a placeholder
// awaiting exactly one terminal update.
type Message struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	SessionID        string          `json:"session_id"`
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	Status           MessageStatus   `json:"status"`
	Loading          bool            `json:"loading"`
	Agent            string          `json:"agent,omitempty"`
	Processing       bool            `json:"processing,omitempty"`
	FunctionCall     json.RawMessage `json:"function_call,omitempty"`
	FunctionResponse json.RawMessage `json:"function_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// IsPlaceholder reports whether the message is an open thinking placeholder.
func (m *Message) IsPlaceholder() bool {
	return m != nil && m.Role == RoleModel && m.Status == StatusThinking && m.Content == ""
}

// NewPlaceholder returns an open placeholder spoken by agent.
// Placeholders created by a turn are born claimed so they never act as triggers.
func NewPlaceholder(userID, sessionID, agent string, claimed bool) *Message {
	return &Message{
		UserID:     userID,
		SessionID:  sessionID,
		Role:       RoleModel,
		Status:     StatusThinking,
		Loading:    true,
		Agent:      agent,
		Processing: claimed,
	}
}

// MessageUpdate is a merge-style partial update. Nil fields are left untouched.
type MessageUpdate struct {
	Content          *string
	Status           *MessageStatus
	Loading          *bool
	Agent            *string
	FunctionCall     json.RawMessage
	FunctionResponse json.RawMessage
}

// Completed builds the terminal update for a placeholder carrying text.
func Completed(content string) MessageUpdate {
	status := StatusSuccess
	loading := false
	return MessageUpdate{Content: &content, Status: &status, Loading: &loading}
}

// CompletedWithCall closes a placeholder with a function-call payload.
func CompletedWithCall(payload json.RawMessage) MessageUpdate {
	status := StatusSuccess
	loading := false
	return MessageUpdate{Status: &status, Loading: &loading, FunctionCall: payload}
}

// CompletedWithResponse closes a placeholder with a function-response payload.
func CompletedWithResponse(payload json.RawMessage) MessageUpdate {
	status := StatusSuccess
	loading := false
	return MessageUpdate{Status: &status, Loading: &loading, FunctionResponse: payload}
}

// WithAgent sets the speaking agent on the update.
func (u MessageUpdate) WithAgent(name string) MessageUpdate {
	u.Agent = &name
	return u
}

// Apply merges the update into m.
func (u MessageUpdate) Apply(m *Message) {
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Loading != nil {
		m.Loading = *u.Loading
	}
	if u.Agent != nil {
		m.Agent = *u.Agent
	}
	if u.FunctionCall != nil {
		m.FunctionCall = u.FunctionCall
	}
	if u.FunctionResponse != nil {
		m.FunctionResponse = u.FunctionResponse
	}
}
