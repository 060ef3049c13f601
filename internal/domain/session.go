package domain

import (
	"time"
)

// SessionGreetFlag records whether a session has received its greeting.
type SessionGreetFlag string

const (
	// SessionGreetPending is the state of a fresh session. The web client
	// historically wrote "yet"; both values are treated as pending.
	SessionGreetPending SessionGreetFlag = ""
	// SessionGreetYet is the legacy pending marker.
	SessionGreetYet SessionGreetFlag = "yet"
	// SessionGreetDone marks a greeted session.
	SessionGreetDone SessionGreetFlag = "done"
)

// Session is one continuous conversation context for one user.
// AgentSessionID is assigned by the agent runtime and bound at most once.
type Session struct {
	UserID         string           `json:"user_id"`
	ID             string           `json:"session_id"`
	AgentSessionID string           `json:"agent_session_id,omitempty"`
	FirstGreet     SessionGreetFlag `json:"first_greet,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HasAgentSession returns true once the runtime session has been bound.
func (s *Session) HasAgentSession() bool {
	return s != nil && s.AgentSessionID != ""
}

// Greeted returns true if the greeting already ran for this session.
func (s *Session) Greeted() bool {
	return s != nil && s.FirstGreet == SessionGreetDone
}
