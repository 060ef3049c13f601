// Package domain contains core domain types for the Proxima conversation backend.
package domain

import (
	"time"
)

// FirstGreetStatus tracks the onboarding sequence at user scope.
// It is shared by every session of the user.
type FirstGreetStatus string

const (
	// FirstGreetAbsent means the user has not finished the tutorial yet.
	FirstGreetAbsent FirstGreetStatus = ""
	// FirstGreetYet means onboarding must run on the next greeting trigger.
	FirstGreetYet FirstGreetStatus = "yet"
	// FirstGreetDoing means the onboarding pipeline is running.
	FirstGreetDoing FirstGreetStatus = "doing"
	// FirstGreetDone means onboarding completed.
	FirstGreetDone FirstGreetStatus = "done"
)

// AccountStatusCreated is written when onboarding starts.
const AccountStatusCreated = "created"

// User represents the user-scope document.
type User struct {
	UserID     string           `json:"user_id"`
	FirstGreet FirstGreetStatus `json:"first_greet"`
	Status     string           `json:"status,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NeedsOnboarding reports whether the scripted first greeting should run.
func (u *User) NeedsOnboarding() bool {
	return u != nil && u.FirstGreet == FirstGreetYet
}
