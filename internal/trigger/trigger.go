// Package trigger models "a message was written" notifications.
//
// Notifications are delivered at least once and may be duplicated; the
// orchestrator's idempotency gate is responsible for deduplication.
package trigger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedLocator is returned for document paths that do not have the
	// users/{userId}/sessions/{sessionId}/messages/{messageId} shape.
	ErrMalformedLocator = errors.New("malformed document locator")
	// ErrMissingField is returned when the event id or document is absent.
	ErrMissingField = errors.New("missing required trigger field")
)

// Trigger is one notification that a message document was written.
type Trigger struct {
	EventID  string `json:"id"`
	Document string `json:"document"`
}

// Locator identifies a message document.
type Locator struct {
	UserID    string
	SessionID string
	MessageID string
}

// Path renders the locator back into its document path.
func (l Locator) Path() string {
	return fmt.Sprintf("users/%s/sessions/%s/messages/%s", l.UserID, l.SessionID, l.MessageID)
}

// Validate checks the required fields and parses the locator.
func (t Trigger) Validate() (Locator, error) {
	if t.EventID == "" {
		return Locator{}, fmt.Errorf("%w: id", ErrMissingField)
	}
	if t.Document == "" {
		return Locator{}, fmt.Errorf("%w: document", ErrMissingField)
	}
	return ParseDocument(t.Document)
}

// ParseDocument parses a six-segment message document path.
func ParseDocument(document string) (Locator, error) {
	parts := strings.Split(strings.Trim(document, "/"), "/")
	if len(parts) != 6 {
		return Locator{}, fmt.Errorf("%w: expected 6 segments, got %d: %q", ErrMalformedLocator, len(parts), document)
	}
	if parts[0] != "users" || parts[2] != "sessions" || parts[4] != "messages" {
		return Locator{}, fmt.Errorf("%w: unexpected collection names in %q", ErrMalformedLocator, document)
	}
	loc := Locator{UserID: parts[1], SessionID: parts[3], MessageID: parts[5]}
	if loc.UserID == "" || loc.SessionID == "" || loc.MessageID == "" {
		return Locator{}, fmt.Errorf("%w: empty id in %q", ErrMalformedLocator, document)
	}
	return loc, nil
}

// ForMessage builds a trigger for a locally written message.
func ForMessage(eventID, userID, sessionID, messageID string) Trigger {
	return Trigger{
		EventID:  eventID,
		Document: Locator{UserID: userID, SessionID: sessionID, MessageID: messageID}.Path(),
	}
}
