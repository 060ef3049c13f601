package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/store"
)

// Submitter schedules the trigger for a message written through this API.
type Submitter interface {
	Submit(userID, sessionID, messageID string) (string, bool)
}

// ThreadHandler exposes users, sessions and messages to the client.
// Every message written here is followed by a trigger, the same way an
// external change feed would deliver it.
type ThreadHandler struct {
	repo      store.Repository
	submitter Submitter
	logger    *slog.Logger
}

// NewThreadHandler creates the thread API handler.
func NewThreadHandler(repo store.Repository, submitter Submitter, logger *slog.Logger) *ThreadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadHandler{repo: repo, submitter: submitter, logger: logger}
}

// RegisterRoutes registers the thread routes under /api.
func (h *ThreadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Put("/", h.PutUser)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{sessionID}/messages", h.ListMessages)
		r.Post("/sessions/{sessionID}/messages", h.PostMessage)
	})
}

type putUserRequest struct {
	FirstGreet *domain.FirstGreetStatus `json:"first_greet"`
}

// PutUser creates the user document or updates its first-greet status.
func (h *ThreadHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req putUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to read user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}
	if user == nil {
		user = &domain.User{UserID: userID}
	}
	if req.FirstGreet != nil {
		switch *req.FirstGreet {
		case domain.FirstGreetAbsent, domain.FirstGreetYet, domain.FirstGreetDoing, domain.FirstGreetDone:
			user.FirstGreet = *req.FirstGreet
		default:
			Error(w, http.StatusBadRequest, "invalid first_greet")
			return
		}
	}

	if err := h.repo.UpsertUser(r.Context(), user); err != nil {
		h.logger.Error("Failed to upsert user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}
	JSON(w, http.StatusOK, user)
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type createSessionResponse struct {
	Session       *domain.Session `json:"session"`
	PlaceholderID string          `json:"placeholder_id"`
	EventID       string          `json:"event_id"`
}

// CreateSession opens a session with an empty thinking placeholder; its
// trigger runs the greeting.
func (h *ThreadHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	if strings.Contains(sessionID, "/") {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	logger := h.logger.With("user_id", userID, "session_id", sessionID)

	existing, err := h.repo.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		logger.Error("Failed to read session", "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}
	if existing != nil {
		Error(w, http.StatusConflict, "session already exists")
		return
	}

	session := &domain.Session{UserID: userID, ID: sessionID}
	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		logger.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}
	placeholder := domain.NewPlaceholder(userID, sessionID, domain.DefaultAgentName, false)
	if err := h.repo.AddMessage(r.Context(), placeholder); err != nil {
		logger.Error("Failed to add greeting placeholder", "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}

	eventID, ok := h.submitter.Submit(userID, sessionID, placeholder.ID)
	if !ok {
		Error(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	logger.Info("Session created", "placeholder_id", placeholder.ID, "event_id", eventID)
	JSON(w, http.StatusCreated, createSessionResponse{Session: session, PlaceholderID: placeholder.ID, EventID: eventID})
}

type postMessageRequest struct {
	Content string `json:"content"`
	Agent   string `json:"agent"`
}

type postMessageResponse struct {
	Message *domain.Message `json:"message"`
	EventID string          `json:"event_id"`
}

// PostMessage appends a user message and schedules its turn.
func (h *ThreadHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessionID := chi.URLParam(r, "sessionID")
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Agent == "" {
		req.Agent = domain.DefaultAgentName
	}

	msg := &domain.Message{
		UserID:    userID,
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   req.Content,
		Status:    domain.StatusSuccess,
		Agent:     req.Agent,
	}
	if err := h.repo.AddMessage(r.Context(), msg); err != nil {
		h.logger.Error("Failed to add message", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}

	eventID, ok := h.submitter.Submit(userID, sessionID, msg.ID)
	if !ok {
		Error(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	JSON(w, http.StatusAccepted, postMessageResponse{Message: msg, EventID: eventID})
}

// ListMessages returns the thread in creation order.
func (h *ThreadHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := h.repo.ListMessages(r.Context(), userID, sessionID)
	if err != nil {
		h.logger.Error("Failed to list messages", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
