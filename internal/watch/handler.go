package watch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/proxima/internal/domain"
	"github.com/ashureev/proxima/internal/store"
)

const writeTimeout = 10 * time.Second

// frame is one websocket message sent to a watcher.
type frame struct {
	Type     string            `json:"type"` // "snapshot" or "change"
	Messages []*domain.Message `json:"messages,omitempty"`
	Change   *Change           `json:"change,omitempty"`
}

// Handler serves GET /ws/users/{userID}/sessions/{sessionID}: the current
// thread followed by every later change.
type Handler struct {
	repo           store.Repository
	hub            *Hub
	originPatterns []string
	logger         *slog.Logger
}

// NewHandler creates a watch handler. originPatterns are passed to the
// websocket handshake; nil accepts same-origin requests only.
func NewHandler(repo store.Repository, hub *Hub, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, hub: hub, originPatterns: originPatterns, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessionID := chi.URLParam(r, "sessionID")
	logger := h.logger.With("user_id", userID, "session_id", sessionID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		logger.Warn("Failed to accept watch websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "watch ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	// Subscribe before the snapshot so no write falls between them.
	id, changes, cancel := h.hub.Subscribe(userID, sessionID)
	defer cancel()
	logger = logger.With("subscriber_id", id)

	ctx := ws.CloseRead(r.Context())

	msgs, err := h.repo.ListMessages(ctx, userID, sessionID)
	if err != nil {
		logger.Error("Failed to load thread snapshot", "error", err)
		return
	}
	if err := h.write(ctx, ws, frame{Type: "snapshot", Messages: msgs}); err != nil {
		logger.Debug("Failed to send snapshot", "error", err)
		return
	}
	logger.Info("Watcher connected", "messages", len(msgs))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watcher disconnected")
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := h.write(ctx, ws, frame{Type: "change", Change: &c}); err != nil {
				logger.Debug("Failed to send change", "error", err)
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, f frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}
