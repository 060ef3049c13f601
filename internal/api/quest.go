package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/proxima/internal/relational"
)

// QuestCreator generates and stores a daily quest.
type QuestCreator interface {
	Create(ctx context.Context, userID string) (*relational.Task, error)
}

// QuestHandler serves the create-quest job.
type QuestHandler struct {
	quests QuestCreator
	logger *slog.Logger
}

// NewQuestHandler creates the quest job handler.
func NewQuestHandler(quests QuestCreator, logger *slog.Logger) *QuestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestHandler{quests: quests, logger: logger}
}

// RegisterRoutes registers POST /create-quest.
func (h *QuestHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-quest", h.CreateQuest)
}

type createQuestRequest struct {
	UserID string `json:"user_id"`
}

// CreateQuest runs quest generation for the posted user.
func (h *QuestHandler) CreateQuest(w http.ResponseWriter, r *http.Request) {
	var req createQuestRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	task, err := h.quests.Create(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("Quest generation failed", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "error")
		return
	}
	h.logger.Info("Quest created", "user_id", req.UserID, "task_id", task.ID)
	JSON(w, http.StatusOK, task)
}
