package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/proxima/internal/trigger"
)

// CloudEvents binary-mode headers carrying the trigger.
const (
	headerEventID  = "Ce-Id"
	headerDocument = "Ce-Document"
)

// ChatHandler is the trigger endpoint fed by the document store's change events.
type ChatHandler struct {
	turns  trigger.Handler
	logger *slog.Logger
}

// NewChatHandler creates the trigger endpoint handler.
func NewChatHandler(turns trigger.Handler, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{turns: turns, logger: logger}
}

// RegisterRoutes registers POST /chat.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
}

// Chat runs one trigger to completion. Skips and successes answer 204,
// malformed triggers 400 and every other failure 500.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	t, err := readTrigger(w, r)
	if err != nil {
		h.logger.Warn("Unreadable trigger", "error", err)
		Error(w, http.StatusBadRequest, "invalid")
		return
	}

	// The turn keeps running if the event source gives up on the request.
	err = h.turns.HandleTrigger(context.WithoutCancel(r.Context()), t)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, trigger.ErrMalformedLocator), errors.Is(err, trigger.ErrMissingField):
		Error(w, http.StatusBadRequest, "invalid")
	default:
		Error(w, http.StatusInternalServerError, "error")
	}
}

// readTrigger accepts a binary-mode CloudEvent (ce-id and ce-document
// headers) or a structured JSON body {"id", "document"}.
func readTrigger(w http.ResponseWriter, r *http.Request) (trigger.Trigger, error) {
	if id := r.Header.Get(headerEventID); id != "" {
		return trigger.Trigger{EventID: id, Document: r.Header.Get(headerDocument)}, nil
	}
	var t trigger.Trigger
	if err := decodeJSON(w, r, &t); err != nil {
		return trigger.Trigger{}, err
	}
	return t, nil
}
