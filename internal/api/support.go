package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/clawnest/internal/identity"
)

// SupportHandler serves the anonymous support assistant.
type SupportHandler struct {
	chat SupportChatter
}

// NewSupportHandler creates a new support handler.
func NewSupportHandler(chat SupportChatter) *SupportHandler {
	return &SupportHandler{chat: chat}
}

// RegisterRoutes registers the support routes.
func (h *SupportHandler) RegisterRoutes(r chi.Router, chatMiddleware ...func(http.Handler) http.Handler) {
	r.With(chatMiddleware...).Post("/api/support/chat", h.Chat)
}

type supportRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Chat answers one support message. The session id is echoed back, or
// minted when the client did not send a usable one.
func (h *SupportHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "Message is required")
		return
	}
	sessionID := identity.SupportSessionID(req.SessionID)

	reply, err := h.chat.ChatAsSupport(r.Context(), sessionID, req.Message)
	if err != nil {
		slog.Error("Support chat failed", "session_id", sessionID, "request_id", middleware.GetReqID(r.Context()), "error", err)
		Error(w, http.StatusInternalServerError, "Failed to get support response")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"reply": reply, "sessionId": sessionID})
}
