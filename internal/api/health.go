package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clawnest/internal/store"
)

// ConversationCounter reports how many conversations are held in memory.
type ConversationCounter interface {
	Len() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo          store.Repository
	bridges       BridgeStatus
	conversations ConversationCounter
	timeout       time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, bridges BridgeStatus, conversations ConversationCounter) *HealthHandler {
	return &HealthHandler{repo: repo, bridges: bridges, conversations: conversations, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := map[string]interface{}{
		"status":        "healthy",
		"checks":        checks,
		"bridges":       h.bridges.ActiveCount(),
		"conversations": h.conversations.Len(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, status)
}

// RegisterRoutes registers the health check route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}
