// Package api provides HTTP handlers for the ClawNest API.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ashureev/clawnest/internal/domain"
)

const maxBodyBytes = 1 << 20

// AgentChatter answers a message in the persona of an agent.
type AgentChatter interface {
	ChatAsAgent(ctx context.Context, agent domain.AgentView, message string) (string, error)
}

// SupportChatter answers a message as the support assistant.
type SupportChatter interface {
	ChatAsSupport(ctx context.Context, sessionID, message string) (string, error)
}

// BridgeStatus reports bridge activity for agent listings and health.
type BridgeStatus interface {
	IsActive(agentID int64) bool
	ActiveCount() int
}

// Lifecycle applies the runtime side effects of agent record changes.
type Lifecycle interface {
	AgentCreated(ctx context.Context, agent *domain.Agent) error
	AgentUpdated(ctx context.Context, agent *domain.Agent) error
	StatusChanged(ctx context.Context, agent *domain.Agent, requested domain.AgentStatus) error
	AgentDeleting(agentID int64)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
