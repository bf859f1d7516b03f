package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/identity"
	"github.com/ashureev/clawnest/internal/store"
)

// AgentsHandler serves the agent management and chat endpoints. Every route
// expects identity.RequireUser to have run.
type AgentsHandler struct {
	repo      store.Repository
	lifecycle Lifecycle
	bridges   BridgeStatus
	chat      AgentChatter
}

// NewAgentsHandler creates a new agents handler.
func NewAgentsHandler(repo store.Repository, lifecycle Lifecycle, bridges BridgeStatus, chat AgentChatter) *AgentsHandler {
	return &AgentsHandler{repo: repo, lifecycle: lifecycle, bridges: bridges, chat: chat}
}

// RegisterRoutes registers the agent routes. chatMiddleware wraps only the
// chat endpoint.
func (h *AgentsHandler) RegisterRoutes(r chi.Router, chatMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/api/agents", h.List)
	r.Post("/api/agents", h.Create)
	r.Put("/api/agents/{id}", h.Update)
	r.Patch("/api/agents/{id}/status", h.SetStatus)
	r.Delete("/api/agents/{id}", h.Delete)
	r.With(chatMiddleware...).Post("/api/agents/{id}/chat", h.Chat)
}

type agentRequest struct {
	Name         string              `json:"name"`
	Provider     string              `json:"provider"`
	Skills       []string            `json:"skills"`
	Integrations domain.Integrations `json:"integrations"`
	SystemPrompt string              `json:"system_prompt"`
}

type agentResponse struct {
	ID             int64               `json:"id"`
	UserID         int64               `json:"user_id"`
	Name           string              `json:"name"`
	Provider       string              `json:"provider"`
	Status         domain.AgentStatus  `json:"status"`
	Skills         []string            `json:"skills"`
	Integrations   domain.Integrations `json:"integrations"`
	SystemPrompt   string              `json:"system_prompt"`
	CreatedAt      time.Time           `json:"created_at"`
	TelegramActive bool                `json:"telegram_active"`
}

func (h *AgentsHandler) toResponse(a *domain.Agent) agentResponse {
	resp := agentResponse{
		ID:             a.ID,
		UserID:         a.UserID,
		Name:           a.Name,
		Provider:       a.Provider,
		Status:         a.Status,
		Skills:         []string{},
		SystemPrompt:   a.SystemPrompt,
		CreatedAt:      a.CreatedAt,
		TelegramActive: h.bridges.IsActive(a.ID),
	}
	cfg, err := a.Decode()
	if err != nil {
		slog.Warn("Agent has malformed configuration", "agent_id", a.ID, "error", err)
		return resp
	}
	resp.Skills = cfg.View.Skills
	resp.Integrations = cfg.Integrations.Masked()
	return resp
}

// List returns the caller's agents, newest first.
func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	agents, err := h.repo.ListAgents(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list agents", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, h.toResponse(a))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"agents": out})
}

// Create adds a running agent within the caller's plan limit.
func (h *AgentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := identity.UserIDFromContext(ctx)

	req, ok := decodeAgentRequest(w, r)
	if !ok {
		return
	}

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		slog.Error("Failed to load agent owner", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "User not found")
		return
	}

	agent := &domain.Agent{
		UserID:       userID,
		Name:         req.Name,
		Provider:     req.Provider,
		Status:       domain.StatusRunning,
		SystemPrompt: req.SystemPrompt,
	}
	if err := encodeDocuments(agent, req.Skills, req.Integrations); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	plan := user.EffectivePlan()
	if err := h.repo.CreateAgent(ctx, agent, plan.MaxAgents()); err != nil {
		if errors.Is(err, store.ErrAgentLimit) {
			Error(w, http.StatusForbidden, planLimitMessage(plan))
			return
		}
		slog.Error("Failed to create agent", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.lifecycle.AgentCreated(ctx, agent); err != nil {
		slog.Warn("Agent created without bridge", "agent_id", agent.ID, "error", err)
	}
	slog.Info("Agent created", "agent_id", agent.ID, "user_id", userID)
	JSON(w, http.StatusCreated, map[string]interface{}{"agent": h.toResponse(agent)})
}

// Update replaces an owned agent's configuration.
func (h *AgentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	req, ok := decodeAgentRequest(w, r)
	if !ok {
		return
	}

	var stored domain.Integrations
	if cfg, err := agent.Decode(); err == nil {
		stored = cfg.Integrations
	}

	agent.Name = req.Name
	agent.Provider = req.Provider
	agent.SystemPrompt = req.SystemPrompt
	if err := encodeDocuments(agent, req.Skills, req.Integrations.WithStoredSecrets(stored)); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.repo.UpdateAgentConfig(ctx, agent); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "Agent not found")
			return
		}
		slog.Error("Failed to update agent", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.lifecycle.AgentUpdated(ctx, agent); err != nil {
		slog.Warn("Agent updated without bridge", "agent_id", agent.ID, "error", err)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"agent": h.toResponse(agent)})
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus starts, stops or restarts an owned agent.
func (h *AgentsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	requested, valid := domain.ParseRequestedStatus(req.Status)
	if !valid {
		Error(w, http.StatusBadRequest, "Invalid status")
		return
	}

	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	if err := h.repo.UpdateAgentStatus(ctx, agent.ID, agent.UserID, requested); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "Agent not found")
			return
		}
		slog.Error("Failed to update agent status", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	agent.Status = requested.Persisted()

	if err := h.lifecycle.StatusChanged(ctx, agent, requested); err != nil {
		slog.Warn("Bridge reconcile failed after status change", "agent_id", agent.ID, "error", err)
	}
	slog.Info("Agent status changed", "agent_id", agent.ID, "status", requested)
	JSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Status updated",
		"status":          agent.Status,
		"telegram_active": h.bridges.IsActive(agent.ID),
	})
}

// Delete removes an owned agent after tearing down its runtime state.
func (h *AgentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	h.lifecycle.AgentDeleting(agent.ID)
	if err := h.repo.DeleteAgent(r.Context(), agent.ID, agent.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "Agent not found")
			return
		}
		slog.Error("Failed to delete agent", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	slog.Info("Agent deleted", "agent_id", agent.ID)
	JSON(w, http.StatusOK, map[string]string{"message": "Agent deleted"})
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat sends one message to a running agent and returns its reply.
func (h *AgentsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "Message is required")
		return
	}

	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	if agent.Status != domain.StatusRunning {
		Error(w, http.StatusBadRequest, "Agent is not running")
		return
	}

	cfg, err := agent.Decode()
	if err != nil {
		slog.Error("Agent has malformed configuration", "agent_id", agent.ID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to get response from agent")
		return
	}

	reply, err := h.chat.ChatAsAgent(ctx, cfg.View, req.Message)
	if err != nil {
		slog.Error("Agent chat failed", "agent_id", agent.ID, "request_id", middleware.GetReqID(ctx), "error", err)
		Error(w, http.StatusInternalServerError, "Failed to get response from agent")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// ownedAgent loads the {id} agent owned by the caller, writing 404 when it
// does not exist or belongs to someone else.
func (h *AgentsHandler) ownedAgent(w http.ResponseWriter, r *http.Request) (*domain.Agent, bool) {
	agentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return nil, false
	}
	userID := identity.UserIDFromContext(r.Context())

	agent, err := h.repo.GetAgent(r.Context(), agentID, userID)
	if err != nil {
		slog.Error("Failed to load agent", "error", err, "agent_id", agentID)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	if agent == nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return nil, false
	}
	return agent, true
}

func decodeAgentRequest(w http.ResponseWriter, r *http.Request) (agentRequest, bool) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Provider = strings.TrimSpace(req.Provider)
	req.SystemPrompt = strings.TrimSpace(req.SystemPrompt)
	if req.Name == "" || req.Provider == "" {
		Error(w, http.StatusBadRequest, "Name and provider are required")
		return req, false
	}
	return req, true
}

func encodeDocuments(agent *domain.Agent, skills []string, integrations domain.Integrations) error {
	if skills == nil {
		skills = []string{}
	}
	s, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	i, err := json.Marshal(integrations)
	if err != nil {
		return fmt.Errorf("encode integrations: %w", err)
	}
	agent.SkillsJSON = string(s)
	agent.IntegrationsJSON = string(i)
	return nil
}

func planLimitMessage(plan domain.Plan) string {
	if plan == domain.PlanStarter {
		return "Free plan allows only 1 agent. Upgrade to Pro to create more."
	}
	return "You have reached the maximum number of agents for your plan."
}
