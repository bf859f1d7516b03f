package livechat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/identity"
)

const (
	readLimit       = 64 << 10
	writeTimeout    = 10 * time.Second
	replyFailedText = "could not get a response"
)

// AgentLookup loads an agent owned by a user; (nil, nil) when absent.
type AgentLookup interface {
	GetAgent(ctx context.Context, agentID, userID int64) (*domain.Agent, error)
}

// Chatter answers a message in the persona of an agent.
type Chatter interface {
	ChatAsAgent(ctx context.Context, agent domain.AgentView, message string) (string, error)
}

// WebSocketHandler serves GET /api/agents/{id}/ws.
type WebSocketHandler struct {
	agents        AgentLookup
	chat          Chatter
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(agents AgentLookup, chat Chatter, sm *SessionManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		agents:        agents,
		chat:          chat,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is the frame exchanged in both directions.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	agentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}

	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	agent, err := h.agents.GetAgent(r.Context(), agentID, userID)
	if err != nil {
		slog.Error("Failed to load agent for live chat", "error", err, "agent_id", agentID)
		writeError(w, http.StatusInternalServerError, "Failed to load agent")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if agent.Status != domain.StatusRunning {
		writeError(w, http.StatusBadRequest, "Agent is not running")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "agent_id", agentID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "agent_id", agentID)
		}
	}()

	h.sm.Register(agentID, ws)
	defer h.sm.Unregister(agentID, ws)

	slog.Info("Live chat connected", "agent_id", agentID, "user_id", userID, "ip", identity.IPFromRequest(r))
	h.readLoop(r.Context(), ws, agentID, userID)
	slog.Info("Live chat ended", "agent_id", agentID, "user_id", userID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, agentID, userID int64) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed", "agent_id", agentID, "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err, "agent_id", agentID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(ctx, ws, wsMessage{Type: "error", Content: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.write(ctx, ws, wsMessage{Type: "pong"})
		case "message":
			if !h.handleMessage(ctx, ws, agentID, userID, msg.Content) {
				return
			}
		default:
			h.write(ctx, ws, wsMessage{Type: "error", Content: "unsupported message type"})
		}
	}
}

// handleMessage answers one chat message. It returns false when the agent
// is gone or stopped and the socket should end.
func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *websocket.Conn, agentID, userID int64, content string) bool {
	if strings.TrimSpace(content) == "" {
		h.write(ctx, ws, wsMessage{Type: "error", Content: "Message is required"})
		return true
	}

	// Reload so config changes and stops apply to open sockets.
	agent, err := h.agents.GetAgent(ctx, agentID, userID)
	if err != nil {
		slog.Error("Failed to load agent for live chat", "error", err, "agent_id", agentID)
		h.write(ctx, ws, wsMessage{Type: "error", Content: replyFailedText})
		return true
	}
	if agent == nil || agent.Status != domain.StatusRunning {
		h.write(ctx, ws, wsMessage{Type: "error", Content: "Agent is not running"})
		return false
	}

	cfg, err := agent.Decode()
	if err != nil {
		slog.Error("Failed to decode agent for live chat", "error", err, "agent_id", agentID)
		h.write(ctx, ws, wsMessage{Type: "error", Content: replyFailedText})
		return true
	}

	reply, err := h.chat.ChatAsAgent(ctx, cfg.View, content)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Error("Live chat reply failed", "error", err, "agent_id", agentID)
		h.write(ctx, ws, wsMessage{Type: "error", Content: replyFailedText})
		return true
	}

	h.write(ctx, ws, wsMessage{Type: "reply", Content: reply})
	return true
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", msg.Type)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
