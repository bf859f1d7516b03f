// Package livechat serves browser websocket chats with hosted agents.
package livechat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the live sockets attached to each agent.
type SessionManager struct {
	mu     sync.RWMutex
	active map[int64]map[*websocket.Conn]struct{}
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[int64]map[*websocket.Conn]struct{}),
	}
}

// Register adds a socket for an agent.
func (m *SessionManager) Register(agentID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[agentID]; !exists {
		m.active[agentID] = make(map[*websocket.Conn]struct{})
	}
	m.active[agentID][conn] = struct{}{}
	slog.Info("Live chat session registered", "agent_id", agentID, "sockets", len(m.active[agentID]))
}

// Unregister removes a socket for an agent.
func (m *SessionManager) Unregister(agentID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[agentID]; ok {
		if _, exists := conns[conn]; exists {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(m.active, agentID)
			}
			slog.Info("Live chat session unregistered", "agent_id", agentID)
		}
	}
}

// Count returns the number of sockets attached to an agent.
func (m *SessionManager) Count(agentID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[agentID])
}

// CloseAgent terminates every socket attached to an agent.
func (m *SessionManager) CloseAgent(agentID int64) {
	m.mu.Lock()
	conns, ok := m.active[agentID]
	delete(m.active, agentID)
	m.mu.Unlock()
	if !ok {
		return
	}

	// Close waits for the peer's close frame; do not hold up the caller.
	for conn := range conns {
		go func(c *websocket.Conn) {
			_ = c.Close(websocket.StatusGoingAway, "agent unavailable")
		}(conn)
	}
	slog.Info("Live chat sessions closed", "agent_id", agentID, "sockets", len(conns))
}

// CloseAll terminates every socket.
func (m *SessionManager) CloseAll() {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.CloseAgent(id)
	}
}
