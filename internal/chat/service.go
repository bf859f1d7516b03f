// Package chat runs single chat exchanges for hosted agents and the
// platform support assistant on top of the conversation store.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/clawnest/internal/completion"
	"github.com/ashureev/clawnest/internal/conversation"
	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/prompt"
)

const (
	agentMaxTokens   = 1024
	supportMaxTokens = 512

	agentFallback   = "No response generated."
	supportFallback = "Sorry, I'm having trouble right now."
)

// Completer produces an assistant reply for a completion request.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

// Service answers chat messages and maintains their histories.
type Service struct {
	history *conversation.Store
	llm     Completer
	logger  *slog.Logger
}

// NewService creates a chat service.
func NewService(history *conversation.Store, llm Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{history: history, llm: llm, logger: logger}
}

// ChatAsAgent answers message in the persona of agent. The agent's
// history gains the user turn and, on success, the reply.
func (s *Service) ChatAsAgent(ctx context.Context, agent domain.AgentView, message string) (string, error) {
	system := prompt.Compose(agent)
	id := conversation.AgentConversation(agent.ID)

	reply, err := s.history.Exchange(ctx, id, message, s.replier(system, agentMaxTokens, agentFallback))
	if err != nil {
		s.logger.Warn("Agent chat failed", "agent_id", agent.ID, "error", err)
		return "", fmt.Errorf("agent %d chat: %w", agent.ID, err)
	}
	return reply, nil
}

// ChatAsSupport answers message as the platform support assistant within
// the given support session.
func (s *Service) ChatAsSupport(ctx context.Context, sessionID, message string) (string, error) {
	id := conversation.SupportConversation(sessionID)

	reply, err := s.history.Exchange(ctx, id, message, s.replier(prompt.Support, supportMaxTokens, supportFallback))
	if err != nil {
		s.logger.Warn("Support chat failed", "session_id", sessionID, "error", err)
		return "", fmt.Errorf("support chat: %w", err)
	}
	return reply, nil
}

// ClearHistory drops the agent's conversation.
func (s *Service) ClearHistory(agentID int64) {
	s.history.Clear(conversation.AgentConversation(agentID))
}

// History returns a copy of the agent's conversation.
func (s *Service) History(agentID int64) []conversation.Turn {
	return s.history.Get(conversation.AgentConversation(agentID))
}

func (s *Service) replier(system string, maxTokens int, fallback string) conversation.ReplyFunc {
	return func(ctx context.Context, turns []conversation.Turn) (string, error) {
		msgs := make([]completion.Message, len(turns))
		for i, t := range turns {
			msgs[i] = completion.Message{Role: string(t.Role), Content: t.Text}
		}
		return s.llm.Complete(ctx, completion.Request{
			System:    system,
			History:   msgs,
			MaxTokens: maxTokens,
			Fallback:  fallback,
		})
	}
}
