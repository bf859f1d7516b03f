// Package lifecycle keeps the process-wide bridge and conversation state
// consistent with persisted agent records.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/clawnest/internal/domain"
)

// Bridges is the subset of the bridge manager the coordinator drives.
type Bridges interface {
	Start(ctx context.Context, agent domain.AgentView, cred domain.BridgeCredential) error
	Stop(agentID int64) bool
	IsActive(agentID int64) bool
}

// History clears an agent's conversation.
type History interface {
	ClearHistory(agentID int64)
}

// SocketCloser disconnects live chat sockets attached to an agent.
type SocketCloser interface {
	CloseAgent(agentID int64)
}

// Coordinator reconciles runtime state with agent records.
type Coordinator struct {
	bridges Bridges
	history History
	sockets SocketCloser
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator. sockets may be nil.
func NewCoordinator(bridges Bridges, history History, sockets SocketCloser, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{bridges: bridges, history: history, sockets: sockets, logger: logger}
}

// Reconcile starts the agent's bridge when it is running with a
// credential and stops it otherwise. A start failure is returned with the
// agent left without a bridge.
func (c *Coordinator) Reconcile(ctx context.Context, agent *domain.Agent) error {
	cfg, err := agent.Decode()
	if err != nil {
		c.bridges.Stop(agent.ID)
		return fmt.Errorf("reconcile agent %d: %w", agent.ID, err)
	}

	cred, ok := cfg.Integrations.Credential()
	if cfg.Status.Persisted() == domain.StatusRunning && ok {
		if err := c.bridges.Start(ctx, cfg.View, cred); err != nil {
			return fmt.Errorf("reconcile agent %d: %w", agent.ID, err)
		}
		return nil
	}

	if c.bridges.Stop(agent.ID) {
		c.logger.Debug("Bridge stopped by reconcile", "agent_id", agent.ID, "status", cfg.Status)
	}
	if cfg.Status.Persisted() != domain.StatusRunning {
		c.closeSockets(agent.ID)
	}
	return nil
}

// AgentCreated handles a newly persisted agent.
func (c *Coordinator) AgentCreated(ctx context.Context, agent *domain.Agent) error {
	return c.Reconcile(ctx, agent)
}

// AgentUpdated handles a configuration change. History is always cleared.
func (c *Coordinator) AgentUpdated(ctx context.Context, agent *domain.Agent) error {
	c.history.ClearHistory(agent.ID)
	return c.Reconcile(ctx, agent)
}

// StatusChanged handles a status request. agent carries the persisted
// status; a restart request also clears history.
func (c *Coordinator) StatusChanged(ctx context.Context, agent *domain.Agent, requested domain.AgentStatus) error {
	if requested == domain.StatusRestarting {
		c.history.ClearHistory(agent.ID)
	}
	return c.Reconcile(ctx, agent)
}

// AgentDeleting tears down runtime state before the record is removed.
func (c *Coordinator) AgentDeleting(agentID int64) {
	c.bridges.Stop(agentID)
	c.history.ClearHistory(agentID)
	c.closeSockets(agentID)
}

// Restore reconciles every agent persisted as running, at most
// concurrency at a time. Individual failures are logged and do not abort
// the restore; it returns the number of bridges started.
func (c *Coordinator) Restore(ctx context.Context, agents []*domain.Agent, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, a := range agents {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.Reconcile(gctx, a); err != nil {
				c.logger.Warn("Failed to restore agent bridge", "agent_id", a.ID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	started := 0
	for _, a := range agents {
		if c.bridges.IsActive(a.ID) {
			started++
		}
	}
	c.logger.Info("Agent bridges restored", "agents", len(agents), "bridges", started)
	return started, nil
}

func (c *Coordinator) closeSockets(agentID int64) {
	if c.sockets != nil {
		c.sockets.CloseAgent(agentID)
	}
}
