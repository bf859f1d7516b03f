// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/clawnest/internal/domain"
)

var (
	// ErrNotFound is returned by mutations that matched no row owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAgentLimit is returned when creating an agent would exceed the plan limit.
	ErrAgentLimit = errors.New("agent limit reached")
)

// Repository defines the interface for persisting users and agents.
// Lookups return (nil, nil) when nothing matches.
type Repository interface {
	// CreateUser inserts a user and sets its ID and CreatedAt.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// ListAgents returns the user's agents, newest first.
	ListAgents(ctx context.Context, userID int64) ([]*domain.Agent, error)

	// CreateAgent inserts an agent unless the owner already has maxAgents
	// agents, in which case it returns ErrAgentLimit.
	CreateAgent(ctx context.Context, agent *domain.Agent, maxAgents int) error

	// GetAgent retrieves an agent owned by userID.
	GetAgent(ctx context.Context, agentID, userID int64) (*domain.Agent, error)

	// UpdateAgentConfig replaces the agent's name, provider, skills,
	// integrations and prompt override.
	UpdateAgentConfig(ctx context.Context, agent *domain.Agent) error

	// UpdateAgentStatus sets the persisted status of an owned agent.
	UpdateAgentStatus(ctx context.Context, agentID, userID int64, status domain.AgentStatus) error

	// DeleteAgent removes an owned agent.
	DeleteAgent(ctx context.Context, agentID, userID int64) error

	// ListRunningAgents returns every agent persisted as running.
	ListRunningAgents(ctx context.Context) ([]*domain.Agent, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
