package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so check-then-insert
	// sequences hold the write lock from the start.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT 'Starter',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'stopped',
		skills TEXT NOT NULL DEFAULT '[]',
		integrations TEXT NOT NULL DEFAULT '{}',
		system_prompt TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs a write with exponential backoff on SQLite lock conflicts.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < writeRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == writeRetries-1 {
			break
		}
		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, writeRetries, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.Plan == "" {
		user.Plan = domain.PlanStarter
	}
	now := time.Now()

	return withRetry(ctx, "create user", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO users (email, password_hash, name, plan, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.Email, user.PasswordHash, user.Name, string(user.Plan), now.Unix(),
		)
		if shared.IsSQLiteUniqueError(err) {
			return ErrEmailTaken
		}
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get user id: %w", err)
		}
		user.ID = id
		user.CreatedAt = time.Unix(now.Unix(), 0)
		return nil
	})
}

const userColumns = `id, email, password_hash, name, plan, created_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var plan string
	var createdAt int64

	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &plan, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.Plan = domain.Plan(plan)
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

const agentColumns = `id, user_id, name, provider, status, skills, integrations, system_prompt, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var status string
	var createdAt int64

	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Provider, &status,
		&a.SkillsJSON, &a.IntegrationsJSON, &a.SystemPrompt, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AgentStatus(status)
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string, args ...any) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("Failed to close rows", "error", closeErr)
		}
	}()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// ListAgents returns the user's agents, newest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, userID int64) ([]*domain.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// ListRunningAgents returns every agent persisted as running.
func (s *SQLiteStore) ListRunningAgents(ctx context.Context) ([]*domain.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE status = ? ORDER BY id`, string(domain.StatusRunning))
}

// GetAgent retrieves an agent owned by userID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID, userID int64) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ? AND user_id = ?`, agentID, userID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return a, nil
}

// CreateAgent counts the owner's agents and inserts within one write
// transaction.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent, maxAgents int) error {
	normalizeDocuments(agent)
	if agent.Status == "" {
		agent.Status = domain.StatusStopped
	}
	now := time.Now()

	return withRetry(ctx, "create agent", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE user_id = ?`, agent.UserID).Scan(&count); err != nil {
			return fmt.Errorf("count agents: %w", err)
		}
		if count >= maxAgents {
			return ErrAgentLimit
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO agents (user_id, name, provider, status, skills, integrations, system_prompt, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			agent.UserID, agent.Name, agent.Provider, string(agent.Status.Persisted()),
			agent.SkillsJSON, agent.IntegrationsJSON, agent.SystemPrompt, now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get agent id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit agent: %w", err)
		}

		agent.ID = id
		agent.Status = agent.Status.Persisted()
		agent.CreatedAt = time.Unix(now.Unix(), 0)
		return nil
	})
}

// UpdateAgentConfig replaces the agent's editable configuration.
func (s *SQLiteStore) UpdateAgentConfig(ctx context.Context, agent *domain.Agent) error {
	normalizeDocuments(agent)
	return withRetry(ctx, "update agent", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE agents SET name = ?, provider = ?, skills = ?, integrations = ?, system_prompt = ?
			 WHERE id = ? AND user_id = ?`,
			agent.Name, agent.Provider, agent.SkillsJSON, agent.IntegrationsJSON, agent.SystemPrompt,
			agent.ID, agent.UserID,
		)
		if err != nil {
			return fmt.Errorf("update agent: %w", err)
		}
		return expectOneRow(res)
	})
}

// UpdateAgentStatus sets the persisted status of an owned agent.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, agentID, userID int64, status domain.AgentStatus) error {
	return withRetry(ctx, "update agent status", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE agents SET status = ? WHERE id = ? AND user_id = ?`,
			string(status.Persisted()), agentID, userID,
		)
		if err != nil {
			return fmt.Errorf("update agent status: %w", err)
		}
		return expectOneRow(res)
	})
}

// DeleteAgent removes an owned agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, agentID, userID int64) error {
	return withRetry(ctx, "delete agent", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND user_id = ?`, agentID, userID)
		if err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		return expectOneRow(res)
	})
}

func expectOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeDocuments(a *domain.Agent) {
	if strings.TrimSpace(a.SkillsJSON) == "" {
		a.SkillsJSON = "[]"
	}
	if strings.TrimSpace(a.IntegrationsJSON) == "" {
		a.IntegrationsJSON = "{}"
	}
}
