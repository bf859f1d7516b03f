package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentStatus is the persisted lifecycle state of an agent.
type AgentStatus string

const (
	StatusStopped AgentStatus = "stopped"
	StatusRunning AgentStatus = "running"
	// StatusRestarting is only ever requested by clients. It is persisted as
	// running and additionally resets the agent's conversation history.
	StatusRestarting AgentStatus = "restarting"
)

// ParseRequestedStatus validates a status requested by a client.
func ParseRequestedStatus(s string) (AgentStatus, bool) {
	switch AgentStatus(s) {
	case StatusStopped, StatusRunning, StatusRestarting:
		return AgentStatus(s), true
	default:
		return "", false
	}
}

// Persisted collapses transient requests into a storable status.
func (s AgentStatus) Persisted() AgentStatus {
	if s == StatusRestarting {
		return StatusRunning
	}
	return s
}

// Agent is the persisted agent record. Skills and integrations are kept in
// their stored JSON form; use Decode to obtain the typed configuration.
type Agent struct {
	ID               int64
	UserID           int64
	Name             string
	Provider         string
	Status           AgentStatus
	SkillsJSON       string
	IntegrationsJSON string
	SystemPrompt     string
	CreatedAt        time.Time
}

// AgentView is the read-only projection consumed by prompt composition,
// chat and bridges. It never carries credentials.
type AgentView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Skills       []string `json:"skills"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// Integrations holds the optional messaging-platform credentials of an agent.
type Integrations struct {
	Telegram *TelegramIntegration `json:"telegram,omitempty"`
	Matrix   *MatrixIntegration   `json:"matrix,omitempty"`
}

// TelegramIntegration configures a Telegram bot bridge.
type TelegramIntegration struct {
	BotToken string `json:"botToken"`
}

// MatrixIntegration configures a Matrix bot bridge.
type MatrixIntegration struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
}

// Platform names a messaging platform a bridge can connect to.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformMatrix   Platform = "matrix"
)

// BridgeCredential is everything needed to open one bridge connection.
type BridgeCredential struct {
	Platform   Platform
	Token      string
	Homeserver string
	UserID     string
}

// Credential returns the bridge credential to use, if any. Telegram takes
// precedence over Matrix when both are configured.
func (i Integrations) Credential() (BridgeCredential, bool) {
	if i.Telegram != nil && strings.TrimSpace(i.Telegram.BotToken) != "" {
		return BridgeCredential{
			Platform: PlatformTelegram,
			Token:    strings.TrimSpace(i.Telegram.BotToken),
		}, true
	}
	if m := i.Matrix; m != nil && m.AccessToken != "" && m.Homeserver != "" && m.UserID != "" {
		return BridgeCredential{
			Platform:   PlatformMatrix,
			Token:      m.AccessToken,
			Homeserver: m.Homeserver,
			UserID:     m.UserID,
		}, true
	}
	return BridgeCredential{}, false
}

// Masked returns a copy with every secret replaced, suitable for API output.
func (i Integrations) Masked() Integrations {
	var out Integrations
	if i.Telegram != nil {
		out.Telegram = &TelegramIntegration{BotToken: maskSecret(i.Telegram.BotToken)}
	}
	if i.Matrix != nil {
		m := *i.Matrix
		m.AccessToken = maskSecret(m.AccessToken)
		out.Matrix = &m
	}
	return out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}

// AgentConfig is the decoded form of an Agent record.
type AgentConfig struct {
	View         AgentView
	Status       AgentStatus
	Integrations Integrations
}

// Decode parses the stored skills and integrations documents. Empty
// documents decode to empty values.
func (a *Agent) Decode() (*AgentConfig, error) {
	skills := []string{}
	if s := strings.TrimSpace(a.SkillsJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &skills); err != nil {
			return nil, fmt.Errorf("decode skills for agent %d: %w", a.ID, err)
		}
	}

	var integrations Integrations
	if s := strings.TrimSpace(a.IntegrationsJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &integrations); err != nil {
			return nil, fmt.Errorf("decode integrations for agent %d: %w", a.ID, err)
		}
	}

	return &AgentConfig{
		View: AgentView{
			ID:           a.ID,
			Name:         a.Name,
			Provider:     a.Provider,
			Skills:       skills,
			SystemPrompt: a.SystemPrompt,
		},
		Status:       a.Status,
		Integrations: integrations,
	}, nil
}

// WithStoredSecrets returns i with any secret that is still the masked form
// of the corresponding stored secret replaced by the stored value. Clients
// echo masked listings back on update.
func (i Integrations) WithStoredSecrets(stored Integrations) Integrations {
	out := i
	if i.Telegram != nil && stored.Telegram != nil && isMaskOf(i.Telegram.BotToken, stored.Telegram.BotToken) {
		out.Telegram = &TelegramIntegration{BotToken: stored.Telegram.BotToken}
	}
	if i.Matrix != nil && stored.Matrix != nil && isMaskOf(i.Matrix.AccessToken, stored.Matrix.AccessToken) {
		m := *i.Matrix
		m.AccessToken = stored.Matrix.AccessToken
		out.Matrix = &m
	}
	return out
}

func isMaskOf(candidate, secret string) bool {
	return secret != "" && strings.HasPrefix(candidate, "*") && candidate == maskSecret(secret)
}
