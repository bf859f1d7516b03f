//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/clawnest/internal/domain"
)

func createAgent(t *testing.T, ts *testServer, cookie *http.Cookie, body map[string]interface{}) int64 {
	t.Helper()
	resp, out := ts.do(t, http.MethodPost, "/api/agents", body, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return int64(out["agent"].(map[string]interface{})["id"].(float64))
}

func TestAgentsRequireSession(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/agents", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Not authenticated", body["error"])
}

func TestCreateAgent(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)

	resp, body := ts.do(t, http.MethodPost, "/api/agents", map[string]interface{}{
		"name":         "Helper",
		"provider":     "OpenAI",
		"skills":       []string{"web-search"},
		"integrations": map[string]interface{}{"telegram": map[string]string{"botToken": "123456:SECRETTOKEN"}},
	}, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Contains(t, body, "agent")
	agent := body["agent"].(map[string]interface{})
	assert.Equal(t, "running", agent["status"])
	assert.Equal(t, true, agent["telegram_active"])
	assert.Equal(t, []interface{}{"web-search"}, agent["skills"])
	tg := agent["integrations"].(map[string]interface{})["telegram"].(map[string]interface{})
	assert.Equal(t, "********OKEN", tg["botToken"])
	events, _, _ := ts.lifecycle.snapshot()
	assert.Equal(t, []string{"created"}, events)
}

func TestCreateAgentValidation(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)

	resp, body := ts.do(t, http.MethodPost, "/api/agents", map[string]interface{}{"name": "  ", "provider": "OpenAI"}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Name and provider are required", body["error"])
	events, _, _ := ts.lifecycle.snapshot()
	assert.Empty(t, events)
}

func TestCreateAgentPlanLimit(t *testing.T) {
	ts := newTestServer(t)
	_, starter := ts.addUser(t, "s@example.com", domain.PlanStarter)
	_, pro := ts.addUser(t, "p@example.com", domain.PlanPro)

	createAgent(t, ts, starter, map[string]interface{}{"name": "One", "provider": "OpenAI"})
	resp, body := ts.do(t, http.MethodPost, "/api/agents", map[string]interface{}{"name": "Two", "provider": "OpenAI"}, starter)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Free plan allows only 1 agent. Upgrade to Pro to create more.", body["error"])

	for i := 0; i < domain.PlanPro.MaxAgents(); i++ {
		createAgent(t, ts, pro, map[string]interface{}{"name": fmt.Sprintf("a%d", i), "provider": "OpenAI"})
	}
	resp, body = ts.do(t, http.MethodPost, "/api/agents", map[string]interface{}{"name": "extra", "provider": "OpenAI"}, pro)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "You have reached the maximum number of agents for your plan.", body["error"])
}

func TestListAgentsScopedToCaller(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.addUser(t, "a@example.com", domain.PlanPro)
	_, bob := ts.addUser(t, "b@example.com", domain.PlanPro)

	first := createAgent(t, ts, alice, map[string]interface{}{"name": "First", "provider": "OpenAI"})
	second := createAgent(t, ts, alice, map[string]interface{}{"name": "Second", "provider": "OpenAI"})
	createAgent(t, ts, bob, map[string]interface{}{"name": "Bobs", "provider": "OpenAI"})

	resp, body := ts.do(t, http.MethodGet, "/api/agents", nil, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "agents")
	items := body["agents"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, float64(second), items[0].(map[string]interface{})["id"])
	assert.Equal(t, float64(first), items[1].(map[string]interface{})["id"])
	assert.Equal(t, false, items[0].(map[string]interface{})["telegram_active"])
}

func TestListAgentsToleratesMalformedConfig(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)
	id := createAgent(t, ts, cookie, map[string]interface{}{"name": "Broken", "provider": "OpenAI"})
	ts.repo.corrupt(id)

	resp, body := ts.do(t, http.MethodGet, "/api/agents", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	item := body["agents"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, []interface{}{}, item["skills"])
	assert.Equal(t, map[string]interface{}{}, item["integrations"])
}

func TestUpdateAgentKeepsMaskedSecret(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)
	id := createAgent(t, ts, cookie, map[string]interface{}{
		"name":         "Helper",
		"provider":     "OpenAI",
		"integrations": map[string]interface{}{"telegram": map[string]string{"botToken": "123456:SECRETTOKEN"}},
	})

	resp, body := ts.do(t, http.MethodPut, fmt.Sprintf("/api/agents/%d", id), map[string]interface{}{
		"name":          "Renamed",
		"provider":      "Anthropic",
		"system_prompt": "Be brief.",
		"integrations":  map[string]interface{}{"telegram": map[string]string{"botToken": "********OKEN"}},
	}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", body["agent"].(map[string]interface{})["name"])

	stored := ts.repo.agent(id)
	assert.Equal(t, "Anthropic", stored.Provider)
	assert.Equal(t, "Be brief.", stored.SystemPrompt)
	cfg, err := stored.Decode()
	require.NoError(t, err)
	assert.Equal(t, "123456:SECRETTOKEN", cfg.Integrations.Telegram.BotToken)
	_, cleared, _ := ts.lifecycle.snapshot()
	assert.Equal(t, []int64{id}, cleared)
}

func TestUpdateAgentNotOwned(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.addUser(t, "a@example.com", domain.PlanPro)
	_, bob := ts.addUser(t, "b@example.com", domain.PlanPro)
	id := createAgent(t, ts, alice, map[string]interface{}{"name": "Mine", "provider": "OpenAI"})

	resp, body := ts.do(t, http.MethodPut, fmt.Sprintf("/api/agents/%d", id),
		map[string]interface{}{"name": "Stolen", "provider": "OpenAI"}, bob)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Agent not found", body["error"])
	assert.Equal(t, "Mine", ts.repo.agent(id).Name)
}

func TestSetStatus(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)
	id := createAgent(t, ts, cookie, map[string]interface{}{
		"name":         "Helper",
		"provider":     "OpenAI",
		"integrations": map[string]interface{}{"telegram": map[string]string{"botToken": "tok-1234"}},
	})
	path := fmt.Sprintf("/api/agents/%d/status", id)

	resp, body := ts.do(t, http.MethodPatch, path, map[string]string{"status": "stopped"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Status updated", body["message"])
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, false, body["telegram_active"])

	resp, body = ts.do(t, http.MethodPatch, path, map[string]string{"status": "restarting"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, true, body["telegram_active"])
	assert.Equal(t, domain.StatusRunning, ts.repo.agent(id).Status)
	_, cleared, _ := ts.lifecycle.snapshot()
	assert.Equal(t, []int64{id}, cleared)

	resp, body = ts.do(t, http.MethodPatch, path, map[string]string{"status": "paused"}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid status", body["error"])
}

func TestDeleteAgent(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.addUser(t, "a@example.com", domain.PlanPro)
	_, bob := ts.addUser(t, "b@example.com", domain.PlanPro)
	id := createAgent(t, ts, alice, map[string]interface{}{"name": "Mine", "provider": "OpenAI"})
	path := fmt.Sprintf("/api/agents/%d", id)

	resp, _ := ts.do(t, http.MethodDelete, path, nil, bob)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, _, deleting := ts.lifecycle.snapshot()
	assert.Empty(t, deleting, "foreign delete must not touch the bridge")

	resp, body := ts.do(t, http.MethodDelete, path, nil, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Agent deleted", body["message"])
	_, _, deleting = ts.lifecycle.snapshot()
	assert.Equal(t, []int64{id}, deleting)
	assert.Nil(t, ts.repo.agent(id))

	resp, _ = ts.do(t, http.MethodDelete, path, nil, alice)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentChat(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)
	id := createAgent(t, ts, cookie, map[string]interface{}{"name": "Helper", "provider": "OpenAI", "skills": []string{"code"}})
	path := fmt.Sprintf("/api/agents/%d/chat", id)

	resp, body := ts.do(t, http.MethodPost, path, map[string]string{"message": "hi"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Helper: hi", body["reply"])
	views, _ := ts.chat.snapshot()
	require.NotEmpty(t, views)
	assert.Equal(t, id, views[0].ID)
	assert.Equal(t, []string{"code"}, views[0].Skills)

	resp, body = ts.do(t, http.MethodPost, path, map[string]string{"message": "  spaced out  "}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Helper:   spaced out  ", body["reply"], "message reaches the model untrimmed")

	resp, body = ts.do(t, http.MethodPost, path, map[string]string{"message": "   "}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Message is required", body["error"])

	resp, body = ts.do(t, http.MethodPost, "/api/agents/9999/chat", map[string]string{"message": "hi"}, cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Agent not found", body["error"])

	ts.chat.setErr(errChatDown)
	resp, body = ts.do(t, http.MethodPost, path, map[string]string{"message": "hi"}, cookie)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to get response from agent", body["error"])
}

func TestAgentChatRequiresRunning(t *testing.T) {
	ts := newTestServer(t)
	_, cookie := ts.addUser(t, "a@example.com", domain.PlanPro)
	id := createAgent(t, ts, cookie, map[string]interface{}{"name": "Helper", "provider": "OpenAI"})
	ts.do(t, http.MethodPatch, fmt.Sprintf("/api/agents/%d/status", id), map[string]string{"status": "stopped"}, cookie)

	resp, body := ts.do(t, http.MethodPost, fmt.Sprintf("/api/agents/%d/chat", id), map[string]string{"message": "hi"}, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Agent is not running", body["error"])
	views, _ := ts.chat.snapshot()
	assert.Empty(t, views)
}
