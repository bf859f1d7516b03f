//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/identity"
	"github.com/ashureev/clawnest/internal/store"
)

type fakeRepo struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*domain.User
	agents  map[int64]*domain.Agent
	pingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[int64]*domain.User), agents: make(map[int64]*domain.Agent)}
}

func (f *fakeRepo) CreateUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.ErrEmailTaken
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now()
	copy := *user
	f.users[user.ID] = &copy
	return nil
}

func (f *fakeRepo) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListAgents(_ context.Context, userID int64) ([]*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Agent
	for _, a := range f.agents {
		if a.UserID == userID {
			copy := *a
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreateAgent(_ context.Context, agent *domain.Agent, maxAgents int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.agents {
		if a.UserID == agent.UserID {
			count++
		}
	}
	if count >= maxAgents {
		return store.ErrAgentLimit
	}
	f.nextID++
	agent.ID = f.nextID
	agent.CreatedAt = time.Now()
	if agent.Status == "" {
		agent.Status = domain.StatusStopped
	}
	agent.Status = agent.Status.Persisted()
	copy := *agent
	f.agents[agent.ID] = &copy
	return nil
}

func (f *fakeRepo) GetAgent(_ context.Context, agentID, userID int64) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[agentID]
	if a == nil || a.UserID != userID {
		return nil, nil
	}
	copy := *a
	return &copy, nil
}

func (f *fakeRepo) UpdateAgentConfig(_ context.Context, agent *domain.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[agent.ID]
	if a == nil || a.UserID != agent.UserID {
		return store.ErrNotFound
	}
	a.Name = agent.Name
	a.Provider = agent.Provider
	a.SkillsJSON = agent.SkillsJSON
	a.IntegrationsJSON = agent.IntegrationsJSON
	a.SystemPrompt = agent.SystemPrompt
	return nil
}

func (f *fakeRepo) UpdateAgentStatus(_ context.Context, agentID, userID int64, status domain.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[agentID]
	if a == nil || a.UserID != userID {
		return store.ErrNotFound
	}
	a.Status = status.Persisted()
	return nil
}

func (f *fakeRepo) DeleteAgent(_ context.Context, agentID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[agentID]
	if a == nil || a.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.agents, agentID)
	return nil
}

func (f *fakeRepo) ListRunningAgents(_ context.Context) ([]*domain.Agent, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}


func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeRepo) corrupt(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[id].IntegrationsJSON = "{not json"
}

func (f *fakeRepo) agent(id int64) *domain.Agent {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.agents[id]
	if a == nil {
		return nil
	}
	copy := *a
	return &copy
}

// fakeLifecycle marks an agent's bridge active when it reconciles to
// running with a credential, mirroring the coordinator.
type fakeLifecycle struct {
	mu       sync.Mutex
	active   map[int64]bool
	cleared  []int64
	deleting []int64
	events   []string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{active: make(map[int64]bool)}
}

func (f *fakeLifecycle) reconcile(agent *domain.Agent) {
	cfg, err := agent.Decode()
	if err != nil {
		delete(f.active, agent.ID)
		return
	}
	_, ok := cfg.Integrations.Credential()
	f.active[agent.ID] = ok && agent.Status == domain.StatusRunning
}

func (f *fakeLifecycle) AgentCreated(_ context.Context, agent *domain.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "created")
	f.reconcile(agent)
	return nil
}

func (f *fakeLifecycle) AgentUpdated(_ context.Context, agent *domain.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "updated")
	f.cleared = append(f.cleared, agent.ID)
	f.reconcile(agent)
	return nil
}

func (f *fakeLifecycle) StatusChanged(_ context.Context, agent *domain.Agent, requested domain.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "status:"+string(requested))
	if requested == domain.StatusRestarting {
		f.cleared = append(f.cleared, agent.ID)
	}
	f.reconcile(agent)
	return nil
}

func (f *fakeLifecycle) AgentDeleting(agentID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleting = append(f.deleting, agentID)
	delete(f.active, agentID)
}

func (f *fakeLifecycle) snapshot() (events []string, cleared, deleting []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...), append([]int64(nil), f.cleared...), append([]int64(nil), f.deleting...)
}

func (f *fakeLifecycle) IsActive(agentID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[agentID]
}

func (f *fakeLifecycle) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, on := range f.active {
		if on {
			n++
		}
	}
	return n
}

type fakeChat struct {
	mu       sync.Mutex
	err      error
	views    []domain.AgentView
	sessions []string
}

func (f *fakeChat) ChatAsAgent(_ context.Context, agent domain.AgentView, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.views = append(f.views, agent)
	return agent.Name + ": " + message, nil
}

func (f *fakeChat) ChatAsSupport(_ context.Context, sessionID, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sessions = append(f.sessions, sessionID)
	return "support: " + message, nil
}

func (f *fakeChat) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeChat) snapshot() (views []domain.AgentView, sessions []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AgentView(nil), f.views...), append([]string(nil), f.sessions...)
}

type fakeCounter int

func (c fakeCounter) Len() int { return int(c) }

var errChatDown = errors.New("chat down")

type testServer struct {
	srv       *httptest.Server
	repo      *fakeRepo
	lifecycle *fakeLifecycle
	chat      *fakeChat
	tokens    *identity.Tokens
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		repo:      newFakeRepo(),
		lifecycle: newFakeLifecycle(),
		chat:      &fakeChat{},
		tokens:    identity.NewTokens([]byte("test-secret"), time.Hour),
	}

	r := chi.NewRouter()
	NewAuthHandler(ts.repo, ts.tokens, true).RegisterRoutes(r)
	NewSupportHandler(ts.chat).RegisterRoutes(r)
	NewHealthHandler(ts.repo, ts.lifecycle, fakeCounter(3)).RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser(ts.tokens))
		NewAgentsHandler(ts.repo, ts.lifecycle, ts.lifecycle, ts.chat).RegisterRoutes(r)
	})

	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

// addUser inserts a user directly and returns a session cookie for it.
func (ts *testServer) addUser(t *testing.T, email string, plan domain.Plan) (*domain.User, *http.Cookie) {
	t.Helper()
	u := &domain.User{Email: email, Name: "Test", Plan: plan}
	require.NoError(t, ts.repo.CreateUser(context.Background(), u))
	token, err := ts.tokens.Issue(u.ID, u.Email)
	require.NoError(t, err)
	return u, &http.Cookie{Name: identity.CookieName, Value: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}
