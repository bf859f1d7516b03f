package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/clawnest/internal/domain"
	"github.com/ashureev/clawnest/internal/prompt"
)

const (
	apologyText = "Sorry, I encountered an error processing your message. Please try again."

	defaultPollBackoff = time.Second
	maxPollBackoff     = 30 * time.Second
	sendTimeout        = 30 * time.Second
	dialTimeout        = 30 * time.Second
	inboxSize          = 64
)

// Chatter answers a message in the persona of an agent.
type Chatter interface {
	ChatAsAgent(ctx context.Context, agent domain.AgentView, message string) (string, error)
}

// Manager owns the active bridges, at most one per agent.
type Manager struct {
	dialers     map[domain.Platform]Dialer
	chat        Chatter
	logger      *slog.Logger
	pollBackoff time.Duration

	// locks serializes Start and Stop for the same agent. Entries live only
	// while someone holds or waits for them.
	locksMu sync.Mutex
	locks   map[int64]*agentLock

	mu      sync.RWMutex
	bridges map[int64]*bridge
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer registers the dialer used for a platform.
func WithDialer(p domain.Platform, d Dialer) ManagerOption {
	return func(m *Manager) { m.dialers[p] = d }
}

// WithPollBackoff sets the initial delay after a failed poll.
func WithPollBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollBackoff = d
		}
	}
}

// NewManager creates a bridge manager.
func NewManager(chat Chatter, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dialers:     make(map[domain.Platform]Dialer),
		chat:        chat,
		logger:      logger,
		pollBackoff: defaultPollBackoff,
		locks:       make(map[int64]*agentLock),
		bridges:     make(map[int64]*bridge),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type agentLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lockAgent(agentID int64) func() {
	m.locksMu.Lock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &agentLock{}
		m.locks[agentID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, agentID)
		}
		m.locksMu.Unlock()
	}
}

// Start opens a bridge for the agent, replacing any existing one. The
// agent view is captured as-is for the lifetime of the bridge. A failed
// dial leaves the agent without a bridge. The dial is bounded by its own
// timeout and is not cut short when ctx is cancelled.
func (m *Manager) Start(ctx context.Context, agent domain.AgentView, cred domain.BridgeCredential) error {
	if strings.TrimSpace(cred.Token) == "" {
		return ErrNoCredential
	}
	dialer, ok := m.dialers[cred.Platform]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedPlatform, cred.Platform)
	}

	unlock := m.lockAgent(agent.ID)
	defer unlock()

	m.stopLocked(agent.ID)

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
	defer cancel()
	conn, err := dialer.Dial(dialCtx, cred)
	if err != nil {
		m.logger.Error("Failed to start bridge", "agent_id", agent.ID, "platform", cred.Platform, "error", err)
		return fmt.Errorf("start %s bridge for agent %d: %w", cred.Platform, agent.ID, err)
	}

	b := newBridge(agent, cred.Platform, conn, m.chat, m.logger, m.pollBackoff)
	m.mu.Lock()
	m.bridges[agent.ID] = b
	m.mu.Unlock()
	b.run()

	m.logger.Info("Bridge started", "agent_id", agent.ID, "agent_name", agent.Name, "platform", cred.Platform)
	return nil
}

// Stop tears down the agent's bridge and reports whether one existed.
func (m *Manager) Stop(agentID int64) bool {
	unlock := m.lockAgent(agentID)
	defer unlock()
	return m.stopLocked(agentID)
}

func (m *Manager) stopLocked(agentID int64) bool {
	m.mu.Lock()
	b, ok := m.bridges[agentID]
	delete(m.bridges, agentID)
	m.mu.Unlock()
	if !ok {
		return false
	}

	b.stop()
	m.logger.Info("Bridge stopped", "agent_id", agentID, "platform", b.platform)
	return true
}

// IsActive reports whether the agent currently has a bridge.
func (m *Manager) IsActive(agentID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bridges[agentID]
	return ok
}

// ActiveCount returns the number of active bridges.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

// StopAll tears down every bridge.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.bridges))
	for id := range m.bridges {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			m.Stop(id)
		}(id)
	}
	wg.Wait()
}

// bridge is one running connection with its poll and dispatch loops.
type bridge struct {
	agent    domain.AgentView
	platform domain.Platform
	conn     Conn
	chat     Chatter
	logger   *slog.Logger
	backoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan Inbound
	wg     sync.WaitGroup
}

func newBridge(agent domain.AgentView, platform domain.Platform, conn Conn, chat Chatter, logger *slog.Logger, backoff time.Duration) *bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &bridge{
		agent:    agent,
		platform: platform,
		conn:     conn,
		chat:     chat,
		logger:   logger.With("agent_id", agent.ID, "platform", platform),
		backoff:  backoff,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan Inbound, inboxSize),
	}
}

func (b *bridge) run() {
	b.wg.Add(2)
	go b.pollLoop()
	go b.dispatchLoop()
}

func (b *bridge) stop() {
	b.cancel()
	if err := b.conn.Close(); err != nil {
		b.logger.Debug("Bridge connection close failed", "error", err)
	}
	b.wg.Wait()
}

func (b *bridge) pollLoop() {
	defer b.wg.Done()

	delay := b.backoff
	for {
		msgs, err := b.conn.Poll(b.ctx)
		if b.ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Warn("Bridge polling error", "error", err, "retry_in", delay)
			if !sleepCtx(b.ctx, delay) {
				return
			}
			delay = min(delay*2, maxPollBackoff)
			continue
		}
		delay = b.backoff

		for _, msg := range msgs {
			select {
			case b.inbox <- msg:
			case <-b.ctx.Done():
				return
			}
		}
	}
}

func (b *bridge) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.inbox:
			b.handle(msg)
		}
	}
}

func (b *bridge) handle(msg Inbound) {
	if msg.Text == "" {
		return
	}

	if msg.Start {
		b.send(msg.ChatID, greeting(b.agent), true)
		return
	}

	if err := b.conn.Typing(b.ctx, msg.ChatID); err != nil {
		b.logger.Debug("Failed to send typing indicator", "chat_id", msg.ChatID, "error", err)
	}

	reply, err := b.chat.ChatAsAgent(b.ctx, b.agent, msg.Text)
	if err != nil {
		if b.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		b.logger.Error("Bridge message failed", "chat_id", msg.ChatID, "error", err)
		b.send(msg.ChatID, apologyText, false)
		return
	}

	for _, part := range Chunk(reply, MaxMessageUnits) {
		if !b.send(msg.ChatID, part, false) {
			return
		}
	}
}

func (b *bridge) send(chatID, text string, markdown bool) bool {
	ctx, cancel := context.WithTimeout(b.ctx, sendTimeout)
	defer cancel()

	err := b.conn.Send(ctx, Outbound{ChatID: chatID, Text: text, Markdown: markdown})
	if err != nil {
		if b.ctx.Err() == nil {
			b.logger.Error("Failed to send bridge message", "chat_id", chatID, "error", err)
		}
		return false
	}
	return true
}

func greeting(agent domain.AgentView) string {
	return fmt.Sprintf("👋 Hi! I'm *%s*, an AI agent powered by %s and hosted on %s.\n\nSend me any message and I'll respond!",
		agent.Name, agent.Provider, prompt.PlatformName)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
