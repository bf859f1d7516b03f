// Package conversation holds volatile, bounded chat histories keyed by
// conversation. Nothing here is persisted; state lives for the process.
package conversation

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Class distinguishes conversation kinds, each with its own history cap.
type Class int

const (
	ClassAgent Class = iota
	ClassSupport
)

const (
	agentHistoryLimit   = 40
	supportHistoryLimit = 20
)

// Limit returns the maximum number of turns retained for the class.
func (c Class) Limit() int {
	if c == ClassSupport {
		return supportHistoryLimit
	}
	return agentHistoryLimit
}

func (c Class) String() string {
	if c == ClassSupport {
		return "support"
	}
	return "agent"
}

// ID identifies a conversation. It is comparable and used as a map key.
type ID struct {
	Class Class
	Key   string
}

// AgentConversation returns the conversation ID of an agent.
func AgentConversation(agentID int64) ID {
	return ID{Class: ClassAgent, Key: strconv.FormatInt(agentID, 10)}
}

// SupportConversation returns the conversation ID of an anonymous support session.
func SupportConversation(sessionID string) ID {
	return ID{Class: ClassSupport, Key: sessionID}
}

func (id ID) String() string {
	return id.Class.String() + ":" + id.Key
}

// entry is one conversation. mu guards turns; sem serializes whole
// exchanges so user/assistant pairs of concurrent callers never interleave.
// pending counts exchanges holding a reference and is guarded by Store.mu.
type entry struct {
	mu         sync.Mutex
	turns      []Turn
	sem        chan struct{}
	lastActive atomic.Int64
	pending    int
}

func newEntry(now time.Time) *entry {
	e := &entry{sem: make(chan struct{}, 1)}
	e.lastActive.Store(now.UnixNano())
	return e
}

func (e *entry) append(limit int, t Turn, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, t)
	if over := len(e.turns) - limit; over > 0 {
		// Drop from the front, reusing a fresh backing array so the evicted
		// turns are released.
		kept := make([]Turn, limit, limit+1)
		copy(kept, e.turns[over:])
		e.turns = kept
	}
	e.lastActive.Store(now.UnixNano())
}

func (e *entry) snapshot() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out
}

// Store maps conversation IDs to bounded turn sequences.
type Store struct {
	mu    sync.Mutex
	convs map[ID]*entry
	now   func() time.Time
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		convs: make(map[ID]*entry),
		now:   time.Now,
	}
}

func (s *Store) getOrCreate(id ID) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(id)
}

func (s *Store) getOrCreateLocked(id ID) *entry {
	e, ok := s.convs[id]
	if !ok {
		e = newEntry(s.now())
		s.convs[id] = e
	}
	return e
}

// acquire returns the conversation pinned against eviction until release.
func (s *Store) acquire(id ID) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getOrCreateLocked(id)
	e.pending++
	return e
}

func (s *Store) release(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.pending--
}

// Append adds a turn, creating the conversation if needed, and trims the
// oldest turns beyond the class limit.
func (s *Store) Append(id ID, role Role, text string) {
	s.getOrCreate(id).append(id.Class.Limit(), Turn{Role: role, Text: text}, s.now())
}

// Get returns a copy of the conversation's turns, oldest first. It never
// creates an entry.
func (s *Store) Get(id ID) []Turn {
	s.mu.Lock()
	e, ok := s.convs[id]
	s.mu.Unlock()
	if !ok {
		return []Turn{}
	}
	return e.snapshot()
}

// Clear removes a conversation. Clearing an absent conversation is a no-op.
func (s *Store) Clear(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// ReplyFunc produces the assistant reply for the given history, which
// already ends with the user's turn.
type ReplyFunc func(ctx context.Context, history []Turn) (string, error)

// Exchange records the user's turn, calls reply with the trimmed history
// and records the assistant's turn only if reply succeeds. Exchanges on
// the same conversation run one at a time in the order they acquire the
// conversation; waiting honours ctx.
func (s *Store) Exchange(ctx context.Context, id ID, userText string, reply ReplyFunc) (string, error) {
	e := s.acquire(id)
	defer s.release(e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-e.sem }()

	limit := id.Class.Limit()
	e.append(limit, Turn{Role: RoleUser, Text: userText}, s.now())

	answer, err := reply(ctx, e.snapshot())
	if err != nil {
		return "", err
	}

	e.append(limit, Turn{Role: RoleAssistant, Text: answer}, s.now())
	return answer, nil
}

// EvictIdle removes conversations of the given class that have not been
// touched within ttl and are not in the middle of an exchange. It returns
// the number of conversations removed.
func (s *Store) EvictIdle(class Class, ttl time.Duration) int {
	cutoff := s.now().Add(-ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.convs {
		if id.Class != class || e.lastActive.Load() >= cutoff {
			continue
		}
		if e.pending > 0 {
			continue
		}
		delete(s.convs, id)
		removed++
	}
	return removed
}
