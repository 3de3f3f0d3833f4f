// Package session provides per-thread conversation state for multi-turn
// RAG interactions: message history, the bounded retry counter, the
// last-seen query language, the last context metadata, and a strictly
// monotonic revision number.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/agentic-rag/internal/ragmodel"
)

// Message is one turn of conversation history.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// State is the full per-thread session record.
type State struct {
	ThreadID            string
	Messages            []Message
	RetryCount          int
	LastQueryLanguage    string
	LastContextMetadata ragmodel.ContextMetadata
	Revision            uint64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// threadLock pairs a per-thread mutex with the state it guards, so
// concurrent requests against different threads never contend and
// concurrent requests against the same thread serialize instead of
// racing on revision numbers.
type threadLock struct {
	mu    sync.Mutex
	state *State
}

// Store is the in-memory, TTL-evicting session backend. An optional
// CheckpointBackend can be layered in front of it for durable storage;
// Store itself always remains the fast path.
type Store struct {
	mu          sync.RWMutex
	threads     map[string]*threadLock
	maxHistory  int
	ttl         time.Duration
	checkpoint  CheckpointBackend
}

// CheckpointBackend persists session state beyond process lifetime.
// A nil backend (the default) means sessions live only in memory.
type CheckpointBackend interface {
	Save(threadID string, state State) error
	Load(threadID string) (State, bool, error)
}

// NewStore creates a session store. checkpoint may be nil.
func NewStore(maxHistory int, ttl time.Duration, checkpoint CheckpointBackend) *Store {
	s := &Store{
		threads:    make(map[string]*threadLock),
		maxHistory: maxHistory,
		ttl:        ttl,
		checkpoint: checkpoint,
	}
	go s.cleanupLoop()
	return s
}

// DefaultStore matches the component design's defaults: 40 messages
// (20 turns), 1 hour TTL.
func DefaultStore() *Store {
	return NewStore(40, 1*time.Hour, nil)
}

func (s *Store) lockFor(threadID string) *threadLock {
	s.mu.RLock()
	tl, ok := s.threads[threadID]
	s.mu.RUnlock()
	if ok {
		return tl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tl, ok := s.threads[threadID]; ok {
		return tl
	}
	tl = &threadLock{}
	s.threads[threadID] = tl
	return tl
}

// Create allocates a new thread, generating a thread ID if none is
// supplied, and returns its initial (empty) state.
func (s *Store) Create(threadID string) State {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	tl := s.lockFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.state == nil {
		now := time.Now()
		tl.state = &State{ThreadID: threadID, CreatedAt: now, UpdatedAt: now, Revision: 1}
	}
	return *tl.state
}

// Load returns the current state for a thread, loading from the
// checkpoint backend on first access if the thread isn't resident in
// memory. The second return value is false if the thread has never
// been seen.
func (s *Store) Load(threadID string) (State, bool) {
	if threadID == "" {
		return State{}, false
	}
	tl := s.lockFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.state != nil {
		return *tl.state, true
	}
	if s.checkpoint != nil {
		if st, ok, err := s.checkpoint.Load(threadID); err == nil && ok {
			tl.state = &st
			return st, true
		}
	}
	return State{}, false
}

// Append adds a user/assistant message pair (or either alone), bumps
// the revision, trims history to maxHistory, and persists to the
// checkpoint backend if configured. Revision is strictly monotonic per
// thread: every call increments it exactly once, never resets.
func (s *Store) Append(threadID string, messages ...Message) State {
	tl := s.lockFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := time.Now()
	if tl.state == nil {
		tl.state = &State{ThreadID: threadID, CreatedAt: now, Revision: 0}
	}
	for i := range messages {
		if messages[i].Timestamp.IsZero() {
			messages[i].Timestamp = now
		}
	}
	tl.state.Messages = append(tl.state.Messages, messages...)
	if len(tl.state.Messages) > s.maxHistory {
		tl.state.Messages = tl.state.Messages[len(tl.state.Messages)-s.maxHistory:]
	}
	tl.state.Revision++
	tl.state.UpdatedAt = now

	s.persist(*tl.state)
	return *tl.state
}

// SetRetryCount updates the bounded retry counter for a thread.
func (s *Store) SetRetryCount(threadID string, n int) {
	tl := s.lockFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.state == nil {
		return
	}
	tl.state.RetryCount = n
	tl.state.Revision++
	tl.state.UpdatedAt = time.Now()
	s.persist(*tl.state)
}

// SetLastTurnMetadata records the language and context metadata of the
// most recently completed turn.
func (s *Store) SetLastTurnMetadata(threadID, language string, metadata ragmodel.ContextMetadata) {
	tl := s.lockFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.state == nil {
		return
	}
	tl.state.LastQueryLanguage = language
	tl.state.LastContextMetadata = metadata
	tl.state.Revision++
	tl.state.UpdatedAt = time.Now()
	s.persist(*tl.state)
}

// Reset clears a thread's history and retry counter but keeps its
// identity and revision counter strictly increasing.
func (s *Store) Reset(threadID string) {
	tl := s.lockFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.state == nil {
		return
	}
	tl.state.Messages = nil
	tl.state.RetryCount = 0
	tl.state.Revision++
	tl.state.UpdatedAt = time.Now()
	s.persist(*tl.state)
}

func (s *Store) persist(state State) {
	if s.checkpoint == nil {
		return
	}
	_ = s.checkpoint.Save(state.ThreadID, state)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.cleanup()
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, tl := range s.threads {
		tl.mu.Lock()
		expired := tl.state != nil && now.Sub(tl.state.UpdatedAt) > s.ttl
		tl.mu.Unlock()
		if expired {
			delete(s.threads, id)
		}
	}
}

// FormatForPrompt renders history as flattened "User: ..." /
// "Assistant: ..." lines for providers that don't distinguish turns.
// Messages with any other role are skipped.
func FormatForPrompt(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var out string
	for _, m := range messages {
		switch m.Role {
		case "user":
			out += "User: " + m.Content + "\n"
		case "assistant":
			out += "Assistant: " + m.Content + "\n"
		}
	}
	return out
}
