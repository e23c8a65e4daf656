package session

import (
	"sync"

	"typhonrelay/internal/models"
)

// Store keeps conversation histories in memory for the lifetime of the process.
// Sessions are created on first reference and only removed by Clear.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	maxMessages int
}

type entry struct {
	// turn serializes submits to one session for their whole read-append-call-append span.
	turn sync.Mutex
	// mu guards messages and is only held for short reads and writes.
	mu       sync.RWMutex
	messages []models.Message
}

// NewStore creates an empty store. maxMessages bounds each history; <= 0 disables the bound.
func NewStore(maxMessages int) *Store {
	return &Store{
		sessions:    make(map[string]*entry),
		maxMessages: maxMessages,
	}
}

func (s *Store) entry(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[key]
	if !ok {
		e = &entry{messages: make([]models.Message, 0)}
		s.sessions[key] = e
	}
	return e
}

// Get returns a copy of the session history, creating an empty session if needed.
func (s *Store) Get(key string) []models.Message {
	e := s.entry(key)
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Clear removes the session and reports whether it existed.
// It waits for an in-flight turn on the session to finish first.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	e, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.turn.Lock()
	defer e.turn.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[key] != e {
		return false
	}
	delete(s.sessions, key)
	return true
}

// Len reports how many sessions are held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reset drops every session. Used at shutdown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()
}

// Acquire locks the session for one turn. Callers must call Release on the returned Turn.
func (s *Store) Acquire(key string) *Turn {
	for {
		e := s.entry(key)
		e.turn.Lock()
		if s.live(key, e) {
			return &Turn{store: s, entry: e}
		}
		// cleared while we waited
		e.turn.Unlock()
	}
}

func (s *Store) live(key string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[key] == e
}

// Turn is exclusive access to one session while a submit is in flight.
// Appends made through a Turn are visible to Get immediately.
type Turn struct {
	store *Store
	entry *entry
	done  bool
}

// EnsureSystem inserts a system prompt at position 0 unless one is already present.
// It reports whether the prompt was inserted.
func (t *Turn) EnsureSystem(prompt string) bool {
	if prompt == "" {
		return false
	}
	e := t.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.messages {
		if m.Role == models.RoleSystem {
			return false
		}
	}
	e.messages = append([]models.Message{{Role: models.RoleSystem, Content: prompt}}, e.messages...)
	return true
}

// Append adds msg to the end of the history, trimming the oldest non-system messages
// when the store is bounded.
func (t *Turn) Append(msg models.Message) {
	e := t.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	if limit := t.store.maxMessages; limit > 0 && len(e.messages) > limit {
		e.messages = trimOldest(e.messages, limit)
	}
}

// Messages returns a copy of the history as seen by this turn.
func (t *Turn) Messages() []models.Message {
	e := t.entry
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Len returns the number of messages in the history.
func (t *Turn) Len() int {
	e := t.entry
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.messages)
}

// Release gives up the turn. Calling it twice is a no-op.
func (t *Turn) Release() {
	if t.done {
		return
	}
	t.done = true
	t.entry.turn.Unlock()
}

// trimOldest drops the oldest non-system messages until len(msgs) <= limit.
// A leading system message and the newest message are always kept, so a tight
// limit may leave one message over the bound.
func trimOldest(msgs []models.Message, limit int) []models.Message {
	start := 0
	if len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		start = 1
	}
	excess := len(msgs) - limit
	if excess <= 0 {
		return msgs
	}
	if excess > len(msgs)-start-1 {
		excess = len(msgs) - start - 1
	}
	if excess <= 0 {
		return msgs
	}
	trimmed := make([]models.Message, 0, len(msgs)-excess)
	trimmed = append(trimmed, msgs[:start]...)
	trimmed = append(trimmed, msgs[start+excess:]...)
	return trimmed
}
