package history

import "sync"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store keeps per-thread conversation history in memory. Threads are
// fully isolated; the zero value is not usable, call NewStore.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{threads: make(map[string][]Message)}
}

// Messages returns a copy of the thread's history in append order.
// Mutating the returned slice never affects the store.
func (s *Store) Messages(threadID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.threads[threadID]...)
}

// Recent returns a copy of the thread's last n messages.
func (s *Store) Recent(threadID string, n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threads[threadID]
	if n < len(msgs) {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]Message(nil), msgs...)
}

// Append adds messages to the thread's history.
func (s *Store) Append(threadID string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], msgs...)
}

// Clear removes the thread's history.
func (s *Store) Clear(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
}

// Len returns the number of messages in the thread.
func (s *Store) Len(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads[threadID])
}
