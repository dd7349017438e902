package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger for tests, examples, and workers
// that do not need durability across restarts. Entries are partitioned
// by run ID; concurrent appends for distinct runs do not interfere.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]Entry
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string][]Entry),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.runs[entry.RunID] {
		if existing.Seq == entry.Seq {
			return ErrDuplicateEntry
		}
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.runs[entry.RunID] = append(s.runs[entry.RunID], entry)
	return nil
}

// LatestSuccess implements Store.
func (s *MemoryStore) LatestSuccess(ctx context.Context, runID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Entry
	for _, entry := range s.runs[runID] {
		if entry.Outcome != OutcomeSuccess {
			continue
		}
		if latest == nil || entry.Seq > latest.Seq {
			e := entry
			latest = &e
		}
	}
	return latest, nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(ctx context.Context, runID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := append([]Entry(nil), s.runs[runID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}
