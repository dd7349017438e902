package duragraph

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
)

// =============================================================================
// State
// =============================================================================

// State is the record threaded through a run: a string-keyed map of
// JSON-serializable values. Every node receives the state produced by its
// predecessor and returns its own (possibly unchanged) state. The engine
// snapshots state into the run ledger after each node, so values must
// survive a JSON round trip.
type State map[string]any

// NewState creates an empty state.
func NewState() State {
	return State{}
}

// Clone returns a shallow copy of the state. Nodes own the copy they are
// handed; the engine never shares one State value between runs.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	maps.Copy(out, s)
	return out
}

// Get returns the value for key and whether it is present.
func (s State) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// GetString returns the string value for key, or fallback if the key is
// absent or holds a non-string value.
func (s State) GetString(key, fallback string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return fallback
}

// Set stores a value under key and returns the state for chaining.
func (s State) Set(key string, value any) State {
	s[key] = value
	return s
}

// Delete removes key from the state.
func (s State) Delete(key string) {
	delete(s, key)
}

// Keys returns the state's keys in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that the state survives JSON serialization. The engine
// calls this before committing a snapshot; a node returning a value that
// cannot be marshaled is a node failure, not a storage failure.
func (s State) Validate() error {
	if _, err := json.Marshal(s); err != nil {
		return fmt.Errorf("state not serializable: %w", err)
	}
	return nil
}

// MarshalSnapshot serializes the state for ledger storage.
func (s State) MarshalSnapshot() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot restores a state from a ledger snapshot.
func UnmarshalSnapshot(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state snapshot: %w", err)
	}
	if s == nil {
		s = State{}
	}
	return s, nil
}

// =============================================================================
// Merge
// =============================================================================

// delta describes how one node's output differs from the state it was
// handed: keys it wrote (added or changed) and keys it removed.
type delta struct {
	written map[string]any
	removed []string
}

// diffState computes the delta from base to result.
func diffState(base, result State) delta {
	d := delta{written: make(map[string]any)}
	for k, v := range result {
		old, ok := base[k]
		if !ok || !equalValue(old, v) {
			d.written[k] = v
		}
	}
	for k := range base {
		if _, ok := result[k]; !ok {
			d.removed = append(d.removed, k)
		}
	}
	sort.Strings(d.removed)
	return d
}

// equalValue compares two state values through their JSON encoding. State
// values are serializable by contract, so the encoding is a usable
// identity; non-serializable values compare unequal and surface later in
// Validate.
func equalValue(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(da) == string(db)
}

// mergeStates combines the outputs of nodes that ran concurrently against
// the same base state. Results must be ordered by graph declaration order.
// Per key, the earliest-declared node that touched the key wins; a removal
// counts as touching the key. Keys in claimed were already taken by nodes
// committed in an earlier attempt of the same level and are never
// overridden, so a resumed level merges the way the original attempt
// would have.
func mergeStates(base State, results []State, claimed map[string]bool) State {
	merged := base.Clone()
	touched := make(map[string]bool, len(claimed))
	for k := range claimed {
		touched[k] = true
	}

	for _, result := range results {
		d := diffState(base, result)
		for _, k := range sortedKeys(d.written) {
			if touched[k] {
				continue
			}
			merged[k] = d.written[k]
			touched[k] = true
		}
		for _, k := range d.removed {
			if touched[k] {
				continue
			}
			delete(merged, k)
			touched[k] = true
		}
	}
	return merged
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
