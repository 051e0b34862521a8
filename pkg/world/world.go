// Package world provides the key/value stores shared by the steps of a run.
//
// A World is created by the scheduler and handed to every scenario it runs in
// process, so concurrent tasks and concurrent steps see each other's writes.
// Individual reads and writes are safe from multiple goroutines; sequences of
// operations are not transactional and concurrent writers to one key race with
// last-write-wins semantics. Parallel worker processes get a fresh World.
//
// The same type backs the per-scenario scope handed to hooks and steps of a
// single scenario run.
package world

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// World is a concurrency-safe property store.
type World struct {
	mu    sync.RWMutex
	props map[string]any
}

// New returns an empty World.
func New() *World {
	return &World{props: make(map[string]any)}
}

// Set stores value under key, replacing any previous value.
func (w *World) Set(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.props[key] = value
}

// Get returns the value stored under key.
func (w *World) Get(key string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.props[key]
	return v, ok
}

// GetString returns the value stored under key when it is a string.
func (w *World) GetString(key string) (string, bool) {
	v, ok := w.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Delete removes key.
func (w *World) Delete(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.props, key)
}

// Update applies fn to the current value of key under the write lock and
// stores the result. It is the only read-modify-write primitive of the store.
func (w *World) Update(key string, fn func(current any, exists bool) any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	current, exists := w.props[key]
	w.props[key] = fn(current, exists)
}

// Keys returns the stored keys in sorted order.
func (w *World) Keys() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	keys := make([]string, 0, len(w.props))
	for k := range w.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.props)
}

// Export marshals every JSON-encodable value. Keys whose values cannot be
// encoded are returned in skipped.
func (w *World) Export() (state map[string]json.RawMessage, skipped []string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	state = make(map[string]json.RawMessage, len(w.props))
	for k, v := range w.props {
		raw, err := json.Marshal(v)
		if err != nil {
			skipped = append(skipped, k)
			continue
		}
		state[k] = raw
	}
	sort.Strings(skipped)
	return state, skipped
}

// Import decodes exported state into the store. Values are stored as the
// generic JSON types produced by encoding/json.
func (w *World) Import(state map[string]json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, raw := range state {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("failed to import world key %q: %w", k, err)
		}
		w.props[k] = v
	}
	return nil
}
