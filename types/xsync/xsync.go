// Package xsync implements a typed wrapper over sync.Map the engine uses
// for its keyed parameter table: looked up far more often than it is
// written to, with keys that are never removed once created.
package xsync

import "sync"

// SyncMap is a typed wrapper over sync.Map.
//
// As sync.Map, it can be used zero-valued, but must not be copied after
// first use.
type SyncMap[K comparable, V any] struct {
	Map sync.Map
}

// Load returns the value stored for key, or the zero value if absent. ok
// reports whether the value was found.
func (m *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.Map.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

// Store sets the value for a key.
func (m *SyncMap[K, V]) Store(key K, value V) {
	m.Map.Store(key, value)
}

// LoadOrStore returns the existing value for key if present; otherwise it
// stores and returns value. loaded is true if the value was loaded, false
// if stored.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.Map.LoadOrStore(key, value)
	return v.(V), loaded
}

// Range calls f sequentially for each key and value present in the map. If
// f returns false, Range stops the iteration.
func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.Map.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}
