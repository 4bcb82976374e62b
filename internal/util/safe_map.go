package util

import (
	"sort"
	"sync"
)

type SafeMap[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

func NewSafeMap[V any]() *SafeMap[V] {
	return &SafeMap[V]{
		data: make(map[string]V),
	}
}

func (sm *SafeMap[V]) Set(key string, value V) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.data[key] = value
}

func (sm *SafeMap[V]) Get(key string) (V, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	val, ok := sm.data[key]
	return val, ok
}

// GetOrSet returns the existing value for key, or stores and returns value.
// The boolean reports whether the value was already present.
func (sm *SafeMap[V]) GetOrSet(key string, value V) (V, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if existing, ok := sm.data[key]; ok {
		return existing, true
	}
	sm.data[key] = value
	return value, false
}

func (sm *SafeMap[V]) Delete(key string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.data, key)
}

func (sm *SafeMap[V]) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.data = make(map[string]V)
}

func (sm *SafeMap[V]) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.data)
}

// Keys returns the keys in sorted order.
func (sm *SafeMap[V]) Keys() []string {
	sm.mu.RLock()
	keys := make([]string, 0, len(sm.data))
	for k := range sm.data {
		keys = append(keys, k)
	}
	sm.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
