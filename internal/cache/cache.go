// Package cache is the keyed query cache the sync engine writes into. UI
// layers read from it and re-render when a key changes.
package cache

import (
	"sync"
)

const (
	CollectionMessages = "messages"
	CollectionChats    = "chats"
)

// Key identifies a cached collection, optionally scoped by id.
type Key struct {
	Collection string
	ID         string
}

func MessagesKey(chatID string) Key {
	return Key{Collection: CollectionMessages, ID: chatID}
}

func ChatsKey() Key {
	return Key{Collection: CollectionChats}
}

func (k Key) String() string {
	if k.ID == "" {
		return k.Collection
	}
	return k.Collection + "/" + k.ID
}

// Cache is the abstract keyed cache. Write replaces the value under key with
// the result of update; update receives ok=false when the key is absent and
// returning nil leaves the key absent.
type Cache interface {
	Read(key Key) (any, bool)
	Write(key Key, update func(old any, ok bool) any)
}

// Get reads a typed value. A value of another type is treated as absent.
func Get[T any](c Cache, key Key) (T, bool) {
	var zero T
	v, ok := c.Read(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Update applies a typed update. Returning keep=false removes the key.
func Update[T any](c Cache, key Key, update func(old T, ok bool) (next T, keep bool)) {
	c.Write(key, func(old any, ok bool) any {
		var typed T
		if ok {
			typed, ok = old.(T)
		}
		next, keep := update(typed, ok)
		if !keep {
			return nil
		}
		return next
	})
}

// Memory is an in-process Cache. Watchers are called after every write, in
// write order, outside the cache lock.
type Memory struct {
	mutex   sync.RWMutex
	entries map[Key]any

	watchMutex sync.Mutex
	watchers   map[int]func(Key)
	nextWatch  int
}

func NewMemory() *Memory {
	return &Memory{
		entries:  map[Key]any{},
		watchers: map[int]func(Key){},
	}
}

func (m *Memory) Read(key Key) (any, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) Write(key Key, update func(old any, ok bool) any) {
	func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		old, ok := m.entries[key]
		next := update(old, ok)
		if next == nil {
			delete(m.entries, key)
		} else {
			m.entries[key] = next
		}
	}()
	m.notify(key)
}

// Keys returns the cached keys of collection.
func (m *Memory) Keys(collection string) []Key {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := []Key{}
	for k := range m.entries {
		if k.Collection == collection {
			keys = append(keys, k)
		}
	}
	return keys
}

// Watch registers fn for write notifications. The returned func removes it.
func (m *Memory) Watch(fn func(Key)) func() {
	m.watchMutex.Lock()
	defer m.watchMutex.Unlock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn
	return func() {
		m.watchMutex.Lock()
		defer m.watchMutex.Unlock()
		delete(m.watchers, id)
	}
}

func (m *Memory) notify(key Key) {
	m.watchMutex.Lock()
	fns := make([]func(Key), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.watchMutex.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}
