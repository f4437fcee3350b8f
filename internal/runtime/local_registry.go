package runtime

import "sync"

// LocalListenerRegistry keeps the key listeners of this node. Adding and
// removing report whether the key went from empty to non-empty and back so the
// caller knows when to bind or unbind remotely.
type LocalListenerRegistry struct {
	mu        sync.Mutex
	listeners map[RoutingKey][]*registryEntry
}

type registryEntry struct {
	listener EventListener
}

func NewLocalListenerRegistry() *LocalListenerRegistry {
	return &LocalListenerRegistry{listeners: make(map[RoutingKey][]*registryEntry)}
}

// LocalRegistration is the result of AddListener.
type LocalRegistration struct {
	registry *LocalListenerRegistry
	key      RoutingKey
	entry    *registryEntry
	first    bool

	once sync.Once
}

// IsFirstListener reports whether the key had no listener before this one.
func (r *LocalRegistration) IsFirstListener() bool {
	return r.first
}

// Unregister removes the listener and reports whether it was the last one for
// the key. Only the first call has an effect.
func (r *LocalRegistration) Unregister() (lastListener bool) {
	r.once.Do(func() {
		lastListener = r.registry.remove(r.key, r.entry)
	})
	return lastListener
}

func (r *LocalListenerRegistry) AddListener(key RoutingKey, listener EventListener) *LocalRegistration {
	entry := &registryEntry{listener: listener}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.listeners[key]
	r.listeners[key] = append(current, entry)

	return &LocalRegistration{
		registry: r,
		key:      key,
		entry:    entry,
		first:    len(current) == 0,
	}
}

func (r *LocalListenerRegistry) remove(key RoutingKey, entry *registryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.listeners[key]
	for i, e := range current {
		if e != entry {
			continue
		}
		remaining := make([]*registryEntry, 0, len(current)-1)
		remaining = append(remaining, current[:i]...)
		remaining = append(remaining, current[i+1:]...)
		if len(remaining) == 0 {
			delete(r.listeners, key)
			return true
		}
		r.listeners[key] = remaining
		return false
	}
	return false
}

// Listeners returns a snapshot of the listeners registered for key.
func (r *LocalListenerRegistry) Listeners(key RoutingKey) []EventListener {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.listeners[key]
	out := make([]EventListener, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.listener)
	}
	return out
}

// RoutingKeys returns the keys that currently have at least one listener.
func (r *LocalListenerRegistry) RoutingKeys() []RoutingKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]RoutingKey, 0, len(r.listeners))
	for k := range r.listeners {
		keys = append(keys, k)
	}
	return keys
}
