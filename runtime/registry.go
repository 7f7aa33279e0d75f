// Package runtime handles change propagation, supervision and file loading.
// It orchestrates the system without containing business logic or domain rules.
package runtime

import "sync"

type Set map[chan struct{}]struct{}

// Registry fans change signals out to the watchers of a topic.
// A topic is typically a room scoped key prefix of a repository.
type Registry struct {
	mu       sync.RWMutex
	watchers map[string]Set
}

func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]Set)}
}

// Subscribe registers a watcher on a topic and returns its signal channel
// with the function removing it. The channel buffers a single pending
// signal, so a burst of publications collapses into one wake-up: watchers
// are expected to reload the whole state they observe, not to count signals.
func (r *Registry) Subscribe(topic string) (<-chan struct{}, func()) {
	signal := make(chan struct{}, 1)

	r.mu.Lock()
	if _, ok := r.watchers[topic]; !ok {
		r.watchers[topic] = make(Set)
	}
	r.watchers[topic][signal] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return signal, func() {
		once.Do(func() { r.unsubscribe(topic, signal) })
	}
}

// Publish wakes every watcher of the topic without ever blocking.
func (r *Registry) Publish(topic string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for signal := range r.watchers[topic] {
		select {
		case signal <- struct{}{}:
		default:
			// a wake-up is already pending
		}
	}
}

// Watchers returns the number of watchers currently registered on a topic.
func (r *Registry) Watchers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers[topic])
}

func (r *Registry) unsubscribe(topic string, signal chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.watchers[topic]; ok {
		delete(members, signal)

		// If no one is left on the topic, remove the entry entirely
		if len(members) == 0 {
			delete(r.watchers, topic)
		}
	}
}
