// Package realtime holds the live-connection bookkeeping and notification
// fan-out: a Registry of connections and per-topic subscriptions, a Notifier
// that delivers messages and prunes dead connections, and a Handler that
// dispatches inbound control messages for one connection.
package realtime

import (
	"sort"
	"sync"
)

// Conn is one live bidirectional channel. Send must be safe to call from
// multiple goroutines.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Stats is a read-only snapshot used for diagnostics.
type Stats struct {
	TotalConnections    int      `json:"total_connections"`
	ActiveSubscriptions int      `json:"active_subscriptions"`
	Clients             []string `json:"clients"`
}

// Registry owns the set of live connections and topic -> subscriber sets.
// It knows nothing about analyses.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]Conn
	subscribers map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]Conn),
		subscribers: make(map[string]map[string]struct{}),
	}
}

// Register stores conn under id and returns the connection it replaced, if
// any. Callers are expected to close the returned connection; existing
// subscriptions of id carry over to the new connection.
func (r *Registry) Register(id string, conn Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.conns[id]
	r.conns[id] = conn
	return prev
}

// Unregister removes the connection and purges id from every topic.
// Topics left without subscribers are dropped. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

// Release unregisters id only while conn is still the registered holder, so a
// replaced connection shutting down does not evict its successor.
func (r *Registry) Release(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[id]; !ok || cur != conn {
		return false
	}
	r.unregisterLocked(id)
	return true
}

func (r *Registry) unregisterLocked(id string) {
	delete(r.conns, id)
	for topic, subs := range r.subscribers {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.subscribers, topic)
		}
	}
}

// Subscribe adds id to topic. Adding twice is a no-op.
func (r *Registry) Subscribe(id, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.subscribers[topic]
	if !ok {
		subs = make(map[string]struct{})
		r.subscribers[topic] = subs
	}
	subs[id] = struct{}{}
}

// Unsubscribe removes id from topic if present.
func (r *Registry) Unsubscribe(id, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.subscribers[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.subscribers, topic)
	}
}

// Conn returns the connection registered under id.
func (r *Registry) Conn(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Subscribers returns a snapshot of topic's subscriber ids.
func (r *Registry) Subscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.subscribers[topic]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// HasTopic reports whether topic currently has an entry.
func (r *Registry) HasTopic(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subscribers[topic]
	return ok
}

// Snapshot returns a copy of the connection map for iteration outside the lock.
func (r *Registry) Snapshot() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]string, 0, len(r.conns))
	for id := range r.conns {
		clients = append(clients, id)
	}
	sort.Strings(clients)
	return Stats{
		TotalConnections:    len(r.conns),
		ActiveSubscriptions: len(r.subscribers),
		Clients:             clients,
	}
}
