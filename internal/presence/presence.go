// Package presence tracks which identities are online and which live
// connections each one currently holds. One user may hold several
// connections at once (multiple tabs or devices); the registry is the
// source of truth for "who is online".
package presence

import "sync"

// Conn is one live connection as seen by the registry. The transport
// layer owns the connection; the registry only references it.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// UserInfo is one row of a presence snapshot.
type UserInfo struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

type entry struct {
	name  string
	conns map[string]Conn
}

// Registry maps user IDs to their display name and live connection set.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*entry
	order []string
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*entry)}
}

// Register adds a connection to the user's set, creating the user entry
// if absent and updating the display name if it changed. Registering the
// same connection twice is a no-op apart from the name update.
func (r *Registry) Register(c Conn, userID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		e = &entry{conns: make(map[string]Conn)}
		r.users[userID] = e
		r.order = append(r.order, userID)
	}
	if name != "" {
		e.name = name
	}
	e.conns[c.ID()] = c
}

// Unregister removes a connection from its user's set. When the set
// becomes empty the user entry is dropped and the identity is returned
// with offline=true, signalling the user went fully offline.
func (r *Registry) Unregister(c Conn, userID string) (UserInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[userID]
	if !ok {
		return UserInfo{}, false
	}
	delete(e.conns, c.ID())
	if len(e.conns) > 0 {
		return UserInfo{}, false
	}

	delete(r.users, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return UserInfo{UserID: userID, Name: e.name}, true
}

// ConnectionsFor returns the user's live connections, empty if unknown.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

// Name returns the display name last announced for a user.
func (r *Registry) Name(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.users[userID]; ok {
		return e.name, true
	}
	return "", false
}

// Snapshot returns every online user in registration order. It is
// recomputed from the live connection sets on each call, never cached.
func (r *Registry) Snapshot() []UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UserInfo, 0, len(r.order))
	for _, id := range r.order {
		e := r.users[id]
		out = append(out, UserInfo{
			UserID:      id,
			Name:        e.name,
			Online:      true,
			Connections: len(e.conns),
		})
	}
	return out
}

// Count returns the number of distinct online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
