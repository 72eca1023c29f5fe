// Package user provides the identity layer: every connection is bound to
// a stable (userID, displayName) pair before the dispatcher accepts any
// request. A resume token keeps the userID stable across reconnects and
// lets one identity hold several simultaneous connections.
package user

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Identity is a stable user reference independent of any connection.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session binds a resume token to an identity and tracks how many live
// connections the identity currently holds.
type Session struct {
	Token     string
	UserID    string
	Username  string
	CreatedAt time.Time

	// attached is the number of live connections. disconnectedAt is set
	// when the last one goes away; the session stays resumable until the
	// store's TTL expires.
	attached       int
	disconnectedAt time.Time
}

// Identity returns the session's identity pair.
func (s *Session) Identity() Identity {
	return Identity{ID: s.UserID, Name: s.Username}
}

// Store manages identity sessions keyed by resume token, expiring
// fully-disconnected sessions after a TTL.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewStore creates a session store. A ttl of 0 disables expiry.
func NewStore(ttl time.Duration) *Store {
	st := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
	if ttl > 0 {
		go st.reapLoop()
	}
	return st
}

// Create registers a new identity with a fresh token and user ID.
func (st *Store) Create(username string) *Session {
	s := &Session{
		Token:     uuid.NewString(),
		UserID:    uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now(),
	}
	st.mu.Lock()
	st.sessions[s.Token] = s
	st.mu.Unlock()
	return s
}

// Resume returns the session for a token, or nil if unknown or expired.
func (st *Store) Resume(token string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[token]
}

// Attach records one more live connection for the session.
func (st *Store) Attach(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[token]; ok {
		s.attached++
		s.disconnectedAt = time.Time{}
	}
}

// Detach records a connection going away. When the last one detaches the
// session becomes reapable after the TTL.
func (st *Store) Detach(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[token]; ok {
		if s.attached > 0 {
			s.attached--
		}
		if s.attached == 0 {
			s.disconnectedAt = time.Now()
		}
	}
}

// SetUsername updates the display name on explicit re-announcement.
func (st *Store) SetUsername(token, name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[token]; ok {
		s.Username = name
	}
}

// Count returns the number of sessions, connected or not.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// reapLoop periodically removes expired disconnected sessions.
func (st *Store) reapLoop() {
	ticker := time.NewTicker(st.ttl / 2)
	defer ticker.Stop()
	for range ticker.C {
		st.reap()
	}
}

// reap removes sessions that have been fully disconnected past the TTL.
func (st *Store) reap() {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	for token, s := range st.sessions {
		if s.attached == 0 && !s.disconnectedAt.IsZero() && now.Sub(s.disconnectedAt) > st.ttl {
			delete(st.sessions, token)
		}
	}
}
