package message

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultWindowSize caps the per-room recent window. The full log is
	// retained for pagination; only the window sent on join is bounded.
	DefaultWindowSize = 2000

	// MaxPageSize bounds a single pagination response.
	MaxPageSize = 200

	// DefaultPageSize is used when a pagination request gives no limit.
	DefaultPageSize = 50
)

// Store keeps the in-memory message log: a global append-ordered log with
// full history plus a bounded recent window per room or conversation.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*Message
	log        []*Message
	windows    map[string][]*Message
	windowSize int
}

// NewStore creates a store whose per-room windows retain up to windowSize
// messages. A windowSize <= 0 falls back to DefaultWindowSize.
func NewStore(windowSize int) *Store {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Store{
		byID:       make(map[string]*Message),
		windows:    make(map[string][]*Message),
		windowSize: windowSize,
	}
}

// Append stores a message, assigning its ID and timestamp if absent.
// UUIDv7 IDs sort by creation order, which keeps the ID space aligned
// with the log order. Returns a snapshot of the stored message.
func (s *Store) Append(m *Message) *Message {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := m.clone()
	s.byID[stored.ID] = stored
	s.log = append(s.log, stored)

	key := stored.HistoryKey()
	w := append(s.windows[key], stored)
	if len(w) > s.windowSize {
		w = w[len(w)-s.windowSize:]
	}
	s.windows[key] = w

	return stored.clone()
}

// Find returns a snapshot of the message with the given ID, or nil.
func (s *Store) Find(id string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byID[id]; ok {
		return m.clone()
	}
	return nil
}

// Delete removes a message from every index and returns it for
// notification fan-out, or nil if the ID is unknown.
func (s *Store) Delete(id string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	s.log = removeByID(s.log, id)

	key := m.HistoryKey()
	if w := removeByID(s.windows[key], id); len(w) == 0 {
		delete(s.windows, key)
	} else {
		s.windows[key] = w
	}

	return m
}

// Recent returns the last n messages for a key from the bounded window,
// in ascending time order.
func (s *Store) Recent(key string, n int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := s.windows[key]
	if n > 0 && len(w) > n {
		w = w[len(w)-n:]
	}
	out := make([]*Message, len(w))
	for i, m := range w {
		out[i] = m.clone()
	}
	return out
}

// Paginate returns up to limit messages for a key strictly older than
// before, in ascending time order. The limit is clamped to MaxPageSize;
// a zero before means "from the end of the log".
func (s *Store) Paginate(key string, before time.Time, limit int) []*Message {
	limit = ClampPageSize(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for i := len(s.log) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.log[i]
		if m.HistoryKey() != key {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m.clone())
	}
	slices.Reverse(out)
	return out
}

// ToggleReaction toggles userID's reaction on the message and returns the
// updated snapshot. Returns ErrNotFound if the ID is unknown.
func (s *Store) ToggleReaction(id, emoji, userID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.ToggleReaction(emoji, userID)
	return m.clone(), nil
}

// MarkRead records a read receipt and returns the updated snapshot.
// Marking twice is a no-op. Returns ErrNotFound if the ID is unknown.
func (s *Store) MarkRead(id, userID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.MarkRead(userID)
	return m.clone(), nil
}

// Count returns the number of retained messages for a key.
func (s *Store) Count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.log {
		if m.HistoryKey() == key {
			n++
		}
	}
	return n
}

// Purge drops every message for a key and returns how many were removed.
func (s *Store) Purge(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	kept := s.log[:0]
	for _, m := range s.log {
		if m.HistoryKey() == key {
			delete(s.byID, m.ID)
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.log = kept
	delete(s.windows, key)
	return n
}

// ClampPageSize normalizes a client-supplied page limit.
func ClampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}

func removeByID(msgs []*Message, id string) []*Message {
	for i, m := range msgs {
		if m.ID == id {
			return append(msgs[:i], msgs[i+1:]...)
		}
	}
	return msgs
}

func (m *Message) clone() *Message {
	c := *m
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			c.Reactions[emoji] = slices.Clone(users)
		}
	}
	c.ReadBy = slices.Clone(m.ReadBy)
	return &c
}
