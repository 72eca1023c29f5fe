package message

import (
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a message ID is not known to the store.
var ErrNotFound = errors.New("message not found")

// FileRef points at an uploaded blob. Upload handling itself lives outside
// the core; messages only carry the reference.
type FileRef struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Message is one chat message, room-scoped or private.
type Message struct {
	ID          string    `json:"id"`
	Room        string    `json:"room,omitempty"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	Content     string    `json:"content,omitempty"`
	File        *FileRef  `json:"file,omitempty"`
	Private     bool      `json:"private,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Reactions maps an emoji to the set of user IDs that reacted with it.
	// ReadBy is the set of user IDs that have marked the message read.
	// Both are kept sorted so snapshots are stable.
	Reactions map[string][]string `json:"reactions,omitempty"`
	ReadBy    []string            `json:"read_by,omitempty"`
}

// ConversationKey returns the history key for a private conversation
// between two users. The key is the same regardless of argument order,
// so both participants page through one shared log.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// HistoryKey returns the key under which this message is logged: the room
// name for room messages, the conversation key for private ones.
func (m *Message) HistoryKey() string {
	if m.Private {
		return ConversationKey(m.SenderID, m.RecipientID)
	}
	return m.Room
}

// ToggleReaction flips userID's membership in the emoji's reaction set.
// A second identical reaction by the same user removes the first one;
// empty reaction sets are dropped entirely. Returns true if the user has
// the reaction after the call.
func (m *Message) ToggleReaction(emoji, userID string) bool {
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return false
		}
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users = append(users, userID)
	sort.Strings(users)
	m.Reactions[emoji] = users
	return true
}

// MarkRead adds userID to the read set. Adding an ID already present is
// a no-op, so repeated read receipts never duplicate.
func (m *Message) MarkRead(userID string) bool {
	for _, u := range m.ReadBy {
		if u == userID {
			return false
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
	sort.Strings(m.ReadBy)
	return true
}
