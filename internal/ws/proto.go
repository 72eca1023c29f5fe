package ws

import (
	"encoding/json"
	"time"

	"github.com/christopherjohns/roomcast/internal/message"
)

// Envelope is the JSON frame exchanged over the WebSocket. ID is the
// client's correlation token; a request carrying one receives exactly
// one ack envelope with the same ID.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound request types.
const (
	TypeJoin           = "join"
	TypeCreateRoom     = "createRoom"
	TypeJoinRoom       = "joinRoom"
	TypeLeaveRoom      = "leaveRoom"
	TypeMessage        = "message"
	TypePrivateMessage = "privateMessage"
	TypeTyping         = "typing"
	TypeReaction       = "reaction"
	TypeFileMessage    = "fileMessage"
	TypeMarkRead       = "markRead"
	TypeDeleteMessage  = "deleteMessage"
	TypeDeleteRoom     = "deleteRoom"
	TypeClearRoom      = "clearRoom"
	TypeRoomsRequest   = "roomsRequest"
)

// Server event types.
const (
	EventAck            = "ack"
	EventSession        = "session"
	EventOnlineUsers    = "onlineUsers"
	EventRooms          = "rooms"
	EventRoomMessages   = "room_messages"
	EventRoomUsers      = "room_users"
	EventMessage        = "message"
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventReaction       = "reaction"
	EventMessageRead    = "message_read"
	EventMessageDeleted = "messageDeleted"
	EventSystem         = "system"
)

// aliases maps historical request names onto the canonical ones. Applied
// once at the boundary so handlers only ever see canonical types.
var aliases = map[string]string{
	"create_room":     TypeCreateRoom,
	"join_room":       TypeJoinRoom,
	"leave_room":      TypeLeaveRoom,
	"private_message": TypePrivateMessage,
	"file_message":    TypeFileMessage,
	"mark_read":       TypeMarkRead,
	"delete_message":  TypeDeleteMessage,
	"delete_room":     TypeDeleteRoom,
	"clear_room":      TypeClearRoom,
	"rooms_request":   TypeRoomsRequest,
	"messageReaction": TypeReaction,
}

// canonicalType resolves a possibly aliased request type.
func canonicalType(t string) string {
	if c, ok := aliases[t]; ok {
		return c
	}
	return t
}

// Wire error codes.
const (
	ErrCodeInvalidArgument = "invalid_argument"
	ErrCodeAlreadyExists   = "already_exists"
	ErrCodeNotFound        = "not_found"
	ErrCodeNotAuthorized   = "not_authorized"
	ErrCodeServerError     = "server_error"
)

// JoinPayload announces (or re-announces) an identity. Token resumes a
// previous session so the user ID survives reconnects.
type JoinPayload struct {
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// SessionPayload is sent to a client after the join handshake.
type SessionPayload struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Resumed  bool   `json:"resumed"`
}

// CreateRoomPayload names the room to create.
type CreateRoomPayload struct {
	Name string `json:"name"`
}

// RoomPayload names the room a request targets.
type RoomPayload struct {
	Room string `json:"room"`
}

// ChatPayload is a room message. Older clients send "text" instead of
// "content"; both are accepted.
type ChatPayload struct {
	Room    string `json:"room"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

// Body returns the message body from whichever field was set.
func (p ChatPayload) Body() string {
	if p.Content != "" {
		return p.Content
	}
	return p.Text
}

// PrivatePayload is a direct message to a single user.
type PrivatePayload struct {
	ToUserID string `json:"to_user_id"`
	Content  string `json:"content"`
	Text     string `json:"text"`
}

// Body returns the message body from whichever field was set.
func (p PrivatePayload) Body() string {
	if p.Content != "" {
		return p.Content
	}
	return p.Text
}

// TypingPayload is an ephemeral typing indicator; never persisted.
type TypingPayload struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"is_typing"`
}

// TypingEvent is the indicator fanned out to the sender's room peers.
type TypingEvent struct {
	Room     string `json:"room"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ReactionPayload toggles an emoji reaction on a message.
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// FilePayload is a message whose body is a file reference.
type FilePayload struct {
	Room string `json:"room"`
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

// MessageIDPayload targets one message by ID (markRead, deleteMessage).
type MessageIDPayload struct {
	MessageID string `json:"message_id"`
}

// AckPayload is the single terminal response to a request. Exactly one
// of the optional fields is populated depending on the request type.
type AckPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	ID       string             `json:"id,omitempty"`
	Name     string             `json:"name,omitempty"`
	Room     string             `json:"room,omitempty"`
	TS       int64              `json:"ts,omitempty"`
	Messages []*message.Message `json:"messages,omitempty"`
	Rooms    []RoomInfo         `json:"rooms,omitempty"`
}

// RoomInfo is one row of a room list snapshot, including how many
// messages the store retains for the room.
type RoomInfo struct {
	Name         string    `json:"name"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	Members      int       `json:"members"`
	MessageCount int       `json:"message_count"`
}

// RoomUser is one member in a room_users snapshot.
type RoomUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// RoomUsersEvent is the per-room membership snapshot.
type RoomUsersEvent struct {
	Room  string     `json:"room"`
	Users []RoomUser `json:"users"`
}

// RoomMessagesEvent carries the recent-message window sent on join.
type RoomMessagesEvent struct {
	Room     string             `json:"room"`
	Messages []*message.Message `json:"messages"`
}

// SystemEvent is a join/leave notice fanned out to a room. Notices are
// ephemeral and never stored.
type SystemEvent struct {
	Room     string `json:"room"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Action   string `json:"action"`
}

// MessageReadEvent notifies that a user read a message.
type MessageReadEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

// MessageDeletedEvent notifies that a message was removed.
type MessageDeletedEvent struct {
	MessageID string `json:"message_id"`
	Room      string `json:"room,omitempty"`
}
