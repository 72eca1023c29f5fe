package ws

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/christopherjohns/roomcast/internal/message"
	"github.com/christopherjohns/roomcast/internal/presence"
	"github.com/christopherjohns/roomcast/internal/room"
	"github.com/christopherjohns/roomcast/internal/user"
)

// historyLimit is the size of the recent-message window sent on room join.
const historyLimit = 50

// Dispatcher demultiplexes inbound requests to handlers. One mutex
// serializes every request against the shared registries, so handlers
// need no internal locking; outbound I/O happens on per-connection write
// pumps and overlaps freely.
type Dispatcher struct {
	mu       sync.Mutex
	presence *presence.Registry
	rooms    *room.Directory
	store    *message.Store
	archive  message.Archive
	sessions *user.Store
	router   *Router
	admins   map[string]struct{}
}

// DispatcherConfig wires a Dispatcher's collaborators. Archive may be
// nil, in which case only the in-memory store is written.
type DispatcherConfig struct {
	Presence *presence.Registry
	Rooms    *room.Directory
	Store    *message.Store
	Archive  message.Archive
	Sessions *user.Store
	Router   *Router

	// AdminIDs may delete any message, not just their own.
	AdminIDs []string
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	admins := make(map[string]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Dispatcher{
		presence: cfg.Presence,
		rooms:    cfg.Rooms,
		store:    cfg.Store,
		archive:  cfg.Archive,
		sessions: cfg.Sessions,
		router:   cfg.Router,
		admins:   admins,
	}
}

// ack tracks the single terminal response owed to a request. Requests
// without a correlation ID are best-effort and get no response at all.
type ack struct {
	router *Router
	c      *Client
	id     string
	done   bool
}

func (a *ack) ok(p AckPayload) {
	if a.id == "" || a.done {
		return
	}
	a.done = true
	p.OK = true
	a.router.Ack(a.c, a.id, p)
}

func (a *ack) fail(code string) {
	if a.id == "" || a.done {
		return
	}
	a.done = true
	a.router.Ack(a.c, a.id, AckPayload{OK: false, Error: code})
}

// Dispatch routes one inbound request. Validation and authorization
// failures come back on the ack channel; a panicking handler is logged
// and converted to a server_error ack, and the connection stays open.
func (d *Dispatcher) Dispatch(c *Client, env Envelope) {
	a := &ack{router: d.router, c: c, id: env.ID}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ws: handler panic on %q from %s: %v", env.Type, c.id, r)
			a.fail(ErrCodeServerError)
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	switch canonicalType(env.Type) {
	case TypeJoin:
		d.handleJoin(c, env.Payload, a)
	case TypeCreateRoom:
		d.handleCreateRoom(c, env.Payload, a)
	case TypeJoinRoom:
		d.handleJoinRoom(c, env.Payload, a)
	case TypeLeaveRoom:
		d.handleLeaveRoom(c, env.Payload, a)
	case TypeMessage:
		d.handleMessage(c, env.Payload, a)
	case TypePrivateMessage:
		d.handlePrivateMessage(c, env.Payload, a)
	case TypeTyping:
		d.handleTyping(c, env.Payload)
	case TypeReaction:
		d.handleReaction(c, env.Payload, a)
	case TypeFileMessage:
		d.handleFileMessage(c, env.Payload, a)
	case TypeMarkRead:
		d.handleMarkRead(c, env.Payload, a)
	case TypeDeleteMessage:
		d.handleDeleteMessage(c, env.Payload, a)
	case TypeDeleteRoom:
		d.handleDeleteRoom(c, env.Payload, a)
	case TypeClearRoom:
		d.handleClearRoom(c, env.Payload, a)
	case TypeRoomsRequest:
		d.handleRoomsRequest(c, a)
	default:
		log.Printf("ws: unknown request type %q from %s", env.Type, c.id)
		a.fail(ErrCodeInvalidArgument)
	}

	// A handler that neither acked nor failed still owes a response.
	a.ok(AckPayload{})
}

// Disconnect removes a closed connection from every room it joined and
// from presence, broadcasting the membership and presence changes.
func (d *Dispatcher) Disconnect(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range d.rooms.Drop(c) {
		d.router.ToRoom(name, EventRoomUsers, d.roomUsers(name))
		d.systemNotice(name, c.userID, c.username, "left", c.id)
	}
	if _, offline := d.presence.Unregister(c, c.userID); offline {
		d.router.BroadcastAll(EventOnlineUsers, d.presence.Snapshot())
	}
}

func decode(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}

func (d *Dispatcher) handleJoin(c *Client, raw json.RawMessage, a *ack) {
	var p JoinPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Username)
	if name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	c.username = name
	d.sessions.SetUsername(c.token, name)
	d.presence.Register(c, c.userID, name)
	d.router.BroadcastAll(EventOnlineUsers, d.presence.Snapshot())
	a.ok(AckPayload{ID: c.userID, Name: name})
}

func (d *Dispatcher) handleCreateRoom(c *Client, raw json.RawMessage, a *ack) {
	var p CreateRoomPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	if _, err := d.rooms.Create(name, c.userID); err != nil {
		if errors.Is(err, room.ErrAlreadyExists) {
			a.fail(ErrCodeAlreadyExists)
		} else {
			a.fail(ErrCodeServerError)
		}
		return
	}
	d.broadcastRoomList()
	a.ok(AckPayload{Room: name})
}

func (d *Dispatcher) handleJoinRoom(c *Client, raw json.RawMessage, a *ack) {
	var p RoomPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Room)
	if name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	wasMember := d.rooms.IsMember(name, c)
	d.rooms.Join(name, c)

	recent := d.store.Recent(name, historyLimit)
	d.router.ToConnection(c, EventRoomMessages, RoomMessagesEvent{Room: name, Messages: recent})
	d.router.ToRoom(name, EventRoomUsers, d.roomUsers(name))
	if !wasMember {
		d.systemNotice(name, c.userID, c.username, "joined", c.id)
	}
	a.ok(AckPayload{Room: name, Messages: recent})
}

func (d *Dispatcher) handleLeaveRoom(c *Client, raw json.RawMessage, a *ack) {
	var p RoomPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Room)
	if name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	wasMember := d.rooms.IsMember(name, c)
	d.rooms.Leave(name, c)
	d.router.ToRoom(name, EventRoomUsers, d.roomUsers(name))
	if wasMember {
		d.systemNotice(name, c.userID, c.username, "left", c.id)
	}
	a.ok(AckPayload{Room: name})
}

func (d *Dispatcher) handleMessage(c *Client, raw json.RawMessage, a *ack) {
	var p ChatPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	body := strings.TrimSpace(p.Body())
	name := strings.TrimSpace(p.Room)
	if body == "" || name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	if !d.rooms.Exists(name) {
		a.fail(ErrCodeNotFound)
		return
	}

	// Sender identity always comes from the authenticated session, never
	// from the payload.
	m := d.store.Append(&message.Message{
		Room:       name,
		SenderID:   c.userID,
		SenderName: c.username,
		Content:    body,
	})
	d.archiveAppend(m)
	d.router.ToRoom(name, EventMessage, m)
	a.ok(AckPayload{ID: m.ID, TS: m.CreatedAt.UnixMilli()})
}

func (d *Dispatcher) handlePrivateMessage(c *Client, raw json.RawMessage, a *ack) {
	var p PrivatePayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	to := strings.TrimSpace(p.ToUserID)
	body := strings.TrimSpace(p.Body())
	if to == "" || body == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	// Stored even when the recipient is offline; it surfaces later via
	// the conversation history.
	m := d.store.Append(&message.Message{
		SenderID:    c.userID,
		SenderName:  c.username,
		RecipientID: to,
		Private:     true,
		Content:     body,
	})
	d.archiveAppend(m)
	d.router.ToUser(to, EventPrivateMessage, m)
	if to != c.userID {
		d.router.ToUser(c.userID, EventPrivateMessage, m)
	}
	a.ok(AckPayload{ID: m.ID, TS: m.CreatedAt.UnixMilli()})
}

func (d *Dispatcher) handleTyping(c *Client, raw json.RawMessage) {
	var p TypingPayload
	if !decode(raw, &p) {
		return
	}
	name := strings.TrimSpace(p.Room)
	if name == "" {
		return
	}
	d.router.ToRoomExcept(name, c.id, EventTyping, TypingEvent{
		Room:     name,
		UserID:   c.userID,
		UserName: c.username,
		IsTyping: p.IsTyping,
	})
}

func (d *Dispatcher) handleReaction(c *Client, raw json.RawMessage, a *ack) {
	var p ReactionPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	if p.MessageID == "" || p.Emoji == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	m, err := d.store.ToggleReaction(p.MessageID, p.Emoji, c.userID)
	if err != nil {
		a.fail(ErrCodeNotFound)
		return
	}
	d.archiveAppend(m)
	d.notifyMessage(m, EventReaction, m)
	a.ok(AckPayload{ID: m.ID})
}

func (d *Dispatcher) handleFileMessage(c *Client, raw json.RawMessage, a *ack) {
	var p FilePayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Room)
	if name == "" || strings.TrimSpace(p.Name) == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	if !d.rooms.Exists(name) {
		a.fail(ErrCodeNotFound)
		return
	}

	m := d.store.Append(&message.Message{
		Room:       name,
		SenderID:   c.userID,
		SenderName: c.username,
		File: &message.FileRef{
			Name: p.Name,
			Mime: p.Mime,
			Size: p.Size,
			URL:  p.URL,
		},
	})
	d.archiveAppend(m)
	d.router.ToRoom(name, EventMessage, m)
	a.ok(AckPayload{ID: m.ID, TS: m.CreatedAt.UnixMilli()})
}

func (d *Dispatcher) handleMarkRead(c *Client, raw json.RawMessage, a *ack) {
	var p MessageIDPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	if p.MessageID == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	m, err := d.store.MarkRead(p.MessageID, c.userID)
	if err != nil {
		a.fail(ErrCodeNotFound)
		return
	}
	d.archiveAppend(m)

	// The sender is notified on every device; room members in common may
	// see the receipt twice, which at-least-once delivery allows.
	evt := MessageReadEvent{MessageID: m.ID, UserID: c.userID}
	if m.Private {
		d.router.ToUser(m.SenderID, EventMessageRead, evt)
		d.router.ToUser(m.RecipientID, EventMessageRead, evt)
	} else {
		d.router.ToRoom(m.Room, EventMessageRead, evt)
		d.router.ToUser(m.SenderID, EventMessageRead, evt)
	}
	a.ok(AckPayload{ID: m.ID})
}

func (d *Dispatcher) handleDeleteMessage(c *Client, raw json.RawMessage, a *ack) {
	var p MessageIDPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	if p.MessageID == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	m := d.store.Find(p.MessageID)
	if m == nil {
		a.fail(ErrCodeNotFound)
		return
	}
	if m.SenderID != c.userID && !d.isAdmin(c.userID) {
		a.fail(ErrCodeNotAuthorized)
		return
	}

	d.store.Delete(m.ID)
	if d.archive != nil {
		d.archive.Delete(m.ID)
	}
	d.notifyMessage(m, EventMessageDeleted, MessageDeletedEvent{MessageID: m.ID, Room: m.Room})
	a.ok(AckPayload{ID: m.ID})
}

func (d *Dispatcher) handleDeleteRoom(c *Client, raw json.RawMessage, a *ack) {
	var p RoomPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Room)
	if name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}

	if !d.rooms.Delete(name) {
		a.fail(ErrCodeNotFound)
		return
	}
	d.store.Purge(name)
	if d.archive != nil {
		d.archive.Purge(name)
	}
	d.broadcastRoomList()
	a.ok(AckPayload{Room: name})
}

func (d *Dispatcher) handleClearRoom(c *Client, raw json.RawMessage, a *ack) {
	var p RoomPayload
	if !decode(raw, &p) {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	name := strings.TrimSpace(p.Room)
	if name == "" {
		a.fail(ErrCodeInvalidArgument)
		return
	}
	if !d.rooms.Exists(name) {
		a.fail(ErrCodeNotFound)
		return
	}

	// Clears the history but keeps the room shell.
	d.store.Purge(name)
	if d.archive != nil {
		d.archive.Purge(name)
	}
	d.broadcastRoomList()
	a.ok(AckPayload{Room: name})
}

func (d *Dispatcher) handleRoomsRequest(c *Client, a *ack) {
	list := d.roomList()
	d.router.ToConnection(c, EventRooms, list)
	a.ok(AckPayload{Rooms: list})
}

// systemNotice tells a room's other members that someone joined or left.
// Notices are plain events, never written to the message log.
func (d *Dispatcher) systemNotice(roomName, userID, username, action, exceptConnID string) {
	d.router.ToRoomExcept(roomName, exceptConnID, EventSystem, SystemEvent{
		Room:     roomName,
		UserID:   userID,
		Username: username,
		Action:   action,
	})
}

func (d *Dispatcher) isAdmin(userID string) bool {
	_, ok := d.admins[userID]
	return ok
}

func (d *Dispatcher) archiveAppend(m *message.Message) {
	if d.archive != nil {
		d.archive.Append(m)
	}
}

// notifyMessage fans an event about an existing message out to its
// audience: the room for room messages, both participants' devices for
// private ones.
func (d *Dispatcher) notifyMessage(m *message.Message, event string, payload any) {
	if m.Private {
		d.router.ToUser(m.SenderID, event, payload)
		if m.RecipientID != m.SenderID {
			d.router.ToUser(m.RecipientID, event, payload)
		}
		return
	}
	d.router.ToRoom(m.Room, event, payload)
}

// roomList snapshots every room with its live member and message counts,
// recomputed from the registries on each call.
func (d *Dispatcher) roomList() []RoomInfo {
	infos := d.rooms.List()
	out := make([]RoomInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, RoomInfo{
			Name:         info.Name,
			CreatedBy:    info.CreatedBy,
			CreatedAt:    info.CreatedAt,
			Members:      info.Members,
			MessageCount: d.store.Count(info.Name),
		})
	}
	return out
}

func (d *Dispatcher) broadcastRoomList() {
	d.router.BroadcastAll(EventRooms, d.roomList())
}

// roomUsers snapshots a room's membership, one entry per distinct user.
func (d *Dispatcher) roomUsers(name string) RoomUsersEvent {
	seen := make(map[string]struct{})
	evt := RoomUsersEvent{Room: name, Users: []RoomUser{}}
	for _, c := range d.rooms.MembersOf(name) {
		if _, ok := seen[c.UserID()]; ok {
			continue
		}
		seen[c.UserID()] = struct{}{}
		evt.Users = append(evt.Users, RoomUser{UserID: c.UserID(), Username: c.Username()})
	}
	return evt
}
