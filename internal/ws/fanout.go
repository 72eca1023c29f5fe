package ws

import (
	"encoding/json"
	"log"

	"github.com/christopherjohns/roomcast/internal/presence"
	"github.com/christopherjohns/roomcast/internal/room"
)

// Sender is anything that can accept one serialized event.
type Sender interface {
	Send(data []byte) bool
}

// Router fans events out to connections. Targets are resolved against
// the presence registry and room directory at the moment of the call,
// so late joiners simply miss events emitted before they joined.
type Router struct {
	presence *presence.Registry
	rooms    *room.Directory
	conns    *ConnManager
}

// NewRouter creates a fan-out router over the given registries.
func NewRouter(p *presence.Registry, rooms *room.Directory, conns *ConnManager) *Router {
	return &Router{presence: p, rooms: rooms, conns: conns}
}

// envelope serializes one event frame, or nil on marshal failure.
func envelope(event, id string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: failed to marshal %s payload: %v", event, err)
		return nil
	}
	frame, err := json.Marshal(Envelope{Type: event, ID: id, Payload: data})
	if err != nil {
		log.Printf("ws: failed to marshal %s envelope: %v", event, err)
		return nil
	}
	return frame
}

// ToRoom delivers an event to every current member of a room.
func (r *Router) ToRoom(roomName, event string, payload any) {
	r.ToRoomExcept(roomName, "", event, payload)
}

// ToRoomExcept delivers an event to every current member of a room other
// than the connection with the given ID.
func (r *Router) ToRoomExcept(roomName, exceptConnID, event string, payload any) {
	frame := envelope(event, "", payload)
	if frame == nil {
		return
	}
	for _, c := range r.rooms.MembersOf(roomName) {
		if c.ID() == exceptConnID {
			continue
		}
		c.Send(frame)
	}
}

// ToConnection delivers an event to a single connection. A no-op if the
// connection is no longer live.
func (r *Router) ToConnection(c Sender, event string, payload any) {
	if frame := envelope(event, "", payload); frame != nil {
		c.Send(frame)
	}
}

// ToUser delivers an event to every live connection the user holds, so
// private messages and receipts reach all of a user's devices.
func (r *Router) ToUser(userID, event string, payload any) {
	frame := envelope(event, "", payload)
	if frame == nil {
		return
	}
	for _, c := range r.presence.ConnectionsFor(userID) {
		c.Send(frame)
	}
}

// BroadcastAll delivers an event to every live connection.
func (r *Router) BroadcastAll(event string, payload any) {
	frame := envelope(event, "", payload)
	if frame == nil {
		return
	}
	for _, c := range r.conns.Clients() {
		c.Send(frame)
	}
}

// Ack sends the terminal response for the request with correlation ID id.
func (r *Router) Ack(c Sender, id string, payload AckPayload) {
	if frame := envelope(EventAck, id, payload); frame != nil {
		c.Send(frame)
	}
}
