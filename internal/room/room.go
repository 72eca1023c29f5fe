// Package room maps room names to their metadata and member connections.
// Rooms are keyed by name, created explicitly or lazily on first join,
// and listed in creation order so clients see a stable ordering.
package room

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyExists is returned by Create when the name is taken.
	ErrAlreadyExists = errors.New("room already exists")
	// ErrNotFound is returned when a room name is unknown.
	ErrNotFound = errors.New("room not found")
)

// Conn is one live member connection. Owned by the transport layer and
// only referenced here.
type Conn interface {
	ID() string
	UserID() string
	Username() string
	Send(data []byte) bool
}

// Room is a named group of member connections.
type Room struct {
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	members map[string]Conn
}

// Info is one row of a room list snapshot.
type Info struct {
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Members   int       `json:"members"`
}

// Directory holds all rooms and their memberships.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	order []string
}

// NewDirectory creates an empty room directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// Create adds a room with the given name. Fails with ErrAlreadyExists if
// the name is taken; explicit creation must be able to tell, unlike the
// create-or-get path used by implicit joins.
func (d *Directory) Create(name, createdBy string) (*Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.rooms[name]; ok {
		return nil, ErrAlreadyExists
	}
	return d.create(name, createdBy), nil
}

// Ensure returns the room with the given name, creating it if absent.
// An existing room is returned unchanged.
func (d *Directory) Ensure(name, createdBy string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[name]; ok {
		return r
	}
	return d.create(name, createdBy)
}

// create adds a room. Caller must hold mu.
func (d *Directory) create(name, createdBy string) *Room {
	r := &Room{
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		members:   make(map[string]Conn),
	}
	d.rooms[name] = r
	d.order = append(d.order, name)
	return r
}

// Exists reports whether a room with the given name exists.
func (d *Directory) Exists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[name]
	return ok
}

// Join adds a connection to a room's membership, creating the room if
// absent. Joining twice is a no-op.
func (d *Directory) Join(name string, c Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[name]
	if !ok {
		r = d.create(name, c.UserID())
	}
	r.members[c.ID()] = c
}

// Leave removes a connection from a room's membership. A no-op if the
// room does not exist or the connection is not a member.
func (d *Directory) Leave(name string, c Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[name]; ok {
		delete(r.members, c.ID())
	}
}

// MembersOf returns the member connections of a room at this moment.
func (d *Directory) MembersOf(name string) []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[name]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	return out
}

// IsMember reports whether a connection is currently a room member.
func (d *Directory) IsMember(name string, c Conn) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[name]
	if !ok {
		return false
	}
	_, ok = r.members[c.ID()]
	return ok
}

// Delete removes a room and all its member associations. Returns false
// if the room does not exist. The caller is responsible for purging the
// room's message history.
func (d *Directory) Delete(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.rooms[name]; !ok {
		return false
	}
	delete(d.rooms, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Drop removes a connection from every room it is a member of and
// returns the names of the affected rooms. Called on disconnect.
func (d *Directory) Drop(c Conn) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var affected []string
	for _, name := range d.order {
		r := d.rooms[name]
		if _, ok := r.members[c.ID()]; ok {
			delete(r.members, c.ID())
			affected = append(affected, name)
		}
	}
	return affected
}

// List returns every room in creation order.
func (d *Directory) List() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Info, 0, len(d.order))
	for _, name := range d.order {
		r := d.rooms[name]
		out = append(out, Info{
			Name:      r.Name,
			CreatedBy: r.CreatedBy,
			CreatedAt: r.CreatedAt,
			Members:   len(r.members),
		})
	}
	return out
}
