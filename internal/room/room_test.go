package room

import (
	"errors"
	"fmt"
	"testing"
)

type fakeConn struct {
	id     string
	userID string
	name   string
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) UserID() string        { return c.userID }
func (c *fakeConn) Username() string      { return c.name }
func (c *fakeConn) Send(data []byte) bool { return true }

func conn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID, name: userID}
}

func TestCreateAndDuplicate(t *testing.T) {
	d := NewDirectory()

	r, err := d.Create("general", "alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if r.Name != "general" || r.CreatedBy != "alice" {
		t.Errorf("unexpected room metadata: %+v", r)
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected creation timestamp")
	}

	if _, err := d.Create("general", "bob"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestEnsureIsCreateOrGet(t *testing.T) {
	d := NewDirectory()

	r1 := d.Ensure("general", "alice")
	r2 := d.Ensure("general", "bob")
	if r1 != r2 {
		t.Fatal("expected Ensure to return the existing room unchanged")
	}
	if r2.CreatedBy != "alice" {
		t.Errorf("expected original creator kept, got %q", r2.CreatedBy)
	}
}

func TestJoinAutoCreatesRoom(t *testing.T) {
	d := NewDirectory()
	c := conn("c1", "alice")

	d.Join("lazy", c)
	if !d.Exists("lazy") {
		t.Fatal("expected room auto-created on join")
	}
	if !d.IsMember("lazy", c) {
		t.Fatal("expected connection to be a member")
	}

	// Joining twice doesn't duplicate membership.
	d.Join("lazy", c)
	if got := len(d.MembersOf("lazy")); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
}

func TestLeave(t *testing.T) {
	d := NewDirectory()
	c := conn("c1", "alice")
	d.Join("general", c)

	d.Leave("general", c)
	if d.IsMember("general", c) {
		t.Fatal("expected membership removed")
	}
	// The room shell survives its last member leaving.
	if !d.Exists("general") {
		t.Fatal("expected room to remain after leave")
	}

	// Leaving an unknown room or a room one is not in is a no-op.
	d.Leave("general", c)
	d.Leave("nowhere", c)
}

func TestDelete(t *testing.T) {
	d := NewDirectory()
	c := conn("c1", "alice")
	d.Join("general", c)

	if !d.Delete("general") {
		t.Fatal("expected delete to succeed")
	}
	if d.Exists("general") {
		t.Fatal("expected room gone")
	}
	if d.Delete("general") {
		t.Fatal("expected second delete to return false")
	}
}

func TestDropRemovesFromAllRooms(t *testing.T) {
	d := NewDirectory()
	c := conn("c1", "alice")
	other := conn("c2", "bob")
	d.Join("a", c)
	d.Join("b", c)
	d.Join("b", other)
	d.Join("c", other)

	affected := d.Drop(c)
	if len(affected) != 2 || affected[0] != "a" || affected[1] != "b" {
		t.Fatalf("expected affected rooms [a, b], got %v", affected)
	}
	if d.IsMember("a", c) || d.IsMember("b", c) {
		t.Fatal("expected membership removed everywhere")
	}
	if !d.IsMember("b", other) {
		t.Fatal("expected other member untouched")
	}
}

func TestListInsertionOrder(t *testing.T) {
	d := NewDirectory()
	for i := 0; i < 5; i++ {
		d.Ensure(fmt.Sprintf("room-%d", i), "alice")
	}
	d.Join("room-2", conn("c1", "bob"))

	list := d.List()
	if len(list) != 5 {
		t.Fatalf("expected 5 rooms, got %d", len(list))
	}
	for i, info := range list {
		if want := fmt.Sprintf("room-%d", i); info.Name != want {
			t.Fatalf("expected creation order, got %q at %d", info.Name, i)
		}
	}
	if list[2].Members != 1 {
		t.Errorf("expected 1 member in room-2, got %d", list[2].Members)
	}

	// Deleting in the middle keeps the remaining order stable.
	d.Delete("room-1")
	list = d.List()
	if len(list) != 4 || list[0].Name != "room-0" || list[1].Name != "room-2" {
		t.Fatalf("expected stable order after delete, got %v", list)
	}
}
