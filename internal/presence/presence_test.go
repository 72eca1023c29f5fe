package presence

import (
	"fmt"
	"sync"
	"testing"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) Send(data []byte) bool { return true }

func TestRegisterAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeConn{id: "c1"}, "alice", "Alice")
	r.Register(&fakeConn{id: "c2"}, "bob", "Bob")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 users, got %d", len(snap))
	}
	if snap[0].UserID != "alice" || snap[1].UserID != "bob" {
		t.Errorf("expected registration order [alice, bob], got [%s, %s]", snap[0].UserID, snap[1].UserID)
	}
	if !snap[0].Online || snap[0].Connections != 1 {
		t.Errorf("expected alice online with 1 connection, got %+v", snap[0])
	}
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	r.Register(c1, "alice", "Alice")
	r.Register(c2, "alice", "Alice")

	if got := len(r.ConnectionsFor("alice")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	// Dropping one tab keeps the user online.
	if _, offline := r.Unregister(c1, "alice"); offline {
		t.Fatal("expected user still online with a second connection")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 online user, got %d", r.Count())
	}

	// Dropping the last connection takes the user fully offline.
	info, offline := r.Unregister(c2, "alice")
	if !offline {
		t.Fatal("expected fully-offline signal on last unregister")
	}
	if info.UserID != "alice" || info.Name != "Alice" {
		t.Errorf("expected alice's identity back, got %+v", info)
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d users", r.Count())
	}
}

func TestRegisterUpdatesDisplayName(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "c1"}
	r.Register(c, "alice", "Alice")
	r.Register(c, "alice", "Alice Cooper")

	if name, ok := r.Name("alice"); !ok || name != "Alice Cooper" {
		t.Fatalf("expected updated name, got %q", name)
	}
	// Re-announcement with the same connection must not double-count.
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Connections != 1 {
		t.Fatalf("expected single connection after re-register, got %+v", snap)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if _, offline := r.Unregister(&fakeConn{id: "c1"}, "ghost"); offline {
		t.Fatal("expected no offline signal for unknown user")
	}
	if got := r.ConnectionsFor("ghost"); len(got) != 0 {
		t.Fatalf("expected no connections, got %d", len(got))
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: fmt.Sprintf("c%d", i)}
			r.Register(c, "alice", "Alice")
			r.Unregister(c, "alice")
		}(i)
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Fatalf("expected empty registry after churn, got %d users", r.Count())
	}
}
