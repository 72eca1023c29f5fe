package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/roomcast/internal/config"
	"github.com/christopherjohns/roomcast/internal/message"
	"github.com/christopherjohns/roomcast/internal/ws"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.RateMax = 0 // every test dials from the same address
	s := New(cfg, opts...)
	ts := httptest.NewServer(s.router)
	t.Cleanup(func() {
		s.mgr.Shutdown()
		ts.Close()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]string
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var stats ws.ConnStats
	resp := getJSON(t, ts.URL+"/stats", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if stats.Active != 0 {
		t.Fatalf("expected 0 active connections, got %d", stats.Active)
	}
}

func TestListRoomsEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	if _, err := s.rooms.Create("general", "u1"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	s.store.Append(&message.Message{Room: "general", SenderID: "u1", Content: "hi"})
	s.store.Append(&message.Message{Room: "general", SenderID: "u1", Content: "again"})

	var rooms []ws.RoomInfo
	resp := getJSON(t, ts.URL+"/api/rooms", &rooms)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	if rooms[0].Name != "general" || rooms[0].MessageCount != 2 {
		t.Fatalf("unexpected room info: %+v", rooms[0])
	}
}

func TestPaginateEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s.store.Append(&message.Message{
			Room:      "general",
			SenderID:  "u1",
			Content:   "msg-" + strconv.Itoa(i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	// No cutoff pages from the end of the log.
	var page paginateResponse
	getJSON(t, ts.URL+"/messages/paginate?room=general&limit=2", &page)
	if !page.OK || len(page.Messages) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Messages[0].Content != "msg-3" || page.Messages[1].Content != "msg-4" {
		t.Fatalf("expected the newest two ascending, got %+v", page.Messages)
	}

	// The next page is strictly older than the first page's oldest entry.
	cutoff := page.Messages[0].CreatedAt.UnixMilli()
	var older paginateResponse
	getJSON(t, ts.URL+"/messages/paginate?room=general&limit=2&before="+strconv.FormatInt(cutoff, 10), &older)
	if len(older.Messages) != 2 {
		t.Fatalf("expected 2 older messages, got %d", len(older.Messages))
	}
	if older.Messages[1].Content != "msg-2" {
		t.Fatalf("expected page to end at msg-2, got %+v", older.Messages)
	}
}

func TestPaginateValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp := getJSON(t, ts.URL+"/messages/paginate", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without room, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts.URL+"/messages/paginate?room=general&before=not-a-number", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cutoff, got %d", resp.StatusCode)
	}
}

func TestPaginateUsesArchive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, ts := newTestServer(t, WithRedis(client))

	// Only the archive holds this message; the in-memory store is empty.
	s.archive.Append(&message.Message{
		ID:        "m1",
		Room:      "general",
		SenderID:  "u1",
		Content:   "from the archive",
		CreatedAt: time.Now().Add(-time.Minute),
	})

	var page paginateResponse
	getJSON(t, ts.URL+"/messages/paginate?room=general", &page)
	if !page.OK || len(page.Messages) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Messages[0].Content != "from the archive" {
		t.Fatalf("unexpected message: %+v", page.Messages[0])
	}
}

// wsJoin dials the server's WebSocket endpoint and completes the join
// handshake, returning the connection and the assigned session.
func wsJoin(t *testing.T, baseURL, username string) (*websocket.Conn, ws.SessionPayload) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	payload, _ := json.Marshal(ws.JoinPayload{Username: username})
	frame, _ := json.Marshal(ws.Envelope{Type: ws.TypeJoin, ID: "j1", Payload: payload})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write join: %v", err)
	}

	var session ws.SessionPayload
	for {
		env := readEnvelope(t, conn)
		if env.Type == ws.EventSession {
			if err := json.Unmarshal(env.Payload, &session); err != nil {
				t.Fatalf("bad session payload: %v", err)
			}
		}
		if env.Type == ws.EventAck && env.ID == "j1" {
			return conn, session
		}
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) ws.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	return env
}

func send(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, _ := json.Marshal(ws.Envelope{Type: typ, ID: id, Payload: b})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func waitFor(t *testing.T, conn *websocket.Conn, typ string) ws.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("timed out waiting for %s", typ)
	return ws.Envelope{}
}

func TestChatOverFullStack(t *testing.T) {
	_, ts := newTestServer(t)

	alice, _ := wsJoin(t, ts.URL, "alice")
	bob, _ := wsJoin(t, ts.URL, "bob")

	send(t, alice, ws.TypeJoinRoom, "r1", ws.RoomPayload{Room: "testroom"})
	waitFor(t, alice, ws.EventAck)
	send(t, bob, ws.TypeJoinRoom, "r1", ws.RoomPayload{Room: "testroom"})
	waitFor(t, bob, ws.EventAck)

	send(t, alice, ws.TypeMessage, "m1", ws.ChatPayload{Room: "testroom", Content: "hello over the wire"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := waitFor(t, conn, ws.EventMessage)
		var m message.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			t.Fatalf("bad message payload: %v", err)
		}
		if m.Content != "hello over the wire" || m.SenderName != "alice" {
			t.Fatalf("unexpected message: %+v", m)
		}
	}

	// The message is visible over the HTTP pagination surface too.
	var page paginateResponse
	getJSON(t, ts.URL+"/messages/paginate?room=testroom", &page)
	if len(page.Messages) != 1 || page.Messages[0].Content != "hello over the wire" {
		t.Fatalf("unexpected paginate result: %+v", page.Messages)
	}
}
