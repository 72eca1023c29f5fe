package ws

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/christopherjohns/roomcast/internal/ratelimit"
	"github.com/christopherjohns/roomcast/internal/user"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// joinTimeout is how long a new connection has to complete the identity
// handshake before it is dropped.
const joinTimeout = 10 * time.Second

// Handler upgrades HTTP requests to WebSockets, runs the identity
// handshake, and feeds the read loop into the dispatcher.
type Handler struct {
	mgr        *ConnManager
	dispatcher *Dispatcher
	sessions   *user.Store
	limiter    *ratelimit.IPLimiter
}

// NewHandler creates a WebSocket handler. limiter may be nil to disable
// connection rate limiting.
func NewHandler(mgr *ConnManager, d *Dispatcher, sessions *user.Store, limiter *ratelimit.IPLimiter) *Handler {
	return &Handler{mgr: mgr, dispatcher: d, sessions: sessions, limiter: limiter}
}

// ServeHTTP upgrades the connection and runs the client until it closes.
// The first envelope must be a join; no other request is accepted before
// the connection is bound to an identity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	client, joinEnv, ok := h.handshake(r.Context(), conn)
	if !ok {
		return
	}

	connCtx := h.mgr.Add(client)
	select {
	case <-connCtx.Done():
		// Manager refused the connection (shutdown or at capacity).
		return
	default:
	}

	h.sessions.Attach(client.token)
	defer func() {
		h.mgr.Remove(client)
		h.dispatcher.Disconnect(client)
		h.sessions.Detach(client.token)
	}()

	h.sendSessionInfo(client)
	h.dispatcher.Dispatch(client, joinEnv)

	h.readLoop(r.Context(), connCtx, client)
}

// handshake reads the first envelope, which must be a join carrying a
// non-empty username and, optionally, a resume token. Returns the bound
// client and the join envelope for the dispatcher to process.
func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (*Client, Envelope, bool) {
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	_, data, err := conn.Read(joinCtx)
	if err != nil {
		log.Printf("ws: read join error: %v", err)
		return nil, Envelope{}, false
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		closeWithError(conn, "invalid JSON")
		return nil, Envelope{}, false
	}
	if canonicalType(env.Type) != TypeJoin {
		closeWithError(conn, "first message must be type 'join'")
		return nil, Envelope{}, false
	}

	var payload JoinPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		closeWithError(conn, "invalid join payload")
		return nil, Envelope{}, false
	}
	username := strings.TrimSpace(payload.Username)
	if username == "" {
		closeWithError(conn, "username is required")
		return nil, Envelope{}, false
	}

	// Resume the identity if the token is known, otherwise mint one.
	sess := h.sessions.Resume(payload.Token)
	resumed := sess != nil
	if !resumed {
		sess = h.sessions.Create(username)
	}

	client := &Client{
		conn:     conn,
		mgr:      h.mgr,
		id:       uuid.NewString(),
		token:    sess.Token,
		userID:   sess.UserID,
		username: username,
	}
	client.resumedSession = resumed
	return client, env, true
}

// sendSessionInfo tells the client its identity and resume token.
func (h *Handler) sendSessionInfo(c *Client) {
	sp := SessionPayload{
		Token:    c.token,
		UserID:   c.userID,
		Username: c.username,
		Resumed:  c.resumedSession,
	}
	data, err := json.Marshal(sp)
	if err != nil {
		log.Printf("ws: failed to marshal session payload: %v", err)
		return
	}
	frame, err := json.Marshal(Envelope{Type: EventSession, Payload: data})
	if err != nil {
		log.Printf("ws: failed to marshal session envelope: %v", err)
		return
	}
	c.Send(frame)
}

// readLoop reads envelopes until the connection closes or the manager
// cancels connCtx, dispatching each one.
func (h *Handler) readLoop(ctx, connCtx context.Context, c *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := c.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}
		h.mgr.TouchActivity(c)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		h.dispatcher.Dispatch(c, env)
	}
}

func closeWithError(conn *websocket.Conn, reason string) {
	conn.Close(websocket.StatusPolicyViolation, reason)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
