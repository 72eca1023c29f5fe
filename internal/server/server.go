// Package server wires the registries, stores, and WebSocket transport
// behind one HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/roomcast/internal/config"
	"github.com/christopherjohns/roomcast/internal/message"
	"github.com/christopherjohns/roomcast/internal/presence"
	"github.com/christopherjohns/roomcast/internal/ratelimit"
	"github.com/christopherjohns/roomcast/internal/room"
	"github.com/christopherjohns/roomcast/internal/user"
	"github.com/christopherjohns/roomcast/internal/ws"
)

// Server is the roomcast HTTP server.
type Server struct {
	cfg    *config.Config
	router chi.Router
	http   *http.Server

	presence *presence.Registry
	rooms    *room.Directory
	store    *message.Store
	archive  message.Archive
	sessions *user.Store
	mgr      *ws.ConnManager
}

// Option configures a Server.
type Option func(*Server)

// WithRedis backs the durable message archive with the given client.
func WithRedis(client redis.Cmdable) Option {
	return func(s *Server) {
		s.archive = message.NewRedisArchive(client)
	}
}

// New creates a fully wired server listening on cfg.ListenAddr.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		presence: presence.NewRegistry(),
		rooms:    room.NewDirectory(),
		store:    message.NewStore(cfg.RoomWindow),
		sessions: user.NewStore(cfg.SessionTTL),
	}
	for _, opt := range opts {
		opt(s)
	}

	var mgrOpts []ws.ConnManagerOption
	if cfg.MaxConns > 0 {
		mgrOpts = append(mgrOpts, ws.WithMaxConns(cfg.MaxConns))
	}
	if cfg.IdleTimeout > 0 {
		mgrOpts = append(mgrOpts, ws.WithIdleTimeout(cfg.IdleTimeout))
	}
	s.mgr = ws.NewConnManager(mgrOpts...)

	router := ws.NewRouter(s.presence, s.rooms, s.mgr)
	dispatcher := ws.NewDispatcher(ws.DispatcherConfig{
		Presence: s.presence,
		Rooms:    s.rooms,
		Store:    s.store,
		Archive:  s.archive,
		Sessions: s.sessions,
		Router:   router,
		AdminIDs: cfg.AdminIDs,
	})

	var limiter *ratelimit.IPLimiter
	if cfg.RateMax > 0 {
		limiter = ratelimit.NewIPLimiter(cfg.RateMax, cfg.RateWindow)
	}
	wsHandler := ws.NewHandler(s.mgr, dispatcher, s.sessions, limiter)

	s.router = chi.NewRouter()
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/api/rooms", s.handleListRooms)
	s.router.Get("/messages/paginate", s.handlePaginate)
	s.router.Get("/ws", wsHandler.ServeHTTP)

	s.http = &http.Server{Addr: cfg.ListenAddr, Handler: s.router}
	return s
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	return s.http.ListenAndServe()
}

// Shutdown closes every WebSocket connection and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mgr.Shutdown()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Stats())
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	infos := s.rooms.List()
	out := make([]ws.RoomInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, ws.RoomInfo{
			Name:         info.Name,
			CreatedBy:    info.CreatedBy,
			CreatedAt:    info.CreatedAt,
			Members:      info.Members,
			MessageCount: s.store.Count(info.Name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// paginateResponse is the body of GET /messages/paginate.
type paginateResponse struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error,omitempty"`
	Messages []*message.Message `json:"messages,omitempty"`
}

// handlePaginate serves room history strictly before the given cutoff
// (unix milliseconds), ascending, limit clamped server-side.
func (s *Server) handlePaginate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomName := q.Get("room")
	if roomName == "" {
		writeJSON(w, http.StatusBadRequest, paginateResponse{Error: "invalid_argument"})
		return
	}

	var before time.Time
	if v := q.Get("before"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, paginateResponse{Error: "invalid_argument"})
			return
		}
		before = time.UnixMilli(ms)
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	msgs := s.history(roomName, before, limit)
	if msgs == nil {
		msgs = []*message.Message{}
	}
	writeJSON(w, http.StatusOK, paginateResponse{OK: true, Messages: msgs})
}

// history reads from the durable archive when one is configured and
// falls back to the in-memory log otherwise.
func (s *Server) history(key string, before time.Time, limit int) []*message.Message {
	if s.archive != nil {
		return s.archive.Paginate(key, before, limit)
	}
	return s.store.Paginate(key, before, limit)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
