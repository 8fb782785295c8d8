// Package server exposes the WebSocket endpoint, wires the router's handler
// table, and runs the accept/read loop for each client connection.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/lunagrove/sqlforge/internal/cache"
	"github.com/lunagrove/sqlforge/internal/history"
	"github.com/lunagrove/sqlforge/internal/hub"
	"github.com/lunagrove/sqlforge/internal/orchestrator"
	"github.com/lunagrove/sqlforge/internal/protocol"
	"github.com/lunagrove/sqlforge/internal/router"
	"github.com/lunagrove/sqlforge/internal/shared"
)

// Server owns the HTTP surface: the WebSocket upgrade at /ws plus the small
// health endpoint. All streaming traffic flows through the hub and router.
type Server struct {
	hub          *hub.Hub
	router       *router.Router
	orch         *orchestrator.Orchestrator
	cache        *cache.Cache
	historyStore *history.Store
	allowOrigins []string
	logger       *slog.Logger
}

// Config collects the server's collaborators. History may be nil when
// recording is disabled.
type Config struct {
	Hub          *hub.Hub
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Cache
	History      *history.Store
	AllowOrigins []string
	Logger       *slog.Logger
}

// New builds a server and installs the handler table on the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:          cfg.Hub,
		router:       cfg.Router,
		orch:         cfg.Orchestrator,
		cache:        cfg.Cache,
		historyStore: cfg.History,
		allowOrigins: cfg.AllowOrigins,
		logger:       logger,
	}
	s.registerHandlers()
	return s
}

// Handler returns the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library;
		// the patterns gate cross-origin browsers only.
		OriginPatterns: s.allowOrigins,
	})
	if err != nil {
		return
	}

	conn := s.hub.Register(ws)
	defer func() {
		s.hub.Unregister(conn.ID())
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := shared.WithConnID(r.Context(), conn.ID())

	// The connection frame is the only unsolicited frame a client should
	// expect; it carries the assigned identifier.
	conn.Send(ctx, protocol.NewOutbound(protocol.KindConnection, protocol.ConnectionPayload{
		ConnectionID: conn.ID(),
	}, ""))

	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			s.logger.Info("connection closed", "conn_id", conn.ID(), "reason", err)
			return
		}
		// Each frame is handled on its own goroutine so a slow completion
		// call never blocks other requests on the same connection.
		go s.router.Dispatch(shared.WithTraceID(ctx, shared.NewTraceID()), conn, raw)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.historyStore != nil {
		if _, err := s.historyStore.Counts(r.Context()); err != nil {
			dbOK = false
		}
	}
	payload := map[string]any{
		"healthy":     dbOK,
		"connections": s.hub.Len(),
		"cache":       s.cache.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// decode unmarshals an inbound payload, tolerating an absent payload only
// when the target has no required fields worth distinguishing.
func decode[T any](frame protocol.Inbound) (T, error) {
	var v T
	if len(frame.Payload) == 0 {
		return v, fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(frame.Payload, &v); err != nil {
		return v, fmt.Errorf("invalid %s payload: %w", frame.Type, err)
	}
	return v, nil
}
