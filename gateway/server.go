// Package gateway exposes the conversation service over WebSocket, plus a
// small HTTP surface for session inspection. One WebSocket connection maps
// to one session: the first decodable frame allocates it, and the
// connection dropping tears it down.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/observability"
	"github.com/tailored-agentic-units/parley/session"
)

// ConversationService is the session-facing surface the gateway drives.
// *orchestrator.Orchestrator is the production implementation.
type ConversationService interface {
	Connect(ctx context.Context, transport session.Transport, userID string) (string, error)
	HandleInbound(ctx context.Context, sessionID string, in frame.Inbound) error
	Close(sessionID string)
	SessionCount() int
	SessionInfo(id string) (session.Info, error)
	Tools() []protocol.Tool
}

// Server terminates WebSocket connections and hands decoded frames to the
// conversation service.
type Server struct {
	cfg      Config
	svc      ConversationService
	observer observability.Observer
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a gateway Server from configuration. A nil observer
// defaults to the no-op observer.
func NewServer(cfg *Config, svc ConversationService, obs observability.Observer) *Server {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}
	if obs == nil {
		obs = observability.NoOpObserver{}
	}

	s := &Server{
		cfg:      merged,
		svc:      svc,
		observer: obs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  merged.ReadBufferSize,
			WriteBufferSize: merged.WriteBufferSize,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionInfo)
	mux.HandleFunc("GET /tools", s.handleTools)

	s.http = &http.Server{
		Addr:    merged.Addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe blocks serving connections until Shutdown or a listener
// failure.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown drains the HTTP server. Live WebSocket sessions are closed by
// the conversation service's own shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	transport := newWSTransport(conn, s.cfg)
	go transport.writeLoop()

	s.serveConn(r.Context(), conn, transport)
}

// serveConn owns the connection's read side: it performs the opening
// handshake (first frame allocates the session) and then pumps frames into
// the service until the connection drops.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, transport *wsTransport) {
	defer transport.shutdown()

	conn.SetReadLimit(s.cfg.MaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	sessionID, ok := s.handshake(ctx, conn, transport)
	if !ok {
		return
	}
	defer s.svc.Close(sessionID)

	for {
		in, ok := s.readFrame(ctx, conn, transport)
		if !ok {
			return
		}
		if in == nil {
			continue
		}
		if err := s.svc.HandleInbound(ctx, sessionID, *in); err != nil {
			s.event(ctx, observability.LevelWarning, map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			return
		}
	}
}

// handshake reads frames until one decodes cleanly, allocates the session
// from it, and dispatches its content as the first turn when present.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn, transport *wsTransport) (string, bool) {
	for {
		in, ok := s.readFrame(ctx, conn, transport)
		if !ok {
			return "", false
		}
		if in == nil {
			continue
		}

		sessionID, err := s.svc.Connect(ctx, transport, in.UserID)
		if err != nil {
			s.event(ctx, observability.LevelError, map[string]any{"error": err.Error()})
			return "", false
		}

		if in.Content != "" {
			if err := s.svc.HandleInbound(ctx, sessionID, *in); err != nil {
				s.event(ctx, observability.LevelWarning, map[string]any{
					"session_id": sessionID,
					"error":      err.Error(),
				})
			}
		}
		return sessionID, true
	}
}

// readFrame reads and decodes one inbound frame. A nil frame with ok=true
// means the frame was rejected but reported to the client, and reading
// should continue.
func (s *Server) readFrame(ctx context.Context, conn *websocket.Conn, transport *wsTransport) (*frame.Inbound, bool) {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	if messageType != websocket.TextMessage {
		return nil, true
	}

	in, err := frame.DecodeInbound(data)
	switch {
	case errors.Is(err, frame.ErrMalformed):
		_ = transport.Send(ctx, frame.Error{Content: "malformed frame, expected a JSON object"})
		return nil, true
	case errors.Is(err, frame.ErrUnsupportedType):
		_ = transport.Send(ctx, frame.Error{Content: "unsupported message type: " + string(in.Type)})
		return nil, true
	case err != nil:
		return nil, true
	}
	return &in, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": s.svc.SessionCount(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	list := s.svc.Tools()
	if list == nil {
		list = []protocol.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": list,
		"count": len(list),
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.SessionInfo(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) event(ctx context.Context, level observability.Level, data map[string]any) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      "gateway.error",
		Level:     level,
		Timestamp: time.Now(),
		Source:    "gateway",
		Data:      data,
	})
}
