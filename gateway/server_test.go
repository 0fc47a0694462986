package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/gateway"
	"github.com/tailored-agentic-units/parley/session"
)

// stubService records gateway calls and answers with fixed data.
type stubService struct {
	mu       sync.Mutex
	userID   string
	connects int
	inbound  []frame.Inbound
	closed   []string
	announce bool
}

func (s *stubService) Connect(ctx context.Context, transport session.Transport, userID string) (string, error) {
	s.mu.Lock()
	s.userID = userID
	s.connects++
	s.mu.Unlock()

	if s.announce {
		if err := transport.Send(ctx, frame.SessionCreated{SessionID: "sess-1", Timestamp: time.Now().UTC()}); err != nil {
			return "", err
		}
	}
	return "sess-1", nil
}

func (s *stubService) HandleInbound(_ context.Context, _ string, in frame.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = append(s.inbound, in)
	return nil
}

func (s *stubService) Close(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, sessionID)
}

func (s *stubService) SessionCount() int { return 3 }

func (s *stubService) Tools() []protocol.Tool {
	return []protocol.Tool{
		{Name: "calculate", Description: "Evaluates arithmetic", Parameters: map[string]any{"type": "object"}},
		{Name: "current_time", Description: "Reports the time", Parameters: map[string]any{"type": "object"}},
	}
}

func (s *stubService) SessionInfo(id string) (session.Info, error) {
	if id != "sess-1" {
		return session.Info{}, session.ErrNotFound
	}
	return session.Info{ID: "sess-1", UserID: "tester", State: session.StateIdle}, nil
}

func (s *stubService) inboundFrames() []frame.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Inbound(nil), s.inbound...)
}

func (s *stubService) closedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

func (s *stubService) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *stubService) connectedUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func newTestServer(t *testing.T, svc *stubService) *httptest.Server {
	t.Helper()
	srv := gateway.NewServer(nil, svc, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		ActiveSessions int `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.ActiveSessions != 3 {
		t.Errorf("active_sessions = %d, want 3", body.ActiveSessions)
	}
}

func TestToolsEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp, err := http.Get(ts.URL + "/tools")
	if err != nil {
		t.Fatalf("GET /tools failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Tools []protocol.Tool `json:"tools"`
		Count int             `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Count != 2 || len(body.Tools) != 2 {
		t.Fatalf("count = %d with %d tools, want 2", body.Count, len(body.Tools))
	}
	if body.Tools[0].Name == "" || body.Tools[0].Description == "" {
		t.Errorf("tool entry missing fields: %+v", body.Tools[0])
	}
}

func TestSessionInfoEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp, err := http.Get(ts.URL + "/sessions/sess-1")
	if err != nil {
		t.Fatalf("GET /sessions/sess-1 failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info session.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if info.ID != "sess-1" || info.UserID != "tester" {
		t.Errorf("info = %+v, mismatch", info)
	}
}

func TestSessionInfoEndpoint_NotFound(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	resp, err := http.Get(ts.URL + "/sessions/unknown")
	if err != nil {
		t.Fatalf("GET /sessions/unknown failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocket_HandshakeAndTurns(t *testing.T) {
	svc := &stubService{announce: true}
	ts := newTestServer(t, svc)
	conn := dialWS(t, ts)

	// First frame allocates the session and dispatches its content.
	first := `{"type":"text","content":"hello","user_id":"alice"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(first)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var announced struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &announced); err != nil {
		t.Fatalf("announcement decode failed: %v", err)
	}
	if announced.Type != "session_created" || announced.SessionID != "sess-1" {
		t.Errorf("announcement = %+v, mismatch", announced)
	}

	waitFor(t, "first turn dispatched", func() bool {
		return len(svc.inboundFrames()) == 1
	})
	if got := svc.connectedUser(); got != "alice" {
		t.Errorf("Connect userID = %q, want alice", got)
	}
	if got := svc.inboundFrames()[0]; got.Content != "hello" {
		t.Errorf("first inbound = %+v, want the handshake content", got)
	}

	second := `{"type":"text","content":"again"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(second)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, "second turn dispatched", func() bool {
		return len(svc.inboundFrames()) == 2
	})
}

func TestWebSocket_MalformedFrameReported(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc)
	conn := dialWS(t, ts)

	// Establish the session first.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","content":""}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var errFrame struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &errFrame); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if errFrame.Type != "error" {
		t.Errorf("frame type = %q, want error", errFrame.Type)
	}

	// The connection survives rejection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","content":"still here"}`)); err != nil {
		t.Fatalf("write after rejection failed: %v", err)
	}
	waitFor(t, "turn after rejection", func() bool {
		frames := svc.inboundFrames()
		return len(frames) == 1 && frames[0].Content == "still here"
	})
}

func TestWebSocket_DisconnectClosesSession(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc)
	conn := dialWS(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","content":""}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// The handshake must register before the link drops.
	waitFor(t, "session allocated", func() bool {
		return svc.connectCount() == 1
	})

	conn.Close()

	waitFor(t, "session closed", func() bool {
		closed := svc.closedSessions()
		return len(closed) == 1 && closed[0] == "sess-1"
	})
}

func TestWebSocket_ConnectFailureDropsConnection(t *testing.T) {
	// A service that cannot allocate sessions should drop the connection.
	failing := &failingService{stubService: &stubService{}}
	srv := gateway.NewServer(nil, failing, nil)
	inner := httptest.NewServer(srv.Handler())
	defer inner.Close()

	url := "ws" + strings.TrimPrefix(inner.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","content":"hi"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection should drop when session allocation fails")
	}
}

type failingService struct {
	*stubService
}

func (f *failingService) Connect(context.Context, session.Transport, string) (string, error) {
	return "", errors.New("registry full")
}
