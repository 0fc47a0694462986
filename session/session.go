// Package session owns per-connection conversation state: the state
// machine, the authoritative history, the in-flight tool batch, and the
// filler log. Every mutation funnels through methods holding a short-lived
// per-session mutex, never held across network calls, so concurrently
// completing tool tasks are linearized against each other.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
)

// AnonymousUser is substituted when a connection supplies no user id.
const AnonymousUser = "anonymous"

// Transport delivers outbound frames to the connected client. Implemented
// by the gateway; Send must be safe for concurrent use because filler and
// tool narration frames originate from independent goroutines.
type Transport interface {
	Send(ctx context.Context, f frame.Outbound) error
}

// Info is the observability snapshot of a session.
type Info struct {
	ID               string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	State            State     `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	HistoryLength    int       `json:"history_length"`
	PendingToolCount int       `json:"pending_tool_count"`
}

// Session is one live conversation. It is exclusively owned by its task
// family: the orchestrator mutates state and content, and each background
// tool task is granted the narrow right to append one tool history entry
// and remove its own id from the pending set.
type Session struct {
	id        string
	userID    string
	transport Transport

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	history      []protocol.Message
	pending      map[string]string // tool call id -> batch id
	synthesizing bool
	fillerLog    []string
	createdAt    time.Time
	lastActivity time.Time
	closed       bool
}

func newSession(transport Transport, userID string) *Session {
	if userID == "" {
		userID = AnonymousUser
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	return &Session{
		id:           uuid.Must(uuid.NewV7()).String(),
		userID:       userID,
		transport:    transport,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateIdle,
		pending:      make(map[string]string),
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the caller-supplied identifier, or AnonymousUser.
func (s *Session) UserID() string { return s.userID }

// Transport returns the outbound frame sink for this session.
func (s *Session) Transport() Transport { return s.transport }

// Context is cancelled when the session closes. Background tool tasks and
// final synthesis derive from it so teardown cancels them all.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the state machine to the given state, failing with
// ErrInvalidTransition when the move is not defined.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.state.canTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// ResetIdle forces the state back to Idle regardless of the current state.
// Reserved for the error-recovery path after a completion provider failure.
func (s *Session) ResetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.state = StateIdle
	}
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

// AppendMessages appends entries to the authoritative history. Entries are
// never mutated afterwards.
func (s *Session) AppendMessages(msgs ...protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.history = append(s.history, msgs...)
}

// History returns a defensive copy of the conversation history.
func (s *Session) History() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]protocol.Message, len(s.history))
	for i, msg := range s.history {
		copied[i] = msg
		copied[i].ToolCalls = slices.Clone(msg.ToolCalls)
	}
	return copied
}

// BeginBatch registers a dispatched set of tool call ids under a fresh
// batch identifier and returns it.
func (s *Session) BeginBatch(callIDs []string) string {
	batchID := uuid.Must(uuid.NewV7()).String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return batchID
	}
	for _, id := range callIDs {
		s.pending[id] = batchID
	}
	return batchID
}

// FinishTool is the single mutation path for a completing tool task: it
// appends the task's tool history entry, removes the call id from the
// pending set, and reports whether this completion drained its batch — all
// inside one critical section, so sibling completions can never both
// observe an empty batch. Draining also raises the synthesizing flag in
// the same section, so there is no window where the pending set is empty
// but the final answer has not started. Returns false without mutating
// anything when the session has been closed (a cancelled task must not
// append history or trigger synthesis).
func (s *Session) FinishTool(batchID, callID string, msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.pending[callID]; !ok {
		return false
	}

	s.history = append(s.history, msg)
	delete(s.pending, callID)

	for _, b := range s.pending {
		if b == batchID {
			return false
		}
	}
	s.synthesizing = true
	return true
}

// Synthesizing reports whether a drained batch's final answer is still in
// flight. Turns arriving in that window must be served as filler, not as a
// concurrent completion.
func (s *Session) Synthesizing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesizing
}

// FinishSynthesis lowers the flag raised by the draining FinishTool, once
// the final answer has been delivered or abandoned.
func (s *Session) FinishSynthesis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesizing = false
}

// PendingToolCount reports how many tool calls are outstanding.
func (s *Session) PendingToolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// AppendFiller records an out-of-band filler reply already shown to the
// user during the current tool batch. Filler text never enters history.
func (s *Session) AppendFiller(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fillerLog = append(s.fillerLog, text)
}

// FillerEntries returns a copy of the filler log for the current batch.
func (s *Session) FillerEntries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.fillerLog)
}

// ClearFiller resets the filler log once the batch's final answer has been
// delivered, so a new batch starts with an empty log.
func (s *Session) ClearFiller() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillerLog = nil
}

// Info returns an observability snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:               s.id,
		UserID:           s.userID,
		State:            s.state,
		CreatedAt:        s.createdAt,
		LastActivityAt:   s.lastActivity,
		HistoryLength:    len(s.history),
		PendingToolCount: len(s.pending),
	}
}

// close cancels the session context (tearing down every pending tool task)
// and blocks further mutation. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = make(map[string]string)
	s.mu.Unlock()

	s.cancel()
}
