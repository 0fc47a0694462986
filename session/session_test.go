package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/session"
)

// recordingTransport captures outbound frames for assertions.
type recordingTransport struct {
	mu     sync.Mutex
	frames []frame.Outbound
	err    error
}

func (t *recordingTransport) Send(_ context.Context, f frame.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *recordingTransport) sent() []frame.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frame.Outbound(nil), t.frames...)
}

func newTestSession(t *testing.T) (*session.Registry, *session.Session, *recordingTransport) {
	t.Helper()
	reg := session.NewRegistry(nil)
	transport := &recordingTransport{}
	sess, err := reg.Create(context.Background(), transport, "user-1")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return reg, sess, transport
}

func TestCreate_AnnouncesSessionAndWelcome(t *testing.T) {
	_, sess, transport := newTestSession(t)

	if sess.ID() == "" {
		t.Error("session ID should not be empty")
	}
	if sess.State() != session.StateIdle {
		t.Errorf("new session state = %q, want %q", sess.State(), session.StateIdle)
	}

	frames := transport.sent()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want session_created and welcome", len(frames))
	}
	created, ok := frames[0].(frame.SessionCreated)
	if !ok {
		t.Fatalf("first frame = %T, want SessionCreated", frames[0])
	}
	if created.SessionID != sess.ID() {
		t.Errorf("announced session id = %q, want %q", created.SessionID, sess.ID())
	}
	if _, ok := frames[1].(frame.System); !ok {
		t.Errorf("second frame = %T, want System welcome", frames[1])
	}
}

func TestCreate_AnonymousUser(t *testing.T) {
	reg := session.NewRegistry(nil)
	sess, err := reg.Create(context.Background(), &recordingTransport{}, "")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if sess.UserID() != session.AnonymousUser {
		t.Errorf("UserID() = %q, want %q", sess.UserID(), session.AnonymousUser)
	}
}

func TestCreate_BrokenTransportRollsBack(t *testing.T) {
	reg := session.NewRegistry(nil)
	transport := &recordingTransport{err: errors.New("pipe broken")}

	if _, err := reg.Create(context.Background(), transport, "u"); err == nil {
		t.Fatal("Create() should fail when the announcement cannot be sent")
	}
	if reg.Count() != 0 {
		t.Errorf("failed Create() left %d sessions registered", reg.Count())
	}
}

func TestTransition_ValidPath(t *testing.T) {
	_, sess, _ := newTestSession(t)

	path := []session.State{
		session.StateThinking,
		session.StateSpeaking,
		session.StateProcessingTool,
		session.StateSpeaking,
		session.StateThinking,
		session.StateIdle,
	}
	for _, next := range path {
		if err := sess.Transition(next); err != nil {
			t.Fatalf("Transition(%q) failed: %v", next, err)
		}
	}
	if sess.State() != session.StateIdle {
		t.Errorf("final state = %q, want idle", sess.State())
	}
}

func TestTransition_Invalid(t *testing.T) {
	_, sess, _ := newTestSession(t)

	err := sess.Transition(session.StateSpeaking)
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Transition(idle->speaking) error = %v, want ErrInvalidTransition", err)
	}
	if sess.State() != session.StateIdle {
		t.Errorf("failed transition changed state to %q", sess.State())
	}
}

func TestResetIdle(t *testing.T) {
	_, sess, _ := newTestSession(t)

	if err := sess.Transition(session.StateThinking); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	sess.ResetIdle()
	if sess.State() != session.StateIdle {
		t.Errorf("state after ResetIdle = %q, want idle", sess.State())
	}
}

func TestHistory_DefensiveCopy(t *testing.T) {
	_, sess, _ := newTestSession(t)

	sess.AppendMessages(protocol.Message{
		Role:      protocol.RoleAssistant,
		ToolCalls: []protocol.ToolCall{{ID: "call_1", Name: "calculate"}},
	})

	got := sess.History()
	got[0].Content = "mutated"
	got[0].ToolCalls[0].Name = "mutated"

	fresh := sess.History()
	if fresh[0].Content != "" || fresh[0].ToolCalls[0].Name != "calculate" {
		t.Error("History() exposed internal state to mutation")
	}
}

func TestFinishTool_LastCompletionDrainsBatchExactlyOnce(t *testing.T) {
	_, sess, _ := newTestSession(t)

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "call_" + string(rune('a'+i))
	}
	batchID := sess.BeginBatch(ids)

	if sess.PendingToolCount() != n {
		t.Fatalf("PendingToolCount() = %d, want %d", sess.PendingToolCount(), n)
	}

	var wg sync.WaitGroup
	drains := make(chan string, n)
	for _, id := range ids {
		wg.Add(1)
		go func(callID string) {
			defer wg.Done()
			msg := protocol.Message{Role: protocol.RoleTool, ToolCallID: callID}
			if sess.FinishTool(batchID, callID, msg) {
				drains <- callID
			}
		}(id)
	}
	wg.Wait()
	close(drains)

	var drained int
	for range drains {
		drained++
	}
	if drained != 1 {
		t.Errorf("batch drained %d times, want exactly once", drained)
	}
	if sess.PendingToolCount() != 0 {
		t.Errorf("PendingToolCount() = %d after drain, want 0", sess.PendingToolCount())
	}
	if got := len(sess.History()); got != n {
		t.Errorf("history has %d tool entries, want %d", got, n)
	}
}

func TestFinishTool_DrainRaisesSynthesizing(t *testing.T) {
	_, sess, _ := newTestSession(t)

	batchID := sess.BeginBatch([]string{"call_1", "call_2"})
	if sess.Synthesizing() {
		t.Fatal("Synthesizing() must be false before any drain")
	}

	sess.FinishTool(batchID, "call_1", protocol.Message{Role: protocol.RoleTool, ToolCallID: "call_1"})
	if sess.Synthesizing() {
		t.Error("Synthesizing() must stay false while calls remain pending")
	}

	if !sess.FinishTool(batchID, "call_2", protocol.Message{Role: protocol.RoleTool, ToolCallID: "call_2"}) {
		t.Fatal("last completion should drain the batch")
	}
	if !sess.Synthesizing() {
		t.Error("draining completion must raise Synthesizing()")
	}

	sess.FinishSynthesis()
	if sess.Synthesizing() {
		t.Error("FinishSynthesis() must lower the flag")
	}
}

func TestFinishTool_UnknownCallIgnored(t *testing.T) {
	_, sess, _ := newTestSession(t)

	batchID := sess.BeginBatch([]string{"call_1"})
	if sess.FinishTool(batchID, "call_999", protocol.Message{Role: protocol.RoleTool}) {
		t.Error("unknown call id must not drain the batch")
	}
	if len(sess.History()) != 0 {
		t.Error("unknown call id must not append history")
	}
}

func TestClose_CancelsContextAndBlocksMutation(t *testing.T) {
	reg, sess, _ := newTestSession(t)

	batchID := sess.BeginBatch([]string{"call_1"})
	reg.Close(sess.ID())

	select {
	case <-sess.Context().Done():
	default:
		t.Error("session context should be cancelled after Close")
	}

	if sess.FinishTool(batchID, "call_1", protocol.Message{Role: protocol.RoleTool}) {
		t.Error("FinishTool on a closed session must report false")
	}
	if len(sess.History()) != 0 {
		t.Error("closed session must not accept history entries")
	}
	if err := sess.Transition(session.StateThinking); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Transition on closed session error = %v, want ErrClosed", err)
	}

	if _, err := reg.Get(sess.ID()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() after Close error = %v, want ErrNotFound", err)
	}

	// Idempotent.
	reg.Close(sess.ID())
}

func TestFillerLog(t *testing.T) {
	_, sess, _ := newTestSession(t)

	sess.AppendFiller("one moment")
	sess.AppendFiller("almost there")

	entries := sess.FillerEntries()
	if len(entries) != 2 {
		t.Fatalf("FillerEntries() returned %d entries, want 2", len(entries))
	}

	entries[0] = "mutated"
	if sess.FillerEntries()[0] != "one moment" {
		t.Error("FillerEntries() exposed internal state to mutation")
	}

	sess.ClearFiller()
	if len(sess.FillerEntries()) != 0 {
		t.Error("ClearFiller() should empty the log")
	}
}

func TestRegistry_CountAndInfo(t *testing.T) {
	reg := session.NewRegistry(nil)

	sess, err := reg.Create(context.Background(), &recordingTransport{}, "alice")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := reg.Create(context.Background(), &recordingTransport{}, "bob"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}

	info, err := reg.Info(sess.ID())
	if err != nil {
		t.Fatalf("Info() failed: %v", err)
	}
	if info.ID != sess.ID() || info.UserID != "alice" || info.State != session.StateIdle {
		t.Errorf("Info() = %+v, mismatch", info)
	}

	reg.CloseAll()
	if reg.Count() != 0 {
		t.Errorf("Count() after CloseAll = %d, want 0", reg.Count())
	}
}

func TestRegistry_CustomWelcome(t *testing.T) {
	reg := session.NewRegistry(&session.Config{WelcomeMessage: "Welcome aboard."})
	transport := &recordingTransport{}

	if _, err := reg.Create(context.Background(), transport, "u"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	frames := transport.sent()
	welcome, ok := frames[1].(frame.System)
	if !ok || welcome.Content != "Welcome aboard." {
		t.Errorf("welcome frame = %#v, want configured message", frames[1])
	}
}
