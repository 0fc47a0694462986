// Package orchestrator drives real-time conversational sessions: it routes
// inbound turns by session state, streams completion replies, runs tool
// batches in the background while the session keeps answering, and
// reconciles deferred tool results into a final answer without repeating
// content the user has already seen.
//
// The Orchestrator is explicitly constructed from configuration and passed
// by reference to transport handlers; Shutdown closes every live session.
//
//	o, err := orchestrator.New(&cfg, orchestrator.WithToolExecutor(reg))
//	id, err := o.Connect(ctx, transport, userID)
//	err = o.HandleInbound(ctx, id, inboundFrame)
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/dedup"
	"github.com/tailored-agentic-units/parley/observability"
	"github.com/tailored-agentic-units/parley/provider"
	"github.com/tailored-agentic-units/parley/session"
	"github.com/tailored-agentic-units/parley/tools"
)

// ToolExecutor abstracts tool listing and execution for testability.
// *tools.Registry is the production implementation.
type ToolExecutor interface {
	List() []protocol.Tool
	Execute(ctx context.Context, name string, args json.RawMessage) (tools.Result, error)
}

// Deduper is the swappable content-deduplication strategy. *dedup.Engine is
// the production implementation; the heuristic can be tuned or replaced
// without touching the orchestrator.
type Deduper interface {
	FilterFinal(text string, filler []string) string
	NewStream(filler []string) dedup.ChunkFilter
}

// Option configures an Orchestrator after config-driven initialization.
// Applied by New after cold start; overrides replace config-created defaults.
type Option func(*Orchestrator)

// WithProvider overrides the config-created completion provider.
func WithProvider(p provider.Client) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithToolExecutor overrides the default empty tool registry.
func WithToolExecutor(e ToolExecutor) Option {
	return func(o *Orchestrator) { o.tools = e }
}

// WithDeduper overrides the config-created deduplication engine.
func WithDeduper(d Deduper) Option {
	return func(o *Orchestrator) { o.dedup = d }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(obs observability.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithRegistry overrides the config-created session registry.
func WithRegistry(r *session.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// Orchestrator is the top-level conversation service.
type Orchestrator struct {
	registry *session.Registry
	provider provider.Client
	tools    ToolExecutor
	dedup    Deduper
	observer observability.Observer

	systemPrompt    string
	fillerPrompt    string
	fillerFallbacks []string
	fallbackSeq     atomic.Uint64
}

// New creates an Orchestrator from configuration. Functional options
// applied after initialization can override any subsystem for testing.
func New(cfg *Config, opts ...Option) (*Orchestrator, error) {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}

	o := &Orchestrator{
		registry:        session.NewRegistry(&merged.Session),
		provider:        provider.NewOpenAI(&merged.Provider),
		tools:           tools.NewRegistry(),
		dedup:           dedup.NewEngine(&merged.Dedup),
		observer:        observability.NewSlogObserver(slog.Default()),
		systemPrompt:    merged.SystemPrompt,
		fillerPrompt:    merged.FillerPrompt,
		fillerFallbacks: merged.FillerFallbacks,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Connect allocates a session for a fresh connection and returns its id.
// The registry emits the session_created and welcome frames.
func (o *Orchestrator) Connect(ctx context.Context, transport session.Transport, userID string) (string, error) {
	sess, err := o.registry.Create(ctx, transport, userID)
	if err != nil {
		return "", err
	}

	o.event(ctx, EventSessionCreated, observability.LevelInfo, map[string]any{
		"session_id": sess.ID(),
		"user_id":    sess.UserID(),
	})
	return sess.ID(), nil
}

// HandleInbound processes one decoded client frame for the given session.
// Text turns are answered directly, or acknowledged with a filler reply
// when a tool batch is still running. Audio frames are rejected with an
// error frame; the session stays alive either way.
func (o *Orchestrator) HandleInbound(ctx context.Context, sessionID string, in frame.Inbound) error {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return err
	}

	sess.Touch()

	switch in.Type {
	case frame.InboundText:
		return o.handleTurn(ctx, sess, in.Content)
	case frame.InboundAudio:
		o.send(ctx, sess, frame.Error{Content: "audio is not supported yet, please send text"})
		return nil
	default:
		o.send(ctx, sess, frame.Error{Content: "unsupported message type: " + string(in.Type)})
		return nil
	}
}

// handleTurn routes a user turn by session state: while a tool batch is
// outstanding, or the drained batch's final answer is still being
// synthesized, the turn is served by the filler generator on an independent
// goroutine; otherwise it enters the normal completion path. Without the
// synthesis check a turn landing between batch drain and answer delivery
// would start a second completion whose chunks interleave with the
// synthesis stream.
func (o *Orchestrator) handleTurn(ctx context.Context, sess *session.Session, content string) error {
	o.send(ctx, sess, frame.MessageReceived{})
	o.event(ctx, EventTurnReceived, observability.LevelVerbose, map[string]any{
		"session_id":   sess.ID(),
		"content_size": len(content),
		"pending":      sess.PendingToolCount(),
	})

	if sess.PendingToolCount() > 0 || sess.Synthesizing() {
		go o.serveFiller(sess, content)
		return nil
	}

	o.transition(ctx, sess, session.StateThinking)
	o.send(ctx, sess, frame.AgentThinking{Content: "Thinking about your request..."})

	userMsg := protocol.NewMessage(protocol.RoleUser, content)
	o.runCompletion(ctx, sess, &userMsg, false)
	return nil
}

// Close tears down a session, cancelling its pending tool tasks. Idempotent.
func (o *Orchestrator) Close(sessionID string) {
	o.registry.Close(sessionID)
}

// Shutdown closes every live session.
func (o *Orchestrator) Shutdown() {
	o.registry.CloseAll()
}

// SessionCount reports the number of live sessions.
func (o *Orchestrator) SessionCount() int {
	return o.registry.Count()
}

// SessionInfo returns the observability snapshot for a session.
func (o *Orchestrator) SessionInfo(id string) (session.Info, error) {
	return o.registry.Info(id)
}

// Tools lists every tool currently invocable by the completion provider.
func (o *Orchestrator) Tools() []protocol.Tool {
	return o.tools.List()
}

// send delivers one outbound frame, reporting delivery failures as events
// rather than propagating them: a broken transport surfaces as a read error
// in the gateway, which tears the session down.
func (o *Orchestrator) send(ctx context.Context, sess *session.Session, f frame.Outbound) {
	if err := sess.Transport().Send(ctx, f); err != nil {
		o.event(ctx, EventError, observability.LevelWarning, map[string]any{
			"session_id": sess.ID(),
			"frame":      f.FrameType(),
			"error":      err.Error(),
		})
	}
}

// transition moves the session state machine, reporting (not panicking on)
// unexpected moves.
func (o *Orchestrator) transition(ctx context.Context, sess *session.Session, to session.State) {
	if err := sess.Transition(to); err != nil {
		o.event(ctx, EventError, observability.LevelWarning, map[string]any{
			"session_id": sess.ID(),
			"error":      err.Error(),
		})
	}
}

func (o *Orchestrator) event(ctx context.Context, t observability.EventType, level observability.Level, data map[string]any) {
	o.observer.OnEvent(ctx, observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "orchestrator",
		Data:      data,
	})
}
