package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/dedup"
	"github.com/tailored-agentic-units/parley/observability"
	"github.com/tailored-agentic-units/parley/provider"
	"github.com/tailored-agentic-units/parley/session"
)

// runCompletion drives one request/response cycle against the completion
// provider. On the primary path, pendingUser carries the in-flight user
// turn: it is joined to history only once the reply has been fully
// consumed (or tool calls dispatched), so a provider failure leaves
// history untouched. The final-synthesis variant (final=true) sends no
// tool schema and routes its output through the deduplication engine.
func (o *Orchestrator) runCompletion(ctx context.Context, sess *session.Session, pendingUser *protocol.Message, final bool) {
	messages := o.buildMessages(sess, pendingUser)

	var toolset []protocol.Tool
	if !final {
		toolset = o.tools.List()
	}

	stream, err := o.provider.StreamCompletion(ctx, messages, toolset)
	if err != nil {
		o.failAnswer(ctx, sess, err, final)
		return
	}
	defer stream.Close()

	var text strings.Builder
	var acc provider.Accumulator
	var chunkFilter dedup.ChunkFilter
	if final {
		chunkFilter = o.dedup.NewStream(sess.FillerEntries())
	}

	speaking := false
	for {
		d, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			o.failAnswer(ctx, sess, err, final)
			return
		}

		if d.Text != "" {
			if !speaking {
				o.transition(ctx, sess, session.StateSpeaking)
				speaking = true
			}
			text.WriteString(d.Text)

			if chunkFilter == nil || chunkFilter.Permit(d.Text) {
				o.send(ctx, sess, frame.ResponseChunk{Content: d.Text})
			}
		}

		for _, tc := range d.ToolCalls {
			acc.Add(tc)
		}
	}

	if calls := acc.Calls(); len(calls) > 0 && !final {
		o.beginToolBatch(ctx, sess, pendingUser, text.String(), calls)
		return
	}

	o.completeAnswer(ctx, sess, pendingUser, text.String(), final, speaking)
}

// beginToolBatch records the assistant's partial message plus its tool-call
// descriptors in history, dispatches every call to a background task, and
// returns without waiting: the session keeps accepting inbound turns.
func (o *Orchestrator) beginToolBatch(ctx context.Context, sess *session.Session, pendingUser *protocol.Message, partial string, calls []protocol.ToolCall) {
	assistant := protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   partial,
		ToolCalls: calls,
	}
	if pendingUser != nil {
		sess.AppendMessages(*pendingUser, assistant)
	} else {
		sess.AppendMessages(assistant)
	}

	o.transition(ctx, sess, session.StateProcessingTool)
	o.send(ctx, sess, frame.System{Content: "Running background tools for your request..."})

	o.dispatchBatch(sess, calls)
}

// completeAnswer finishes a direct or synthesized answer: history gains the
// user turn (primary path) and the assistant reply, the response_complete
// frame is emitted, and the session returns to Idle. For synthesized
// answers the stored text is the sentence-level deduplicated form and the
// filler log is cleared so the next batch starts fresh.
func (o *Orchestrator) completeAnswer(ctx context.Context, sess *session.Session, pendingUser *protocol.Message, text string, final, speaking bool) {
	if final {
		text = o.dedup.FilterFinal(text, sess.FillerEntries())
	}

	var msgs []protocol.Message
	if pendingUser != nil {
		msgs = append(msgs, *pendingUser)
	}
	if text != "" {
		msgs = append(msgs, protocol.NewMessage(protocol.RoleAssistant, text))
	}
	if len(msgs) > 0 {
		sess.AppendMessages(msgs...)
	}

	if !speaking {
		o.transition(ctx, sess, session.StateSpeaking)
	}
	o.send(ctx, sess, frame.ResponseComplete{Content: text})

	if final {
		sess.ClearFiller()
		sess.FinishSynthesis()
	}
	o.transition(ctx, sess, session.StateIdle)

	o.event(ctx, EventAnswerComplete, observability.LevelInfo, map[string]any{
		"session_id":  sess.ID(),
		"synthesized": final,
		"answer_size": len(text),
	})
}

// failAnswer reports a completion provider failure: an error frame goes
// out, the state resets to Idle, and history stays untouched. A failed
// synthesis still clears the filler log, since its batch is already over.
func (o *Orchestrator) failAnswer(ctx context.Context, sess *session.Session, err error, final bool) {
	o.event(ctx, EventError, observability.LevelError, map[string]any{
		"session_id": sess.ID(),
		"error":      err.Error(),
	})

	o.send(ctx, sess, frame.Error{Content: "error processing your request, please try again"})
	if final {
		sess.ClearFiller()
		sess.FinishSynthesis()
	}
	sess.ResetIdle()
}

// buildMessages assembles the provider message list: system prompt, the
// authoritative history, and the in-flight user turn when present.
func (o *Orchestrator) buildMessages(sess *session.Session, pendingUser *protocol.Message) []protocol.Message {
	history := sess.History()

	messages := make([]protocol.Message, 0, len(history)+2)
	if o.systemPrompt != "" {
		messages = append(messages, protocol.NewMessage(protocol.RoleSystem, o.systemPrompt))
	}
	messages = append(messages, history...)
	if pendingUser != nil {
		messages = append(messages, *pendingUser)
	}
	return messages
}
