package orchestrator

import (
	"errors"
	"io"
	"strings"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/observability"
	"github.com/tailored-agentic-units/parley/session"
)

// serveFiller answers a turn that arrived while a tool batch is still
// running or its final answer is still being synthesized. The reply is
// generated from a minimal prompt carrying only the
// new turn, so the model acknowledges without attempting a real answer, and
// neither the turn nor the reply enters history. The delivered text is
// logged so the final synthesis can strip anything it would repeat.
func (o *Orchestrator) serveFiller(sess *session.Session, content string) {
	ctx := sess.Context()

	o.transition(ctx, sess, session.StateSpeaking)

	text, streamed := o.generateFiller(sess, content)
	if text == "" {
		text = o.nextFallback()
	}

	// Logged before response_complete goes out, so a batch draining
	// mid-filler synthesizes against the complete log.
	sess.AppendFiller(text)

	if !streamed {
		o.send(ctx, sess, frame.ResponseChunk{Content: text})
	}
	o.send(ctx, sess, frame.ResponseComplete{Content: text})

	// Restore the tool-processing state only while calls are still pending.
	// If the batch drained while we were speaking, or this filler covered
	// the synthesis window itself, the synthesis pass owns the state machine.
	if sess.PendingToolCount() > 0 {
		_ = sess.Transition(session.StateProcessingTool)
	}

	o.event(ctx, EventFillerServed, observability.LevelVerbose, map[string]any{
		"session_id": sess.ID(),
		"size":       len(text),
	})
}

// generateFiller streams a short acknowledgement from the provider. Returns
// the full text and whether chunks were already delivered; any failure
// returns empty text so the caller falls back to a canned line.
func (o *Orchestrator) generateFiller(sess *session.Session, content string) (string, bool) {
	ctx := sess.Context()

	messages := []protocol.Message{
		protocol.NewMessage(protocol.RoleSystem, o.fillerPrompt),
		protocol.NewMessage(protocol.RoleUser, content),
	}

	stream, err := o.provider.StreamCompletion(ctx, messages, nil)
	if err != nil {
		return "", false
	}
	defer stream.Close()

	var text strings.Builder
	streamed := false
	for {
		d, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A broken filler stream keeps whatever was already shown.
			return text.String(), streamed
		}
		if d.Text != "" {
			text.WriteString(d.Text)
			o.send(ctx, sess, frame.ResponseChunk{Content: d.Text})
			streamed = true
		}
	}
	return text.String(), streamed
}

// nextFallback rotates through the configured canned acknowledgements so
// consecutive waits don't repeat the same line.
func (o *Orchestrator) nextFallback() string {
	n := o.fallbackSeq.Add(1)
	return o.fillerFallbacks[int(n-1)%len(o.fillerFallbacks)]
}
