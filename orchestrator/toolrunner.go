package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tailored-agentic-units/parley/core/frame"
	"github.com/tailored-agentic-units/parley/core/protocol"
	"github.com/tailored-agentic-units/parley/observability"
	"github.com/tailored-agentic-units/parley/session"
)

// dispatchBatch registers the batch in the session's pending set and launches
// one goroutine per call. Tasks derive their context from the session, so
// closing the session cancels every member of the batch.
func (o *Orchestrator) dispatchBatch(sess *session.Session, calls []protocol.ToolCall) {
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
	}
	batchID := sess.BeginBatch(ids)

	o.event(sess.Context(), EventToolDispatch, observability.LevelInfo, map[string]any{
		"session_id": sess.ID(),
		"batch_id":   batchID,
		"tool_count": len(calls),
	})

	for _, call := range calls {
		go o.runTool(sess, batchID, call)
	}
}

// runTool executes one tool call to completion and records the outcome. The
// last completion of a batch triggers the final synthesis pass. A task whose
// session closed mid-flight discards its result: FinishTool refuses the
// entry, and no synthesis fires.
func (o *Orchestrator) runTool(sess *session.Session, batchID string, call protocol.ToolCall) {
	ctx := sess.Context()

	o.send(ctx, sess, frame.System{Content: fmt.Sprintf("Running %s...", call.Name)})

	content, failed := o.executeTool(ctx, call)

	if ctx.Err() != nil {
		return
	}

	if failed {
		o.send(ctx, sess, frame.System{Content: fmt.Sprintf("%s failed", call.Name)})
	} else {
		o.send(ctx, sess, frame.System{Content: fmt.Sprintf("%s completed", call.Name)})
	}

	msg := protocol.Message{
		Role:       protocol.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
	}

	o.event(ctx, EventToolComplete, observability.LevelVerbose, map[string]any{
		"session_id": sess.ID(),
		"batch_id":   batchID,
		"tool":       call.Name,
		"failed":     failed,
	})

	if last := sess.FinishTool(batchID, call.ID, msg); last {
		o.finishBatch(sess, batchID)
	}
}

// executeTool runs the registered handler and folds every failure mode into
// a result string: the model reads tool errors from history like any other
// result, which lets the final answer explain what went wrong.
func (o *Orchestrator) executeTool(ctx context.Context, call protocol.ToolCall) (string, bool) {
	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return fmt.Sprintf("error: tool %s received malformed arguments", call.Name), true
	}

	result, err := o.tools.Execute(ctx, call.Name, args)
	if err != nil {
		return fmt.Sprintf("error: %v", err), true
	}
	if result.IsError {
		return fmt.Sprintf("error: %s", result.Content), true
	}
	return result.Content, false
}

// finishBatch runs once per batch, on the goroutine whose completion drained
// it: the session swings back to Thinking and the synthesis pass folds the
// accumulated tool results into a final answer.
func (o *Orchestrator) finishBatch(sess *session.Session, batchID string) {
	ctx := sess.Context()

	o.event(ctx, EventBatchDrained, observability.LevelInfo, map[string]any{
		"session_id": sess.ID(),
		"batch_id":   batchID,
	})

	o.transition(ctx, sess, session.StateThinking)
	o.send(ctx, sess, frame.AgentThinking{Content: "Processing tool results..."})

	o.runCompletion(ctx, sess, nil, true)
}
