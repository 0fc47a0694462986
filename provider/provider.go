// Package provider abstracts the streaming completion backend. The
// orchestrator consumes the Client interface; the OpenAI implementation in
// this package is the production backend.
package provider

import (
	"context"

	"github.com/tailored-agentic-units/parley/core/protocol"
)

// ToolCallDelta is one incremental fragment of a tool-call descriptor.
// Name and ArgumentFragment may each arrive split across several deltas;
// Index correlates fragments belonging to the same call.
type ToolCallDelta struct {
	Index            int
	ID               string
	Name             string
	ArgumentFragment string
}

// Delta is one increment of a streamed completion. Any combination of
// fields may be set; a zero Delta is valid and carries nothing.
type Delta struct {
	Text         string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// Stream yields completion deltas. Recv returns io.EOF after the final
// delta; Close releases the underlying connection and is safe to call more
// than once.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Client issues streaming completion requests. Implementations must be safe
// for concurrent use; each returned Stream belongs to a single caller.
type Client interface {
	// StreamCompletion sends the message list and tool schema and returns
	// the incremental reply. A nil or empty toolset requests a plain
	// completion with no tool calling.
	StreamCompletion(ctx context.Context, messages []protocol.Message, toolset []protocol.Tool) (Stream, error)
}
