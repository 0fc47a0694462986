package provider

import "github.com/tailored-agentic-units/parley/core/protocol"

// Accumulator reassembles tool calls from positional stream deltas.
// Fragments are keyed by the stream's provided index, never by name, since
// both names and argument payloads can arrive split across deltas.
// The zero value is ready to use. Not safe for concurrent use; one
// accumulator belongs to one stream consumer.
type Accumulator struct {
	calls []partialCall
}

type partialCall struct {
	id        string
	name      string
	arguments string
}

// Add folds one delta fragment into the call at its index, growing the
// positional slots as needed.
func (a *Accumulator) Add(d ToolCallDelta) {
	if d.Index < 0 {
		return
	}
	for len(a.calls) <= d.Index {
		a.calls = append(a.calls, partialCall{})
	}

	call := &a.calls[d.Index]
	if d.ID != "" {
		call.id = d.ID
	}
	call.name += d.Name
	call.arguments += d.ArgumentFragment
}

// Len reports how many positional slots have been touched.
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Calls returns the fully assembled tool calls in positional order,
// skipping slots that never received an id and a name.
func (a *Accumulator) Calls() []protocol.ToolCall {
	out := make([]protocol.ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		if c.id == "" || c.name == "" {
			continue
		}
		out = append(out, protocol.ToolCall{
			ID:        c.id,
			Name:      c.name,
			Arguments: c.arguments,
		})
	}
	return out
}
