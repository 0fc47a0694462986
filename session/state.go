package session

import "fmt"

// State is the session's position in the conversation lifecycle.
type State string

const (
	// StateIdle: nothing in flight; the initial state.
	StateIdle State = "idle"
	// StateThinking: a completion request has been dispatched, no content yet.
	StateThinking State = "thinking"
	// StateSpeaking: content chunks for the current logical answer (direct
	// or filler) are being streamed.
	StateSpeaking State = "speaking"
	// StateProcessingTool: at least one tool task is outstanding. Not a
	// blocking state; the session keeps accepting inbound turns.
	StateProcessingTool State = "processing_tool"
)

// validTransitions encodes the state machine. ProcessingTool oscillates
// with Speaking while filler replies stream, and Speaking may fall back to
// Thinking when the batch drains mid-filler.
var validTransitions = map[State][]State{
	StateIdle:           {StateThinking},
	StateThinking:       {StateSpeaking, StateProcessingTool, StateIdle},
	StateSpeaking:       {StateIdle, StateProcessingTool, StateThinking},
	StateProcessingTool: {StateSpeaking, StateThinking},
}

func (s State) canTransitionTo(to State) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is wrapped with the offending states by Transition.
var ErrInvalidTransition = fmt.Errorf("invalid state transition")
