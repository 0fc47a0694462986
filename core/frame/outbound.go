package frame

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound is the closed set of frames the service emits to a client.
// Each variant corresponds to exactly one wire "type" value.
type Outbound interface {
	// FrameType returns the wire discriminator for this variant.
	FrameType() string
}

// SessionCreated confirms session allocation to a freshly connected client.
type SessionCreated struct {
	SessionID string
	Timestamp time.Time
}

func (SessionCreated) FrameType() string { return "session_created" }

// System carries status narration (tool lifecycle, greetings).
type System struct {
	Content string
}

func (System) FrameType() string { return "system" }

// MessageReceived acknowledges an accepted user turn.
type MessageReceived struct{}

func (MessageReceived) FrameType() string { return "message_received" }

// AgentThinking signals that a completion request has been dispatched.
type AgentThinking struct {
	Content string
}

func (AgentThinking) FrameType() string { return "agent_thinking" }

// ResponseChunk is one incremental unit of a streamed answer.
type ResponseChunk struct {
	Content string
}

func (ResponseChunk) FrameType() string { return "response_chunk" }

// ResponseComplete terminates a streamed answer; Content carries the
// complete (deduplicated, for synthesized answers) text.
type ResponseComplete struct {
	Content string
}

func (ResponseComplete) FrameType() string { return "response_complete" }

// Error reports a recoverable failure to the client.
type Error struct {
	Content string
}

func (Error) FrameType() string { return "error" }

// Encode marshals an outbound frame to its wire form. The switch is
// exhaustive over the closed variant set; an unlisted type is a programming
// error and fails loudly.
func Encode(f Outbound) ([]byte, error) {
	switch v := f.(type) {
	case SessionCreated:
		return json.Marshal(struct {
			Type      string    `json:"type"`
			SessionID string    `json:"session_id"`
			Timestamp time.Time `json:"timestamp"`
		}{v.FrameType(), v.SessionID, v.Timestamp})
	case System:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{v.FrameType(), v.Content})
	case MessageReceived:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{v.FrameType()})
	case AgentThinking:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{v.FrameType(), v.Content})
	case ResponseChunk:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{v.FrameType(), v.Content})
	case ResponseComplete:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{v.FrameType(), v.Content})
	case Error:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{v.FrameType(), v.Content})
	default:
		return nil, fmt.Errorf("unknown outbound frame type %T", f)
	}
}
