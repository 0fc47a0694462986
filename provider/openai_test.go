package provider

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tailored-agentic-units/parley/core/protocol"
)

func TestStreamCompletion_NoAPIKey(t *testing.T) {
	p := NewOpenAI(&Config{})

	_, err := p.StreamCompletion(context.Background(), nil, nil)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("StreamCompletion() error = %v, want ErrNoAPIKey", err)
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []protocol.Message{
		protocol.NewMessage(protocol.RoleSystem, "be brief"),
		{
			Role:    protocol.RoleAssistant,
			Content: "checking",
			ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "calculate", Arguments: `{"expression":"2+2"}`},
			},
		},
		{Role: protocol.RoleTool, Content: "4", ToolCallID: "call_1"},
	}

	out := convertMessages(messages)
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be brief" {
		t.Errorf("system message mismatch: %+v", out[0])
	}
	if len(out[1].ToolCalls) != 1 {
		t.Fatalf("assistant message lost its tool calls")
	}
	tc := out[1].ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != openai.ToolTypeFunction || tc.Function.Name != "calculate" {
		t.Errorf("tool call mismatch: %+v", tc)
	}
	if out[2].ToolCallID != "call_1" {
		t.Errorf("tool result correlation id = %q, want call_1", out[2].ToolCallID)
	}
}

func TestConvertTools(t *testing.T) {
	toolset := []protocol.Tool{
		{
			Name:        "calculate",
			Description: "evaluates arithmetic",
			Parameters:  map[string]any{"type": "object"},
		},
	}

	out := convertTools(toolset)
	if len(out) != 1 {
		t.Fatalf("got %d tools, want 1", len(out))
	}
	if out[0].Type != openai.ToolTypeFunction {
		t.Errorf("tool type = %q, want function", out[0].Type)
	}
	if out[0].Function == nil || out[0].Function.Name != "calculate" {
		t.Errorf("function definition mismatch: %+v", out[0].Function)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"auth failure", &openai.APIError{HTTPStatusCode: 401}, false},
		{"request error 500", &openai.RequestError{HTTPStatusCode: 500}, true},
		{"request error 404", &openai.RequestError{HTTPStatusCode: 404}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{Model: "gpt-4o-mini", MaxRetries: 5})

	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want override", cfg.Model)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.MaxTokens != DefaultConfig().MaxTokens {
		t.Errorf("MaxTokens = %d, want default preserved", cfg.MaxTokens)
	}
}
