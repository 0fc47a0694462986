package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tailored-agentic-units/parley/core/protocol"
)

// ErrNoAPIKey is returned by StreamCompletion when the client was built
// without credentials. Construction with an empty key is allowed so the
// service can start before configuration is complete.
var ErrNoAPIKey = errors.New("completion provider API key not configured")

// OpenAI is a Client backed by an OpenAI-compatible chat completion API.
// Tool calls stream incrementally and are surfaced as positional deltas for
// the caller's Accumulator. Safe for concurrent use; every StreamCompletion
// call owns an independent stream.
type OpenAI struct {
	client     *openai.Client
	cfg        Config
	retryDelay time.Duration
}

// NewOpenAI creates an OpenAI-backed provider from configuration.
func NewOpenAI(cfg *Config) *OpenAI {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}

	p := &OpenAI{cfg: merged, retryDelay: defaultRetryDelay}
	if merged.APIKey == "" {
		return p
	}

	clientCfg := openai.DefaultConfig(merged.APIKey)
	if merged.BaseURL != "" {
		clientCfg.BaseURL = merged.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientCfg)
	return p
}

// StreamCompletion implements Client. Transient failures (rate limits,
// server errors) are retried with linear backoff before giving up.
func (p *OpenAI) StreamCompletion(ctx context.Context, messages []protocol.Message, toolset []protocol.Tool) (Stream, error) {
	if p.client == nil {
		return nil, ErrNoAPIKey
	}

	req := openai.ChatCompletionRequest{
		Model:    p.cfg.Model,
		Messages: convertMessages(messages),
		Stream:   true,
	}
	if p.cfg.MaxTokens > 0 {
		req.MaxTokens = p.cfg.MaxTokens
	}
	if p.cfg.Temperature > 0 {
		req.Temperature = p.cfg.Temperature
	}
	if len(toolset) > 0 {
		req.Tools = convertTools(toolset)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			return &openaiStream{stream: stream}, nil
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("completion request failed: %w", lastErr)
		}
	}

	return nil, fmt.Errorf("completion request failed after %d attempts: %w", p.cfg.MaxRetries, lastErr)
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (Delta, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Delta{}, err
	}
	if len(resp.Choices) == 0 {
		return Delta{}, nil
	}

	choice := resp.Choices[0]
	d := Delta{
		Text:         choice.Delta.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		d.ToolCalls = append(d.ToolCalls, ToolCallDelta{
			Index:            index,
			ID:               tc.ID,
			Name:             tc.Function.Name,
			ArgumentFragment: tc.Function.Arguments,
		})
	}
	return d, nil
}

func (s *openaiStream) Close() error {
	s.stream.Close()
	return nil
}

func convertMessages(messages []protocol.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

func convertTools(toolset []protocol.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(toolset))
	for _, t := range toolset {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}
