package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailored-agentic-units/parley/dedup"
	"github.com/tailored-agentic-units/parley/mcp"
	"github.com/tailored-agentic-units/parley/provider"
	"github.com/tailored-agentic-units/parley/session"
)

const defaultSystemPrompt = "You are a helpful real-time assistant. Keep answers " +
	"concise and conversational. Use the available tools when a request needs " +
	"computation or lookup, and answer directly when it does not."

const defaultFillerPrompt = "You are briefly acknowledging a user while a " +
	"longer task finishes in the background. Reply in one or two short " +
	"sentences. Do not attempt to answer their request; just let them know " +
	"you heard them and are still working."

// Config holds initialization parameters for all orchestrator subsystems.
// Each subsystem section delegates to that subsystem's config-driven
// constructor.
type Config struct {
	Provider provider.Config `json:"provider"`
	Session  session.Config  `json:"session"`
	Dedup    dedup.Config    `json:"dedup"`

	// MCP configures external tool servers. The entrypoint owns the
	// manager's lifecycle; its tools arrive through the shared registry.
	MCP mcp.Config `json:"mcp"`

	SystemPrompt string `json:"system_prompt,omitempty"`
	FillerPrompt string `json:"filler_prompt,omitempty"`

	// FillerFallbacks are canned acknowledgements used when the provider
	// cannot produce a filler reply.
	FillerFallbacks []string `json:"filler_fallbacks,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Provider:     provider.DefaultConfig(),
		Session:      session.DefaultConfig(),
		Dedup:        dedup.DefaultConfig(),
		MCP:          mcp.DefaultConfig(),
		SystemPrompt: defaultSystemPrompt,
		FillerPrompt: defaultFillerPrompt,
		FillerFallbacks: []string{
			"I'm still working on that for you, one moment.",
			"Still on it, this is taking a little longer than usual.",
			"Almost there, thanks for your patience.",
		},
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Provider.Merge(&source.Provider)
	c.Session.Merge(&source.Session)
	c.Dedup.Merge(&source.Dedup)
	c.MCP.Merge(&source.MCP)

	if source.SystemPrompt != "" {
		c.SystemPrompt = source.SystemPrompt
	}
	if source.FillerPrompt != "" {
		c.FillerPrompt = source.FillerPrompt
	}
	if len(source.FillerFallbacks) > 0 {
		c.FillerFallbacks = source.FillerFallbacks
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
