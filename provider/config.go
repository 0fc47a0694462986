package provider

import "time"

const (
	defaultModel      = "gpt-4o"
	defaultMaxTokens  = 1500
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Config holds completion backend parameters. APIKey normally arrives from
// the environment rather than the config file; the field is honored either
// way so test and local setups can inline it.
type Config struct {
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Model:       defaultModel,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.7,
		MaxRetries:  defaultMaxRetries,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.APIKey != "" {
		c.APIKey = source.APIKey
	}
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.MaxTokens > 0 {
		c.MaxTokens = source.MaxTokens
	}
	if source.Temperature > 0 {
		c.Temperature = source.Temperature
	}
	if source.MaxRetries > 0 {
		c.MaxRetries = source.MaxRetries
	}
}
