package session

const defaultWelcome = "Hello! I'm your assistant. I'm here to help with whatever you need. What can I do for you today?"

// Config holds registry initialization parameters.
type Config struct {
	// WelcomeMessage is sent as a system frame right after session creation.
	WelcomeMessage string `json:"welcome_message,omitempty"`
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{WelcomeMessage: defaultWelcome}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.WelcomeMessage != "" {
		c.WelcomeMessage = source.WelcomeMessage
	}
}
