package mcp

// ServerConfig describes one remote MCP server reachable over HTTP.
type ServerConfig struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Config holds MCP subsystem initialization parameters.
type Config struct {
	// Servers are connected at startup. A server that fails to connect is
	// recorded as failed and does not abort the process.
	Servers []ServerConfig `json:"servers,omitempty"`

	// ConnectTimeoutMillis bounds connection and tool discovery per server.
	ConnectTimeoutMillis int `json:"connect_timeout_millis,omitempty"`
}

// DefaultConfig returns a Config with no servers and a 5 second connect
// timeout.
func DefaultConfig() Config {
	return Config{
		ConnectTimeoutMillis: 5000,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if len(source.Servers) > 0 {
		c.Servers = source.Servers
	}
	if source.ConnectTimeoutMillis > 0 {
		c.ConnectTimeoutMillis = source.ConnectTimeoutMillis
	}
}
