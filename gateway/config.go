package gateway

import "time"

const (
	defaultAddr            = ":8000"
	defaultReadBuffer      = 8192
	defaultWriteBuffer     = 8192
	defaultMaxPayloadBytes = 1 << 20
	defaultSendQueue       = 64
	defaultPongWait        = 45 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultPingInterval    = 15 * time.Second
)

// Config holds the WebSocket gateway's listener and connection parameters.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `json:"addr,omitempty"`

	// ReadBufferSize and WriteBufferSize size the per-connection I/O buffers.
	ReadBufferSize  int `json:"read_buffer_size,omitempty"`
	WriteBufferSize int `json:"write_buffer_size,omitempty"`

	// MaxPayloadBytes caps the size of one inbound frame.
	MaxPayloadBytes int64 `json:"max_payload_bytes,omitempty"`

	// SendQueue is the per-connection outbound frame queue depth.
	SendQueue int `json:"send_queue,omitempty"`

	// PongWait is the read deadline refreshed on every pong; PingInterval
	// must be shorter. WriteWait bounds a single frame write.
	PongWait     time.Duration `json:"pong_wait,omitempty"`
	WriteWait    time.Duration `json:"write_wait,omitempty"`
	PingInterval time.Duration `json:"ping_interval,omitempty"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            defaultAddr,
		ReadBufferSize:  defaultReadBuffer,
		WriteBufferSize: defaultWriteBuffer,
		MaxPayloadBytes: defaultMaxPayloadBytes,
		SendQueue:       defaultSendQueue,
		PongWait:        defaultPongWait,
		WriteWait:       defaultWriteWait,
		PingInterval:    defaultPingInterval,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.ReadBufferSize > 0 {
		c.ReadBufferSize = source.ReadBufferSize
	}
	if source.WriteBufferSize > 0 {
		c.WriteBufferSize = source.WriteBufferSize
	}
	if source.MaxPayloadBytes > 0 {
		c.MaxPayloadBytes = source.MaxPayloadBytes
	}
	if source.SendQueue > 0 {
		c.SendQueue = source.SendQueue
	}
	if source.PongWait > 0 {
		c.PongWait = source.PongWait
	}
	if source.WriteWait > 0 {
		c.WriteWait = source.WriteWait
	}
	if source.PingInterval > 0 {
		c.PingInterval = source.PingInterval
	}
}
