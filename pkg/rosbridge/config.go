package rosbridge

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultPort is the port rosbridge_server listens on.
const DefaultPort = 9090

// Config holds rosbridge client configuration.
type Config struct {
	// URL is the bridge WebSocket URL, e.g. "ws://192.168.1.20:9090".
	URL string `yaml:"url" json:"url"`

	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// PingInterval is how often a WebSocket ping is sent. 0 disables pings.
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`

	// Compression is requested on subscriptions: "" (none) or "cbor".
	Compression string `yaml:"compression" json:"compression"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              fmt.Sprintf("ws://localhost:%d", DefaultPort),
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
	}
}

// URLFor builds the bridge URL for a host and port.
func URLFor(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("ws://%s:%d", host, port)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", c.URL)
	}
	switch c.Compression {
	case "", "none", CompressionCBOR:
	default:
		return fmt.Errorf("compression must be 'none' or 'cbor', got '%s'", c.Compression)
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 || c.PingInterval < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
