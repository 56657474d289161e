// Package zenohclient provides a client for a zenoh router's REST plugin
// for Walkie robot communication.
//
// This package handles:
//   - Connection probing with automatic retry
//   - Publishing samples with HTTP PUT
//   - Subscribing to key expressions over server-sent events
//   - One-shot queries with HTTP GET
package zenohclient

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultPort is the port of the zenoh REST plugin.
const DefaultPort = 8000

// Config holds Zenoh client configuration.
type Config struct {
	// Endpoint is the base URL of the zenoh REST plugin.
	// Examples: "http://localhost:8000", "http://192.168.1.20:8000"
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Prefix is prepended to every key. Empty means keys are used as given.
	Prefix string `yaml:"prefix" json:"prefix"`

	// ProbeKey is queried by Connect to check the router is reachable.
	ProbeKey string `yaml:"probe_key" json:"probe_key"`

	// RequestTimeout bounds PUT and GET requests. Subscriptions are unbounded.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// ReconnectInterval is how often to attempt reconnection on failure.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:             fmt.Sprintf("http://localhost:%d", DefaultPort),
		ProbeKey:             "@/*/router",
		RequestTimeout:       5 * time.Second,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
	}
}

// EndpointFor builds the REST endpoint for a host and port.
func EndpointFor(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", c.Endpoint)
	}
	if c.ProbeKey == "" {
		return fmt.Errorf("probe_key is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	return nil
}
