package transport

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-walkie/pkg/rosbridge"
	"github.com/teslashibe/go-walkie/pkg/zenohclient"
)

// Config selects and addresses a transport.
type Config struct {
	// Protocol is rosbridge, zenoh or auto.
	Protocol Protocol `yaml:"protocol" json:"protocol"`

	// Host is the robot address.
	Host string `yaml:"host" json:"host"`

	// Port is the bridge port. 0 uses the protocol default.
	Port int `yaml:"port" json:"port"`

	// ZenohPort is the zenoh REST port tried by auto-detection, and the
	// zenoh port when Port is 0. 0 uses the default.
	ZenohPort int `yaml:"zenoh_port" json:"zenoh_port"`

	// Timeout bounds connection attempts.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Compression is requested on rosbridge subscriptions: "" or "cbor".
	Compression string `yaml:"compression" json:"compression"`

	// ZenohPrefix is prepended to every zenoh key.
	ZenohPrefix string `yaml:"zenoh_prefix" json:"zenoh_prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Protocol: ProtocolROSBridge,
		Host:     "localhost",
		Timeout:  10 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		return err
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.ZenohPort < 0 || c.ZenohPort > 65535 {
		return fmt.Errorf("zenoh_port must be between 0 and 65535, got %d", c.ZenohPort)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	switch c.Compression {
	case "", "none", rosbridge.CompressionCBOR:
	default:
		return fmt.Errorf("compression must be 'none' or 'cbor', got '%s'", c.Compression)
	}
	return nil
}

// DefaultPort returns the port a protocol listens on by default.
func DefaultPort(p Protocol) int {
	switch p {
	case ProtocolZenoh:
		return zenohclient.DefaultPort
	default:
		return rosbridge.DefaultPort
	}
}

func (c *Config) rosbridgeConfig() rosbridge.Config {
	rc := rosbridge.DefaultConfig()
	rc.URL = rosbridge.URLFor(c.Host, c.Port)
	if c.Timeout > 0 {
		rc.HandshakeTimeout = c.Timeout
	}
	if c.Compression != "none" {
		rc.Compression = c.Compression
	}
	return rc
}

func (c *Config) zenohConfig() zenohclient.Config {
	zc := zenohclient.DefaultConfig()
	port := c.Port
	if port == 0 {
		port = c.ZenohPort
	}
	zc.Endpoint = zenohclient.EndpointFor(c.Host, port)
	zc.Prefix = c.ZenohPrefix
	if c.Timeout > 0 {
		zc.RequestTimeout = c.Timeout
	}
	return zc
}
