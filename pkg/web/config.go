package web

import (
	"fmt"
	"time"
)

// Config holds control API settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" json:"addr"`

	// CommandRate is how often /api/cmd_vel targets are republished.
	CommandRate time.Duration `yaml:"command_rate" json:"command_rate"`

	// Deadman zeroes a /api/cmd_vel target that is not refreshed in time.
	// 0 disables it.
	Deadman time.Duration `yaml:"deadman" json:"deadman"`

	// JPEGQuality is used for camera snapshots and the camera stream.
	JPEGQuality int `yaml:"jpeg_quality" json:"jpeg_quality"`

	// CameraInterval is the frame period of /ws/camera.
	CameraInterval time.Duration `yaml:"camera_interval" json:"camera_interval"`

	// CORS allows cross-origin requests.
	CORS bool `yaml:"cors" json:"cors"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CommandRate:    100 * time.Millisecond,
		Deadman:        500 * time.Millisecond,
		JPEGQuality:    80,
		CameraInterval: 200 * time.Millisecond,
		CORS:           true,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.CommandRate <= 0 {
		return fmt.Errorf("command_rate must be positive")
	}
	if c.Deadman < 0 {
		return fmt.Errorf("deadman must not be negative")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.CameraInterval <= 0 {
		return fmt.Errorf("camera_interval must be positive")
	}
	return nil
}
