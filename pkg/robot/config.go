package robot

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-walkie/internal/config"
	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

// Config holds the connection parameters of a robot.
type Config struct {
	// IP is the robot address or hostname.
	IP string `yaml:"ip" json:"ip"`

	// ROSProtocol selects the transport: rosbridge, zenoh or auto.
	ROSProtocol transport.Protocol `yaml:"ros_protocol" json:"ros_protocol"`

	// ROSPort is the transport port. 0 uses the protocol default.
	ROSPort int `yaml:"ros_port" json:"ros_port"`

	// ZenohPort is the zenoh REST port tried by auto-detection.
	ZenohPort int `yaml:"zenoh_port" json:"zenoh_port"`

	// CameraProtocol selects the camera source: webrtc, zenoh, shm or none.
	// Empty pairs it with ROSProtocol.
	CameraProtocol camera.Protocol `yaml:"camera_protocol" json:"camera_protocol"`

	// CameraPort is the camera port. 0 uses the protocol default.
	CameraPort int `yaml:"camera_port" json:"camera_port"`

	// Timeout bounds connection attempts.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Namespace prefixes every topic and action name.
	Namespace string `yaml:"namespace" json:"namespace"`

	// Cameras lists the cameras to open.
	Cameras []string `yaml:"cameras" json:"cameras"`

	// Compression is the rosbridge subscription compression: none or cbor.
	Compression string `yaml:"compression" json:"compression"`

	// STUNServer is an optional STUN URL for the WebRTC camera.
	STUNServer string `yaml:"stun_server" json:"stun_server"`

	// ZenohPrefix is prepended to every zenoh key.
	ZenohPrefix string `yaml:"zenoh_prefix" json:"zenoh_prefix"`

	// FFmpegPath is the binary used to decode WebRTC video.
	FFmpegPath string `yaml:"ffmpeg_path" json:"ffmpeg_path"`

	// SHMDir holds shared-memory camera segments.
	SHMDir string `yaml:"shm_dir" json:"shm_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IP:             "localhost",
		ROSProtocol:    transport.ProtocolROSBridge,
		CameraProtocol: camera.ProtocolWebRTC,
		CameraPort:     camera.DefaultWebRTCPort,
		Timeout:        10 * time.Second,
		Cameras:        []string{camera.Head},
		Compression:    "none",
		FFmpegPath:     "ffmpeg",
		SHMDir:         camera.DefaultSHMDir,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.IP == "" {
		return fmt.Errorf("ip is required")
	}
	if _, err := transport.ParseProtocol(string(c.ROSProtocol)); err != nil {
		return fmt.Errorf("invalid ros_protocol: %w", err)
	}
	if c.CameraProtocol != "" {
		if _, err := camera.ParseProtocol(string(c.CameraProtocol)); err != nil {
			return fmt.Errorf("invalid camera_protocol: %w", err)
		}
	}
	for name, port := range map[string]int{"ros_port": c.ROSPort, "zenoh_port": c.ZenohPort, "camera_port": c.CameraPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s must be between 0 and 65535, got %d", name, port)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// TransportConfig derives the transport configuration.
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.Protocol = c.ROSProtocol
	tc.Host = c.IP
	tc.Port = c.ROSPort
	tc.ZenohPort = c.ZenohPort
	tc.Timeout = c.Timeout
	tc.ZenohPrefix = c.ZenohPrefix
	if c.Compression != "" {
		tc.Compression = c.Compression
	}
	return tc
}

// CameraConfig derives the camera configuration for protocol p.
func (c *Config) CameraConfig(p camera.Protocol) camera.Config {
	cc := camera.DefaultConfig()
	cc.Protocol = p
	cc.Host = c.IP
	cc.Timeout = c.Timeout
	cc.STUNServer = c.STUNServer
	cc.ZenohPrefix = c.ZenohPrefix
	if len(c.Cameras) > 0 {
		cc.Names = append([]string(nil), c.Cameras...)
	}
	if c.FFmpegPath != "" {
		cc.FFmpegPath = c.FFmpegPath
	}
	if c.SHMDir != "" {
		cc.SHMDir = c.SHMDir
	}

	switch p {
	case camera.ProtocolWebRTC:
		cc.Port = c.CameraPort
	case camera.ProtocolZenoh:
		// The camera stream shares the zenoh router with the transport
		// unless a camera port is given explicitly.
		cc.Port = c.ZenohPort
		if c.CameraPort != 0 && c.CameraPort != camera.DefaultWebRTCPort {
			cc.Port = c.CameraPort
		} else if c.ROSProtocol == transport.ProtocolZenoh && c.ROSPort != 0 {
			cc.Port = c.ROSPort
		}
	}
	return cc
}

// LoadConfig reads a YAML file, then applies WALKIE_* environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WALKIE_* environment variables.
func (c *Config) ApplyEnv() {
	c.IP = config.RobotIP(c.IP)
	c.ROSProtocol = transport.Protocol(config.String("PROTOCOL", string(c.ROSProtocol)))
	c.ROSPort = config.Int("PORT", c.ROSPort)
	c.ZenohPort = config.Int("ZENOH_PORT", c.ZenohPort)
	c.CameraProtocol = camera.Protocol(config.String("CAMERA", string(c.CameraProtocol)))
	c.CameraPort = config.Int("CAMERA_PORT", c.CameraPort)
	c.Timeout = config.Duration("TIMEOUT", c.Timeout)
	c.Namespace = config.String("NAMESPACE", c.Namespace)
	c.Cameras = config.List("CAMERAS", c.Cameras)
	c.Compression = config.String("COMPRESSION", c.Compression)
	c.STUNServer = config.String("STUN_SERVER", c.STUNServer)
	c.ZenohPrefix = config.String("ZENOH_PREFIX", c.ZenohPrefix)
	c.FFmpegPath = config.String("FFMPEG", c.FFmpegPath)
	c.SHMDir = config.String("SHM_DIR", c.SHMDir)
}
