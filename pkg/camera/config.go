package camera

import (
	"fmt"
	"time"
)

// Names of the robot's cameras.
const (
	Head  = "head"
	Left  = "left"
	Right = "right"
)

// DefaultWebRTCPort is the port of the robot's WebRTC signalling server.
const DefaultWebRTCPort = 8554

// DefaultSHMDir is where shared-memory camera segments live.
const DefaultSHMDir = "/dev/shm"

// Config holds camera source configuration.
type Config struct {
	// Protocol selects the source: webrtc, zenoh, shm or none.
	Protocol Protocol `yaml:"protocol" json:"protocol"`

	// Host is the robot address.
	Host string `yaml:"host" json:"host"`

	// Port is the signalling port for webrtc or the REST port for zenoh.
	// 0 uses the protocol default.
	Port int `yaml:"port" json:"port"`

	// Names lists the cameras to open. Single-camera sources use the first.
	Names []string `yaml:"names" json:"names"`

	// Timeout bounds Connect.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// STUNServer is an optional STUN URL for WebRTC, e.g. "stun:stun.l.google.com:19302".
	STUNServer string `yaml:"stun_server" json:"stun_server"`

	// DecodeInterval is the minimum time between WebRTC frame decodes.
	DecodeInterval time.Duration `yaml:"decode_interval" json:"decode_interval"`

	// FFmpegPath is the ffmpeg binary used to decode WebRTC video.
	FFmpegPath string `yaml:"ffmpeg_path" json:"ffmpeg_path"`

	// ZenohPrefix is prepended to zenoh camera keys.
	ZenohPrefix string `yaml:"zenoh_prefix" json:"zenoh_prefix"`

	// SHMDir is the directory holding shared-memory segments.
	SHMDir string `yaml:"shm_dir" json:"shm_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Protocol:       ProtocolWebRTC,
		Host:           "localhost",
		Names:          []string{Head},
		Timeout:        10 * time.Second,
		DecodeInterval: 100 * time.Millisecond,
		FFmpegPath:     "ffmpeg",
		SHMDir:         DefaultSHMDir,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		return err
	}
	if c.Protocol == ProtocolNone {
		return nil
	}
	if c.Host == "" && c.Protocol != ProtocolSHM {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if len(c.Names) == 0 {
		return fmt.Errorf("at least one camera name is required")
	}
	for _, n := range c.Names {
		if n == "" {
			return fmt.Errorf("camera names must not be empty")
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DecodeInterval < 0 {
		return fmt.Errorf("decode_interval must not be negative")
	}
	return nil
}

func (c *Config) primary() string {
	if len(c.Names) == 0 {
		return Head
	}
	return c.Names[0]
}

func (c *Config) webrtcPort() int {
	if c.Port <= 0 {
		return DefaultWebRTCPort
	}
	return c.Port
}
