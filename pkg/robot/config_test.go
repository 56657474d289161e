package robot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ROSProtocol != transport.ProtocolROSBridge {
		t.Errorf("ROSProtocol = %q", cfg.ROSProtocol)
	}
	if cfg.CameraProtocol != camera.ProtocolWebRTC || cfg.CameraPort != 8554 {
		t.Errorf("camera = %q:%d", cfg.CameraProtocol, cfg.CameraPort)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty ip", func(c *Config) { c.IP = "" }, true},
		{"bad protocol", func(c *Config) { c.ROSProtocol = "dds" }, true},
		{"auto protocol", func(c *Config) { c.ROSProtocol = transport.ProtocolAuto }, false},
		{"bad camera", func(c *Config) { c.CameraProtocol = "rtsp" }, true},
		{"empty camera", func(c *Config) { c.CameraProtocol = "" }, false},
		{"port out of range", func(c *Config) { c.ROSPort = 70000 }, true},
		{"negative camera port", func(c *Config) { c.CameraPort = -1 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_TransportConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IP = "10.0.0.7"
	cfg.ROSPort = 9191
	cfg.Compression = "cbor"
	cfg.Timeout = 3 * time.Second

	tc := cfg.TransportConfig()
	if tc.Host != "10.0.0.7" || tc.Port != 9191 || tc.Compression != "cbor" || tc.Timeout != 3*time.Second {
		t.Errorf("transport config = %+v", tc)
	}
}

func TestConfig_CameraConfigPorts(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		proto  camera.Protocol
		want   int
	}{
		{"webrtc", func(c *Config) {}, camera.ProtocolWebRTC, 8554},
		{"zenoh uses zenoh port", func(c *Config) { c.ZenohPort = 7447 }, camera.ProtocolZenoh, 7447},
		{"zenoh follows transport port", func(c *Config) {
			c.ROSProtocol = transport.ProtocolZenoh
			c.ROSPort = 8001
		}, camera.ProtocolZenoh, 8001},
		{"explicit camera port", func(c *Config) { c.CameraPort = 9000 }, camera.ProtocolZenoh, 9000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			cc := cfg.CameraConfig(tt.proto)
			if cc.Port != tt.want {
				t.Errorf("port = %d, want %d", cc.Port, tt.want)
			}
			if cc.Host != cfg.IP || cc.Protocol != tt.proto {
				t.Errorf("camera config = %+v", cc)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walkie.yaml")
	data := []byte(`
ip: 192.168.1.40
ros_protocol: zenoh
ros_port: 8000
camera_protocol: zenoh
timeout: 5s
namespace: walkie3
cameras: [head, left]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IP != "192.168.1.40" || cfg.ROSProtocol != transport.ProtocolZenoh || cfg.ROSPort != 8000 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.Namespace != "walkie3" || len(cfg.Cameras) != 2 {
		t.Errorf("namespace %q, cameras %v", cfg.Namespace, cfg.Cameras)
	}
	// Fields absent from the file keep their defaults.
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q", cfg.FFmpegPath)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walkie.yaml")
	if err := os.WriteFile(path, []byte("ip: 192.168.1.40\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WALKIE_IP", "10.1.1.1")
	t.Setenv("WALKIE_PROTOCOL", "auto")
	t.Setenv("WALKIE_TIMEOUT", "2")
	t.Setenv("WALKIE_CAMERAS", "head,right")
	t.Setenv("WALKIE_CAMERA", "none")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IP != "10.1.1.1" {
		t.Errorf("IP = %q", cfg.IP)
	}
	if cfg.ROSProtocol != transport.ProtocolAuto {
		t.Errorf("ROSProtocol = %q", cfg.ROSProtocol)
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if len(cfg.Cameras) != 2 || cfg.Cameras[1] != "right" {
		t.Errorf("Cameras = %v", cfg.Cameras)
	}
	if cfg.CameraProtocol != camera.ProtocolNone {
		t.Errorf("CameraProtocol = %q", cfg.CameraProtocol)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("ros_protocol: dds\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("invalid protocol should fail validation")
	}
}
