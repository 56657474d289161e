// Package camera provides video frames from the robot's cameras.
//
// Frames arrive over one of several sources: a WebRTC stream from the
// robot's signalling server, JPEG or raw samples on zenoh keys, or
// shared-memory segments written by a simulator on the same host.
// Every source keeps only the latest frame; Frame never blocks.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-walkie/pkg/transport"
)

// Protocol names a camera source.
type Protocol string

const (
	ProtocolWebRTC Protocol = "webrtc"
	ProtocolZenoh  Protocol = "zenoh"
	ProtocolSHM    Protocol = "shm"
	ProtocolNone   Protocol = "none"
)

// Protocols lists every accepted camera protocol name.
var Protocols = []Protocol{ProtocolWebRTC, ProtocolZenoh, ProtocolSHM, ProtocolNone}

// Sentinel errors.
var (
	// ErrNoFrame is returned by Frame before any frame has been decoded.
	ErrNoFrame = errors.New("camera: no frame available")

	// ErrNotStreaming is returned by sources that are not connected.
	ErrNotStreaming = errors.New("camera: not streaming")

	// ErrUnsupported is returned for sources unavailable on this platform.
	ErrUnsupported = errors.New("camera: unsupported")

	// ErrUnknownProtocol is returned for unrecognised protocol names.
	ErrUnknownProtocol = errors.New("camera: unknown protocol")

	// ErrUnknownCamera is returned by FrameFrom for names the source does not serve.
	ErrUnknownCamera = errors.New("camera: unknown camera")
)

// ParseProtocol validates a camera protocol name. Matching is case-insensitive.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Protocols {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q (valid: webrtc, zenoh, shm, none)", ErrUnknownProtocol, s)
}

// DefaultFor returns the camera protocol paired with a transport protocol.
func DefaultFor(p transport.Protocol) Protocol {
	if p == transport.ProtocolZenoh {
		return ProtocolZenoh
	}
	return ProtocolWebRTC
}

// Frame is one decoded image.
type Frame struct {
	// Camera is the name of the camera that produced the frame.
	Camera string
	// Image is the decoded picture.
	Image image.Image
	// Channels is 1 for grayscale, 3 for colour and 4 for colour with alpha.
	Channels int
	// Timestamp is when the frame was captured, or received if the
	// source carries no capture time.
	Timestamp time.Time
}

// Shape returns the frame's height, width and channel count.
func (f *Frame) Shape() (height, width, channels int) {
	b := f.Image.Bounds()
	return b.Dy(), b.Dx(), f.Channels
}

// JPEG encodes the frame. quality 0 uses 85.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("camera: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Source is a stream of frames from one camera.
type Source interface {
	// Connect starts streaming. It returns once the source is live or ctx ends.
	Connect(ctx context.Context) error
	// Close stops streaming. It is idempotent.
	Close() error
	// IsStreaming reports whether frames are being received.
	IsStreaming() bool
	// Frame returns the latest frame without blocking, or ErrNoFrame.
	Frame() (*Frame, error)
}

// MultiSource is a Source serving several named cameras.
// Frame returns the first camera's frame.
type MultiSource interface {
	Source
	// Names lists the cameras served, in configuration order.
	Names() []string
	// FrameFrom returns the latest frame of one camera.
	FrameFrom(name string) (*Frame, error)
	// Frames returns the latest frame of every camera that has one.
	Frames() map[string]*Frame
}

// Factory builds a camera source. A nil Source with a nil error means
// the camera is disabled.
type Factory func(cfg Config, logger *slog.Logger) (Source, error)

// New creates an unconnected source for cfg.Protocol.
// ProtocolNone returns nil, nil.
func New(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p, err := ParseProtocol(string(cfg.Protocol))
	if err != nil {
		return nil, err
	}
	cfg.Protocol = p
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera config: %w", err)
	}

	var src Source
	switch p {
	case ProtocolWebRTC:
		src, err = NewWebRTC(cfg, logger)
	case ProtocolZenoh:
		src, err = NewZenoh(cfg, logger)
	case ProtocolSHM:
		src, err = NewSHM(cfg, logger)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}
