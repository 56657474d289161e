package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// Mock implements MultiSource for testing.
type Mock struct {
	// ConnectFunc is called when Connect is invoked.
	// If nil, Connect succeeds.
	ConnectFunc func(ctx context.Context) error

	mu        sync.Mutex
	names     []string
	frames    map[string]*Frame
	streaming bool
	closed    bool
	connects  int
}

// NewMock creates a mock serving the given cameras, or just Head.
func NewMock(names ...string) *Mock {
	if len(names) == 0 {
		names = []string{Head}
	}
	return &Mock{names: names, frames: make(map[string]*Frame)}
}

// MockFactory returns a Factory that always hands out m.
func MockFactory(m *Mock) Factory {
	return func(cfg Config, _ *slog.Logger) (Source, error) {
		p, err := ParseProtocol(string(cfg.Protocol))
		if err != nil {
			return nil, err
		}
		if p == ProtocolNone {
			return nil, nil
		}
		return m, nil
	}
}

// SetFrame stores img as the latest frame of camera name.
func (m *Mock) SetFrame(name string, img image.Image) {
	channels := 3
	if _, ok := img.(*image.Gray); ok {
		channels = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[name] = &Frame{Camera: name, Image: img, Channels: channels, Timestamp: time.Now()}
}

// Connects returns how many times Connect was called.
func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Connect implements Source.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connects++
	fn := m.ConnectFunc
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.streaming = true
	m.mu.Unlock()
	return nil
}

// Close implements Source.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.streaming = false
	return nil
}

// IsClosed reports whether Close was called.
func (m *Mock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// IsStreaming implements Source.
func (m *Mock) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// Names implements MultiSource.
func (m *Mock) Names() []string {
	return append([]string(nil), m.names...)
}

// Frame implements Source.
func (m *Mock) Frame() (*Frame, error) {
	return m.FrameFrom(m.names[0])
}

// FrameFrom implements MultiSource.
func (m *Mock) FrameFrom(name string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	known := false
	for _, n := range m.names {
		known = known || n == name
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCamera, name)
	}
	f, ok := m.frames[name]
	if !ok {
		return nil, ErrNoFrame
	}
	return f, nil
}

// Frames implements MultiSource.
func (m *Mock) Frames() map[string]*Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Frame, len(m.frames))
	for k, v := range m.frames {
		out[k] = v
	}
	return out
}

// Ensure Mock implements MultiSource.
var _ MultiSource = (*Mock)(nil)
