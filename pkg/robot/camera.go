package robot

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-walkie/pkg/camera"
)

// Camera reads the latest frame of the robot's primary camera.
type Camera struct {
	src camera.Source
}

// NewCamera wraps a camera source.
func NewCamera(src camera.Source) *Camera {
	return &Camera{src: src}
}

// Start connects the source.
func (c *Camera) Start(ctx context.Context) error {
	return c.src.Connect(ctx)
}

// Stop closes the source.
func (c *Camera) Stop() error {
	return c.src.Close()
}

// IsStreaming reports whether frames are arriving.
func (c *Camera) IsStreaming() bool {
	return c.src.IsStreaming()
}

// Frame returns the latest frame without blocking.
func (c *Camera) Frame() (*camera.Frame, error) {
	return c.src.Frame()
}

// FrameShape returns the latest frame's height, width and channels.
// ok is false when no frame is available.
func (c *Camera) FrameShape() (h, w, ch int, ok bool) {
	f, err := c.src.Frame()
	if err != nil {
		return 0, 0, 0, false
	}
	h, w, ch = f.Shape()
	return h, w, ch, true
}

// MultiCamera gives access to several named cameras. A source serving a
// single camera is exposed as the head camera.
type MultiCamera struct {
	src   camera.Source
	multi camera.MultiSource
}

// NewMultiCamera wraps a camera source.
func NewMultiCamera(src camera.Source) *MultiCamera {
	m := &MultiCamera{src: src}
	m.multi, _ = src.(camera.MultiSource)
	return m
}

// Start connects the source.
func (m *MultiCamera) Start(ctx context.Context) error {
	return m.src.Connect(ctx)
}

// Stop closes the source.
func (m *MultiCamera) Stop() error {
	return m.src.Close()
}

// IsStreaming reports whether any camera is streaming.
func (m *MultiCamera) IsStreaming() bool {
	return m.src.IsStreaming()
}

// Names lists the available cameras.
func (m *MultiCamera) Names() []string {
	if m.multi != nil {
		return m.multi.Names()
	}
	return []string{camera.Head}
}

// Frame returns the latest frame of a named camera.
func (m *MultiCamera) Frame(name string) (*camera.Frame, error) {
	if m.multi != nil {
		return m.multi.FrameFrom(name)
	}
	if name != camera.Head {
		return nil, fmt.Errorf("%w: %q", camera.ErrUnknownCamera, name)
	}
	return m.src.Frame()
}

// Head returns the latest head camera frame.
func (m *MultiCamera) Head() (*camera.Frame, error) {
	return m.Frame(camera.Head)
}

// Left returns the latest left wrist camera frame.
func (m *MultiCamera) Left() (*camera.Frame, error) {
	return m.Frame(camera.Left)
}

// Right returns the latest right wrist camera frame.
func (m *MultiCamera) Right() (*camera.Frame, error) {
	return m.Frame(camera.Right)
}

// All returns the latest frame of every camera that has one.
func (m *MultiCamera) All() map[string]*camera.Frame {
	if m.multi != nil {
		return m.multi.Frames()
	}
	out := make(map[string]*camera.Frame, 1)
	if f, err := m.src.Frame(); err == nil {
		out[camera.Head] = f
	}
	return out
}

// FrameShape returns the latest frame shape of a named camera.
func (m *MultiCamera) FrameShape(name string) (h, w, ch int, ok bool) {
	f, err := m.Frame(name)
	if err != nil {
		return 0, 0, 0, false
	}
	h, w, ch = f.Shape()
	return h, w, ch, true
}
