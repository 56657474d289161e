package camera

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// Shared-memory segment layout, written by the simulator:
//
//	offset  size  field
//	0       8     timestamp, milliseconds
//	8       4     height
//	12      4     width
//	16      4     channels
//	20      4     encoding, 0 raw or 1 JPEG
//	24      4     JPEG quality
//	28      4     payload size
//	32      16    camera name, NUL padded
//	48            payload
//
// All integers are little-endian.
const (
	SHMPrefix     = "walkie_cam_"
	shmHeaderSize = 48

	shmEncodingRaw  = 0
	shmEncodingJPEG = 1
)

// SHMHeader describes the frame currently held by a segment.
type SHMHeader struct {
	Timestamp uint64
	Height    uint32
	Width     uint32
	Channels  uint32
	Encoding  uint32
	Quality   uint32
	DataSize  uint32
	Name      string
}

// ParseSHMHeader decodes a segment header.
func ParseSHMHeader(b []byte) (SHMHeader, error) {
	if len(b) < shmHeaderSize {
		return SHMHeader{}, fmt.Errorf("camera: shm header needs %d bytes, got %d", shmHeaderSize, len(b))
	}
	le := binary.LittleEndian
	return SHMHeader{
		Timestamp: le.Uint64(b[0:8]),
		Height:    le.Uint32(b[8:12]),
		Width:     le.Uint32(b[12:16]),
		Channels:  le.Uint32(b[16:20]),
		Encoding:  le.Uint32(b[20:24]),
		Quality:   le.Uint32(b[24:28]),
		DataSize:  le.Uint32(b[28:32]),
		Name:      string(bytes.TrimRight(b[32:48], "\x00")),
	}, nil
}

// Marshal encodes the header in segment layout.
func (h SHMHeader) Marshal() []byte {
	b := make([]byte, shmHeaderSize)
	le := binary.LittleEndian
	le.PutUint64(b[0:8], h.Timestamp)
	le.PutUint32(b[8:12], h.Height)
	le.PutUint32(b[12:16], h.Width)
	le.PutUint32(b[16:20], h.Channels)
	le.PutUint32(b[20:24], h.Encoding)
	le.PutUint32(b[24:28], h.Quality)
	le.PutUint32(b[28:32], h.DataSize)
	copy(b[32:48], h.Name)
	return b
}

// SegmentPath returns the segment file for a camera.
func SegmentPath(dir, name string) string {
	if dir == "" {
		dir = DefaultSHMDir
	}
	return filepath.Join(dir, SHMPrefix+name)
}

// segment is a read-only view of a mapped file.
type segment interface {
	Bytes() []byte
	Close() error
}

// shmCamera reads one segment. Frames are decoded only when the header
// timestamp advances.
type shmCamera struct {
	name string
	seg  segment

	mu     sync.Mutex
	lastTS uint64
	latest *Frame
}

func (c *shmCamera) frame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.seg.Bytes()
	hdr, err := ParseSHMHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Timestamp <= c.lastTS {
		if c.latest == nil {
			return nil, ErrNoFrame
		}
		return c.latest, nil
	}

	end := uint64(shmHeaderSize) + uint64(hdr.DataSize)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("camera: shm %s payload of %d bytes exceeds segment", c.name, hdr.DataSize)
	}
	payload := bytes.Clone(data[shmHeaderSize:end])

	// The writer may have replaced the frame while we copied it.
	if binary.LittleEndian.Uint64(data[0:8]) != hdr.Timestamp {
		if c.latest == nil {
			return nil, ErrNoFrame
		}
		return c.latest, nil
	}

	var f Frame
	switch hdr.Encoding {
	case shmEncodingJPEG:
		f.Image, f.Channels, err = DecodeJPEG(payload)
	case shmEncodingRaw:
		f.Image, f.Channels, err = DecodeRaw(int(hdr.Height), int(hdr.Width), int(hdr.Channels), payload)
	default:
		err = fmt.Errorf("camera: shm %s has unknown encoding %d", c.name, hdr.Encoding)
	}
	if err != nil {
		return nil, err
	}
	f.Camera = c.name
	f.Timestamp = time.UnixMilli(int64(hdr.Timestamp))

	c.lastTS = hdr.Timestamp
	c.latest = &f
	return c.latest, nil
}

func (c *shmCamera) timestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTS
}

// SHMSource reads frames that a simulator on the same host writes to
// shared-memory segments, one per camera.
type SHMSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	cameras map[string]*shmCamera
	closed  bool
}

// NewSHM creates an unconnected shared-memory source.
func NewSHM(cfg Config, logger *slog.Logger) (*SHMSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SHMSource{
		cfg:     cfg,
		logger:  logger.With("component", "camera", "protocol", ProtocolSHM),
		cameras: make(map[string]*shmCamera),
	}, nil
}

// Connect maps every configured segment that exists. Missing cameras
// are skipped; it fails only when none is available.
func (s *SHMSource) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.cameras) > 0 {
		return nil
	}

	var errs []error
	for _, name := range s.cfg.Names {
		path := SegmentPath(s.cfg.SHMDir, name)
		seg, err := openSegment(path)
		if err != nil {
			s.logger.Warn("camera segment not available", "camera", name, "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.cameras[name] = &shmCamera{name: name, seg: seg}
		s.logger.Info("connected to shared memory camera", "camera", name, "path", path)
	}
	if len(s.cameras) == 0 {
		return fmt.Errorf("camera: no shared memory segment available (is the simulation running?): %w",
			errors.Join(errs...))
	}
	return nil
}

// Names implements MultiSource. Only connected cameras are listed once
// Connect has run.
func (s *SHMSource) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.cameras) == 0 {
		return append([]string(nil), s.cfg.Names...)
	}
	names := make([]string, 0, len(s.cameras))
	for _, n := range s.cfg.Names {
		if _, ok := s.cameras[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// IsStreaming implements Source.
func (s *SHMSource) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && len(s.cameras) > 0
}

// Frame implements Source. It returns the first connected camera's frame.
func (s *SHMSource) Frame() (*Frame, error) {
	names := s.Names()
	if !s.IsStreaming() || len(names) == 0 {
		return nil, ErrNotStreaming
	}
	return s.FrameFrom(names[0])
}

// FrameFrom implements MultiSource.
func (s *SHMSource) FrameFrom(name string) (*Frame, error) {
	s.mu.RLock()
	cam, ok := s.cameras[name]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrNotStreaming
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCamera, name)
	}
	return cam.frame()
}

// Frames implements MultiSource.
func (s *SHMSource) Frames() map[string]*Frame {
	out := make(map[string]*Frame)
	for _, name := range s.Names() {
		if f, err := s.FrameFrom(name); err == nil {
			out[name] = f
		}
	}
	return out
}

// Timestamp returns the capture time in milliseconds of the last frame
// read from a camera, or 0 if none has been read.
func (s *SHMSource) Timestamp(name string) uint64 {
	s.mu.RLock()
	cam, ok := s.cameras[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return cam.timestamp()
}

// Close implements Source.
func (s *SHMSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cameras := s.cameras
	s.cameras = make(map[string]*shmCamera)
	s.mu.Unlock()

	var errs []error
	for _, cam := range cameras {
		cam.mu.Lock()
		if err := cam.seg.Close(); err != nil {
			errs = append(errs, err)
		}
		cam.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Ensure SHMSource implements MultiSource.
var _ MultiSource = (*SHMSource)(nil)
