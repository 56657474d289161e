package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-walkie/pkg/zenohclient"
)

// ZenohSource receives frames published on zenoh camera keys. Each sample
// is a JPEG or a raw frame.
type ZenohSource struct {
	cfg    Config
	logger *slog.Logger
	client *zenohclient.Client

	mu     sync.RWMutex
	frames map[string]*Frame
	subs   []*zenohclient.Subscriber
	closed bool

	decodeErrors atomic.Int64
}

// NewZenoh creates an unconnected zenoh camera source.
func NewZenoh(cfg Config, logger *slog.Logger) (*ZenohSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	zcfg := zenohclient.DefaultConfig()
	zcfg.Endpoint = zenohclient.EndpointFor(cfg.Host, cfg.Port)
	zcfg.Prefix = cfg.ZenohPrefix
	zcfg.RequestTimeout = cfg.Timeout
	client, err := zenohclient.New(zcfg, logger)
	if err != nil {
		return nil, err
	}

	return &ZenohSource{
		cfg:    cfg,
		logger: logger.With("component", "camera", "protocol", ProtocolZenoh),
		client: client,
		frames: make(map[string]*Frame),
	}, nil
}

// Connect checks the router and subscribes to every configured camera.
func (s *ZenohSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.subs) > 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("camera: zenoh connect: %w", err)
	}

	topics := s.client.Topics()
	for _, name := range s.cfg.Names {
		name := name
		sub, err := s.client.Subscribe(topics.Camera(name), func(sample zenohclient.Sample) {
			s.handleSample(name, sample)
		})
		if err != nil {
			for _, prev := range s.subs {
				prev.Close()
			}
			s.subs = nil
			return fmt.Errorf("camera: zenoh subscribe %s: %w", name, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("subscribed to camera", "camera", name, "key", sub.Key())
	}
	return nil
}

func (s *ZenohSource) handleSample(name string, sample zenohclient.Sample) {
	img, channels, err := DecodePayload(sample.Value)
	if err != nil {
		if s.decodeErrors.Add(1) == 1 {
			s.logger.Warn("undecodable camera sample", "camera", name, "error", err)
		}
		return
	}
	frame := &Frame{Camera: name, Image: img, Channels: channels, Timestamp: time.Now()}

	s.mu.Lock()
	s.frames[name] = frame
	s.mu.Unlock()
}

// Names implements MultiSource.
func (s *ZenohSource) Names() []string {
	return append([]string(nil), s.cfg.Names...)
}

// IsStreaming implements Source.
func (s *ZenohSource) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && len(s.subs) > 0 && s.client.IsConnected()
}

// Frame implements Source.
func (s *ZenohSource) Frame() (*Frame, error) {
	return s.FrameFrom(s.cfg.primary())
}

// FrameFrom implements MultiSource.
func (s *ZenohSource) FrameFrom(name string) (*Frame, error) {
	if !s.serves(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCamera, name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[name]
	if !ok {
		return nil, ErrNoFrame
	}
	return f, nil
}

// Frames implements MultiSource.
func (s *ZenohSource) Frames() map[string]*Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Frame, len(s.frames))
	for k, v := range s.frames {
		out[k] = v
	}
	return out
}

func (s *ZenohSource) serves(name string) bool {
	for _, n := range s.cfg.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Close implements Source.
func (s *ZenohSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = nil
	s.mu.Unlock()

	// Closing the client closes its subscriptions.
	return s.client.Close()
}

// Ensure ZenohSource implements MultiSource.
var _ MultiSource = (*ZenohSource)(nil)
