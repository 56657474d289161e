package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"

	"github.com/teslashibe/go-walkie/internal/httpc"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("camera: source closed")

const (
	// maxLatePackets is how far the sample builder waits for reordered packets.
	maxLatePackets = 128
	// maxGOPBytes bounds the buffered group of pictures.
	maxGOPBytes = 8 << 20
)

// sessionDescription is the signalling server's offer/answer body.
type sessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// WebRTCSource receives H264 video from the robot's WebRTC server.
//
// The client sends a receive-only offer to http://host:port/offer and
// applies the answer. Incoming video is collected from the last keyframe
// and decoded to JPEG at a bounded rate.
type WebRTCSource struct {
	cfg     Config
	name    string
	logger  *slog.Logger
	http    *http.Client
	decoder H264Decoder

	mu        sync.RWMutex
	pc        *webrtc.PeerConnection
	latest    *Frame
	streaming bool
	closed    bool
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewWebRTC creates an unconnected WebRTC source.
func NewWebRTC(cfg Config, logger *slog.Logger) (*WebRTCSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebRTCSource{
		cfg:     cfg,
		name:    cfg.primary(),
		http:    httpc.NewClient(cfg.Timeout),
		decoder: NewFFmpegDecoder(cfg.FFmpegPath, cfg.DecodeInterval),
	}
	s.logger = logger.With("component", "camera", "protocol", ProtocolWebRTC, "url", s.OfferURL())
	return s, nil
}

// SetDecoder replaces the H264 decoder. Call before Connect.
func (s *WebRTCSource) SetDecoder(d H264Decoder) {
	s.decoder = d
}

// OfferURL is where the offer is posted.
func (s *WebRTCSource) OfferURL() string {
	return "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.webrtcPort())) + "/offer"
}

// Name returns the camera name frames are tagged with.
func (s *WebRTCSource) Name() string {
	return s.name
}

// Connect negotiates the peer connection and waits until it is connected
// or Timeout elapses.
func (s *WebRTCSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pc != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	s.logger.Info("connecting to WebRTC camera")

	pc, err := s.newPeerConnection()
	if err != nil {
		return fmt.Errorf("camera: webrtc peer connection: %w", err)
	}

	connected := make(chan struct{})
	failed := make(chan struct{})
	var connectedOnce, failedOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.setStreaming(true)
			connectedOnce.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.setStreaming(false)
			failedOnce.Do(func() { close(failed) })
		}
	})

	fail := func(err error) error {
		pc.Close()
		s.wg.Wait()
		return fmt.Errorf("camera: webrtc connect to %s: %w", s.OfferURL(), err)
	}

	if err := s.negotiate(ctx, pc); err != nil {
		return fail(err)
	}

	select {
	case <-connected:
	case <-failed:
		return fail(errors.New("peer connection failed"))
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fail(ErrClosed)
	}
	s.pc = pc
	s.mu.Unlock()

	s.logger.Info("WebRTC camera connected")
	return nil
}

func (s *WebRTCSource) newPeerConnection() (*webrtc.PeerConnection, error) {
	var config webrtc.Configuration
	if s.cfg.STUNServer != "" {
		config.ICEServers = []webrtc.ICEServer{{URLs: []string{s.cfg.STUNServer}}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, err
	}

	trackCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		s.logger.Info("video track received", "codec", track.Codec().MimeType)
		s.wg.Add(1)
		go s.readTrack(trackCtx, track)
	})
	return pc, nil
}

// negotiate sends the offer once ICE gathering completes and applies the answer.
func (s *WebRTCSource) negotiate(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	local := pc.LocalDescription()
	var answer sessionDescription
	if err := httpc.PostJSON(ctx, s.http, s.OfferURL(),
		sessionDescription{SDP: local.SDP, Type: local.Type.String()}, &answer); err != nil {
		return fmt.Errorf("signalling: %w", err)
	}
	if answer.SDP == "" {
		return errors.New("signalling: empty answer")
	}

	remote := webrtc.SessionDescription{Type: webrtc.NewSDPType(answer.Type), SDP: answer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// readTrack depacketizes H264 and hands each keyframe-anchored group of
// pictures to the decode worker.
func (s *WebRTCSource) readTrack(ctx context.Context, track *webrtc.TrackRemote) {
	defer s.wg.Done()

	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
		s.logger.Warn("unsupported video codec", "codec", track.Codec().MimeType)
		return
	}

	pending := make(chan []byte, 1)
	s.wg.Add(1)
	go s.decodeLoop(ctx, pending)
	defer close(pending)

	sb := samplebuilder.New(maxLatePackets, &codecs.H264Packet{}, track.Codec().ClockRate)
	var gop bytes.Buffer

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		sb.Push(pkt)

		for sample := sb.Pop(); sample != nil; sample = sb.Pop() {
			switch {
			case hasNAL(sample.Data, nalSPS):
				gop.Reset()
			case gop.Len() == 0:
				// Wait for a keyframe.
				continue
			case gop.Len()+len(sample.Data) > maxGOPBytes:
				gop.Reset()
				continue
			}
			gop.Write(sample.Data)

			buf := bytes.Clone(gop.Bytes())
			select {
			case pending <- buf:
			default:
				// Replace a stale group waiting for the decoder.
				select {
				case <-pending:
				default:
				}
				pending <- buf
			}
		}
	}
}

func (s *WebRTCSource) decodeLoop(ctx context.Context, pending <-chan []byte) {
	defer s.wg.Done()
	for h264 := range pending {
		data, err := s.decoder.Decode(ctx, h264)
		if err != nil {
			if !errors.Is(err, ErrNoFrame) {
				s.logger.Debug("decode failed", "error", err)
			}
			continue
		}
		img, channels, err := DecodeJPEG(data)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.latest = &Frame{Camera: s.name, Image: img, Channels: channels, Timestamp: time.Now()}
		s.mu.Unlock()
	}
}

func (s *WebRTCSource) setStreaming(v bool) {
	s.mu.Lock()
	s.streaming = v
	s.mu.Unlock()
}

// IsStreaming implements Source.
func (s *WebRTCSource) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming && !s.closed
}

// Frame implements Source.
func (s *WebRTCSource) Frame() (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	return s.latest, nil
}

// Close implements Source.
func (s *WebRTCSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.streaming = false
	pc := s.pc
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if pc != nil {
		err = pc.Close()
	}
	s.wg.Wait()

	s.logger.Info("WebRTC camera closed")
	return err
}

// H264 NAL unit types.
const (
	nalIDR = 5
	nalSPS = 7
)

// hasNAL reports whether an Annex-B stream contains a NAL unit of type t.
func hasNAL(data []byte, t byte) bool {
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		switch {
		case data[i+2] == 1:
			if data[i+3]&0x1F == t {
				return true
			}
		case data[i+2] == 0 && i+4 < len(data) && data[i+3] == 1:
			if data[i+4]&0x1F == t {
				return true
			}
		}
	}
	return false
}

// Ensure WebRTCSource implements Source.
var _ Source = (*WebRTCSource)(nil)
