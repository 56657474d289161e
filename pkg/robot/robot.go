package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

// Option configures a Robot.
type Option func(*Robot)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Robot) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTransportFactory replaces the transport factory.
func WithTransportFactory(f transport.Factory) Option {
	return func(r *Robot) {
		if f != nil {
			r.newTransport = f
		}
	}
}

// WithCameraFactory replaces the camera source factory.
func WithCameraFactory(f camera.Factory) Option {
	return func(r *Robot) {
		if f != nil {
			r.newCamera = f
		}
	}
}

// Robot is a connection to one Walkie robot.
//
// New performs no network activity. Connect builds the transport and the
// camera source; until then every command fails with ErrNotConnected.
type Robot struct {
	cfg            Config
	rosProtocol    transport.Protocol
	cameraProtocol camera.Protocol
	logger         *slog.Logger

	newTransport transport.Factory
	newCamera    camera.Factory

	nav       *Navigation
	telemetry *Telemetry
	arm       *Arm

	// connMu serializes Connect and Close.
	connMu sync.Mutex

	mu        sync.RWMutex
	tr        transport.Transport
	src       camera.Source
	cam       *Camera
	cams      *MultiCamera
	namespace string
}

// New creates a Robot from cfg.
func New(cfg Config, opts ...Option) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rp, err := transport.ParseProtocol(string(cfg.ROSProtocol))
	if err != nil {
		return nil, err
	}
	cp := camera.DefaultFor(rp)
	if cfg.CameraProtocol != "" {
		if cp, err = camera.ParseProtocol(string(cfg.CameraProtocol)); err != nil {
			return nil, err
		}
	}

	r := &Robot{
		cfg:            cfg,
		rosProtocol:    rp,
		cameraProtocol: cp,
		logger:         slog.Default(),
		newTransport:   transport.NewContext,
		newCamera:      camera.New,
		namespace:      cfg.Namespace,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "robot", "ip", cfg.IP)

	r.nav = newNavigation(r.transport, cfg.Namespace, r.logger)
	r.telemetry = newTelemetry(r.transport, cfg.Namespace, r.logger)
	r.arm = newArm(r.transport, cfg.Namespace, r.logger)
	return r, nil
}

// Dial creates a Robot and connects it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Robot, error) {
	r, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// transport returns the current transport, or nil.
func (r *Robot) transport() transport.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tr
}

// Connect connects the transport, starts telemetry and joint state
// subscriptions and opens the camera. A camera that fails to connect is
// logged and left disabled. Connect on a connected robot does nothing.
func (r *Robot) Connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if tr := r.transport(); tr != nil {
		if tr.IsConnected() {
			return nil
		}
		// The link dropped. Subscriptions and the camera belong to the
		// old transport and are rebuilt below.
		r.logger.Warn("transport disconnected, reconnecting", "ros_protocol", r.rosProtocol)
		if err := r.release(); err != nil {
			r.logger.Debug("release dropped connection", "error", err)
		}
	}

	tc := r.cfg.TransportConfig()
	tc.Protocol = r.rosProtocol
	tr, err := r.newTransport(ctx, tc, r.logger)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	if !tr.IsConnected() {
		if err := tr.Connect(ctx); err != nil {
			tr.Close()
			return fmt.Errorf("connect %s transport: %w", r.rosProtocol, err)
		}
	}

	r.mu.Lock()
	r.tr = tr
	r.mu.Unlock()

	r.logger.Info("connected", "ros_protocol", r.rosProtocol)

	if err := r.telemetry.Start(); err != nil {
		r.logger.Warn("telemetry unavailable", "error", err)
	}
	if err := r.arm.Start(); err != nil {
		r.logger.Warn("joint states unavailable", "error", err)
	}

	r.connectCamera(ctx)
	return nil
}

func (r *Robot) connectCamera(ctx context.Context) {
	src, err := r.newCamera(r.cfg.CameraConfig(r.cameraProtocol), r.logger)
	if err != nil {
		r.logger.Warn("camera disabled", "camera_protocol", r.cameraProtocol, "error", err)
		return
	}
	if src == nil {
		return
	}
	if err := src.Connect(ctx); err != nil {
		r.logger.Warn("camera failed to connect", "camera_protocol", r.cameraProtocol, "error", err)
		src.Close()
		return
	}

	r.mu.Lock()
	r.src = src
	r.cam = NewCamera(src)
	r.cams = NewMultiCamera(src)
	r.mu.Unlock()
	r.logger.Info("camera connected", "camera_protocol", r.cameraProtocol)
}

// Close stops telemetry, joint states, background goals, the camera and
// the transport. It is idempotent.
func (r *Robot) Close() error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.release()
}

// release tears down everything Connect set up. connMu must be held.
func (r *Robot) release() error {
	var errs []error
	if err := r.telemetry.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop telemetry: %w", err))
	}
	if err := r.arm.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop joint states: %w", err))
	}
	r.nav.Close()

	r.mu.Lock()
	src, tr := r.src, r.tr
	r.src, r.cam, r.cams = nil, nil, nil
	r.mu.Unlock()

	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}

	// Background arm goals return once the transport is gone.
	r.arm.wg.Wait()

	r.mu.Lock()
	r.tr = nil
	r.mu.Unlock()

	if tr != nil {
		r.logger.Info("disconnected")
	}
	return errors.Join(errs...)
}

// SetNamespace changes the namespace of navigation, telemetry and arm.
func (r *Robot) SetNamespace(ns string) error {
	r.mu.Lock()
	r.namespace = ns
	r.mu.Unlock()

	r.nav.SetNamespace(ns)
	return errors.Join(r.telemetry.SetNamespace(ns), r.arm.SetNamespace(ns))
}

// Nav returns the navigation controller.
func (r *Robot) Nav() *Navigation { return r.nav }

// Status returns the telemetry reader.
func (r *Robot) Status() *Telemetry { return r.telemetry }

// Arm returns the arm controller.
func (r *Robot) Arm() *Arm { return r.arm }

// Camera returns the primary camera, or nil when no camera is connected.
func (r *Robot) Camera() *Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cam
}

// Cameras returns every connected camera, or nil when no camera is
// connected.
func (r *Robot) Cameras() *MultiCamera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cams
}

// IP returns the robot address.
func (r *Robot) IP() string { return r.cfg.IP }

// Namespace returns the current namespace.
func (r *Robot) Namespace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namespace
}

// IsConnected reports whether the transport is connected.
func (r *Robot) IsConnected() bool {
	tr := r.transport()
	return tr != nil && tr.IsConnected()
}

// ROSProtocol returns the configured transport protocol.
func (r *Robot) ROSProtocol() transport.Protocol { return r.rosProtocol }

// CameraProtocol returns the camera protocol in use.
func (r *Robot) CameraProtocol() camera.Protocol { return r.cameraProtocol }

// Config returns the robot configuration.
func (r *Robot) Config() Config { return r.cfg }

func (r *Robot) String() string {
	status := "disconnected"
	if r.IsConnected() {
		status = "connected"
	}
	return fmt.Sprintf("Robot(ip=%s, ros_protocol=%s, status=%s)", r.cfg.IP, r.rosProtocol, status)
}
