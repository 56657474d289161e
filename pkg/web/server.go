// Package web serves an HTTP and WebSocket control API for a robot.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-walkie/pkg/hub"
	"github.com/teslashibe/go-walkie/pkg/robot"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// TelemetryUpdate is the payload of telemetry events.
type TelemetryUpdate struct {
	Pose     robot.Pose     `json:"pose"`
	Velocity robot.Velocity `json:"velocity"`
}

// Server is the control API of one robot.
type Server struct {
	cfg    Config
	robot  *robot.Robot
	vel    *robot.VelocityController
	logger *slog.Logger

	app          *fiber.App
	telemetryHub *hub.Hub
	cameraHub    *hub.Hub
}

// NewServer creates a server for r. The robot may connect later; until
// then robot endpoints answer 503.
func NewServer(r *robot.Robot, cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid web config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:          cfg,
		robot:        r,
		vel:          robot.NewVelocityController(r.Nav(), cfg.CommandRate, cfg.Deadman, logger),
		logger:       logger,
		telemetryHub: hub.New("telemetry", logger),
		cameraHub:    hub.New("camera", logger),
	}

	r.Status().OnUpdate(func(p robot.Pose, v robot.Velocity) {
		if s.telemetryHub.ClientCount() == 0 {
			return
		}
		if err := s.telemetryHub.BroadcastEvent("telemetry", TelemetryUpdate{Pose: p, Velocity: v}); err != nil {
			s.logger.Debug("encode telemetry event", "error", err)
		}
	})

	app := fiber.New(fiber.Config{
		AppName:               "walkie",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	if cfg.CORS {
		app.Use(cors.New())
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/pose", s.handlePose)
	api.Get("/velocity", s.handleVelocity)
	api.Post("/nav/goto", s.handleGoTo)
	api.Post("/nav/cancel", s.handleCancel)
	api.Post("/nav/stop", s.handleStop)
	api.Post("/cmd_vel", s.handleCmdVel)
	api.Get("/arm/joints", s.handleJoints)
	api.Post("/arm/joints", s.handleSetJoints)
	api.Post("/arm/home", s.handleArmHome)
	api.Post("/arm/gripper", s.handleGripper)
	api.Get("/camera/frame", s.handleFrame)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/telemetry", websocket.New(s.handleTelemetryWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Velocity returns the controller fed by /api/cmd_vel.
func (s *Server) Velocity() *robot.VelocityController { return s.vel }

// TelemetryHub returns the hub behind /ws/telemetry.
func (s *Server) TelemetryHub() *hub.Hub { return s.telemetryHub }

// Run listens on cfg.Addr and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully. The
// velocity controller sends a final zero command on the way out.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.telemetryHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.cameraHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.vel.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.streamCamera(ctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("control API listening", "addr", ln.Addr().String())
		if err := s.app.Listener(ln); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		err := s.app.ShutdownWithTimeout(shutdownTimeout)
		// Unblocks Listener if shutdown raced its start.
		ln.Close()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("control API stopped")
		return nil
	})

	return g.Wait()
}

// streamCamera broadcasts JPEG frames of the primary camera while
// /ws/camera has clients.
func (s *Server) streamCamera(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CameraInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.cameraHub.ClientCount() == 0 {
			continue
		}
		cam := s.robot.Camera()
		if cam == nil {
			continue
		}
		f, err := cam.Frame()
		if err != nil || !f.Timestamp.After(last) {
			continue
		}
		last = f.Timestamp
		data, err := f.JPEG(s.cfg.JPEGQuality)
		if err != nil {
			s.logger.Debug("encode camera frame", "error", err)
			continue
		}
		s.cameraHub.BroadcastBinary(data)
	}
}

// errorHandler renders errors as {"error": "..."}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
