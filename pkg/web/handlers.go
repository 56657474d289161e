package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/hub"
	"github.com/teslashibe/go-walkie/pkg/robot"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	IP             string                `json:"ip"`
	ROSProtocol    string                `json:"ros_protocol"`
	CameraProtocol string                `json:"camera_protocol"`
	Namespace      string                `json:"namespace"`
	Connected      bool                  `json:"connected"`
	NavStatus      robot.GoalStatus      `json:"nav_status"`
	Navigating     bool                  `json:"navigating"`
	HasOdometry    bool                  `json:"has_odometry"`
	LastUpdate     *time.Time            `json:"last_update,omitempty"`
	Cameras        []string              `json:"cameras"`
	Clients        int                   `json:"clients"`
	Velocity       robot.ControllerStats `json:"velocity_controller"`
}

// GoToRequest is the body of POST /api/nav/goto. Heading is in radians,
// Timeout in seconds.
type GoToRequest struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Heading  float64 `json:"heading"`
	Blocking bool    `json:"blocking"`
	Timeout  float64 `json:"timeout"`
}

// CmdVelRequest is the body of POST /api/cmd_vel.
type CmdVelRequest struct {
	LinearX  float64 `json:"linear_x"`
	LinearY  float64 `json:"linear_y"`
	AngularZ float64 `json:"angular_z"`
}

// JointsRequest is the body of POST /api/arm/joints. Mode is position
// (the default), velocity or torque; grippers apply to position mode only.
type JointsRequest struct {
	Mode         string    `json:"mode"`
	Left         []float64 `json:"left"`
	Right        []float64 `json:"right"`
	LeftGripper  *float64  `json:"left_gripper"`
	RightGripper *float64  `json:"right_gripper"`
}

// GroupRequest is the body of POST /api/arm/home and /api/arm/gripper.
type GroupRequest struct {
	Group    string  `json:"group"`
	Position float64 `json:"position"`
}

// statusCode maps robot errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, robot.ErrNotConnected), errors.Is(err, robot.ErrNoCamera),
		errors.Is(err, camera.ErrNoFrame), errors.Is(err, camera.ErrNotStreaming):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, robot.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, camera.ErrUnknownCamera):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func apiError(err error) error {
	return fiber.NewError(statusCode(err), err.Error())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	r := s.robot
	resp := StatusResponse{
		IP:             r.IP(),
		ROSProtocol:    string(r.ROSProtocol()),
		CameraProtocol: string(r.CameraProtocol()),
		Namespace:      r.Namespace(),
		Connected:      r.IsConnected(),
		NavStatus:      r.Nav().Status(),
		Navigating:     r.Nav().IsNavigating(),
		HasOdometry:    r.Status().HasData(),
		Cameras:        []string{},
		Clients:        s.telemetryHub.ClientCount() + s.cameraHub.ClientCount(),
		Velocity:       s.vel.Stats(),
	}
	if t := r.Status().LastUpdate(); !t.IsZero() {
		resp.LastUpdate = &t
	}
	if cams := r.Cameras(); cams != nil {
		resp.Cameras = cams.Names()
	}
	return c.JSON(resp)
}

func (s *Server) handlePose(c *fiber.Ctx) error {
	pose, ok := s.robot.Status().Pose()
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no odometry received")
	}
	return c.JSON(pose)
}

func (s *Server) handleVelocity(c *fiber.Ctx) error {
	vel, ok := s.robot.Status().Velocity()
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no odometry received")
	}
	return c.JSON(vel)
}

func (s *Server) handleGoTo(c *fiber.Ctx) error {
	var req GoToRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if req.Timeout < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "timeout must not be negative")
	}

	opts := robot.GoalOptions{
		NonBlocking: !req.Blocking,
		Timeout:     time.Duration(req.Timeout * float64(time.Second)),
	}
	status, err := s.robot.Nav().GoTo(c.UserContext(), req.X, req.Y, req.Heading, opts)
	if err != nil && status == "" {
		return apiError(err)
	}
	resp := fiber.Map{"status": status}
	if err != nil {
		resp["error"] = err.Error()
		return c.Status(statusCode(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) handleCancel(c *fiber.Ctx) error {
	if err := s.robot.Nav().Cancel(c.UserContext()); err != nil {
		return apiError(err)
	}
	return c.JSON(fiber.Map{"status": s.robot.Nav().Status()})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.vel.Halt()
	if err := s.robot.Nav().Stop(c.UserContext()); err != nil {
		return apiError(err)
	}
	return c.JSON(fiber.Map{"status": s.robot.Nav().Status()})
}

func (s *Server) handleCmdVel(c *fiber.Ctx) error {
	var req CmdVelRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if !s.robot.IsConnected() {
		return apiError(robot.ErrNotConnected)
	}
	s.vel.SetTarget(r3.Vector{X: req.LinearX, Y: req.LinearY}, r3.Vector{Z: req.AngularZ})
	linear, angular := s.vel.Target()
	return c.JSON(CmdVelRequest{LinearX: linear.X, LinearY: linear.Y, AngularZ: angular.Z})
}

func (s *Server) handleJoints(c *fiber.Ctx) error {
	states, ok := s.robot.Arm().JointStates()
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no joint states received")
	}
	return c.JSON(states)
}

func (s *Server) handleSetJoints(c *fiber.Ctx) error {
	var req JointsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	arm := s.robot.Arm()
	var err error
	switch req.Mode {
	case "", "position":
		err = arm.SetJointPositions(robot.ArmCommand{
			Left:         req.Left,
			Right:        req.Right,
			LeftGripper:  req.LeftGripper,
			RightGripper: req.RightGripper,
		})
	case "velocity":
		err = arm.SetJointVelocities(req.Left, req.Right)
	case "torque":
		err = arm.SetJointTorques(req.Left, req.Right)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "mode must be position, velocity or torque")
	}
	if errors.Is(err, robot.ErrNotConnected) {
		return apiError(err)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleArmHome(c *fiber.Ctx) error {
	var req GroupRequest
	if err := c.BodyParser(&req); err != nil || req.Group == "" {
		return fiber.NewError(fiber.StatusBadRequest, "group is required")
	}
	return s.armGoal(c, func(ctx context.Context) (robot.GoalStatus, error) {
		return s.robot.Arm().GoToHome(ctx, req.Group, robot.GoalOptions{NonBlocking: true})
	})
}

func (s *Server) handleGripper(c *fiber.Ctx) error {
	var req GroupRequest
	if err := c.BodyParser(&req); err != nil || req.Group == "" {
		return fiber.NewError(fiber.StatusBadRequest, "group is required")
	}
	return s.armGoal(c, func(ctx context.Context) (robot.GoalStatus, error) {
		return s.robot.Arm().ControlGripper(ctx, req.Group, req.Position, robot.GoalOptions{NonBlocking: true})
	})
}

func (s *Server) armGoal(c *fiber.Ctx, send func(context.Context) (robot.GoalStatus, error)) error {
	status, err := send(c.UserContext())
	if err != nil {
		return apiError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": status})
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	cams := s.robot.Cameras()
	if cams == nil {
		return apiError(robot.ErrNoCamera)
	}
	name := c.Query("camera", camera.Head)
	quality := c.QueryInt("quality", s.cfg.JPEGQuality)
	if quality < 1 || quality > 100 {
		return fiber.NewError(fiber.StatusBadRequest, "quality must be between 1 and 100")
	}

	f, err := cams.Frame(name)
	if err != nil {
		return apiError(err)
	}
	data, err := f.JPEG(quality)
	if err != nil {
		return apiError(err)
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set("X-Frame-Timestamp", f.Timestamp.UTC().Format(time.RFC3339Nano))
	return c.Send(data)
}

// handleTelemetryWS sends the current pose, then every telemetry update.
func (s *Server) handleTelemetryWS(conn *websocket.Conn) {
	if pose, ok := s.robot.Status().Pose(); ok {
		vel, _ := s.robot.Status().Velocity()
		if ev, err := hub.NewEvent("telemetry", TelemetryUpdate{Pose: pose, Velocity: vel}); err == nil {
			conn.WriteJSON(ev)
		}
	}
	s.serveClient(s.telemetryHub, conn)
}

// handleCameraWS streams JPEG frames of the primary camera.
func (s *Server) handleCameraWS(conn *websocket.Conn) {
	s.serveClient(s.cameraHub, conn)
}

func (s *Server) serveClient(h *hub.Hub, conn *websocket.Conn) {
	client, err := hub.NewClient(h, conn)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return
	}
	client.Run()
}
