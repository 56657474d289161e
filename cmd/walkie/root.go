package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	walkielog "github.com/teslashibe/go-walkie/internal/log"
	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/robot"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath     string
	ip             string
	protocol       string
	port           int
	cameraProtocol string
	cameraPort     int
	namespace      string
	timeout        time.Duration
	logLevel       string
	logJSON        bool

	logger *slog.Logger

	// robotOpts are appended to every robot; tests inject mocks here.
	robotOpts []robot.Option
}

func newRootCmd(opts ...robot.Option) *cobra.Command {
	c := &cli{robotOpts: opts}

	root := &cobra.Command{
		Use:   "walkie",
		Short: "Control a Walkie mobile robot",
		Long: `walkie talks to a Walkie robot over rosbridge or a zenoh DDS bridge.

Connection settings come from --config, then WALKIE_* environment
variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger = walkielog.Init(walkielog.Options{
				Level:  c.logLevel,
				JSON:   c.logJSON,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "YAML config file")
	f.StringVar(&c.ip, "ip", "", "robot address (default localhost, or WALKIE_IP / ROBOT_IP)")
	f.StringVar(&c.protocol, "protocol", "", "transport: rosbridge, zenoh or auto")
	f.IntVar(&c.port, "port", 0, "transport port (0 uses the protocol default)")
	f.StringVar(&c.cameraProtocol, "camera-protocol", "", "camera source: webrtc, zenoh, shm or none")
	f.IntVar(&c.cameraPort, "camera-port", 0, "camera port")
	f.StringVar(&c.namespace, "namespace", "", "robot namespace")
	f.DurationVar(&c.timeout, "timeout", 0, "connection timeout")
	f.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.BoolVar(&c.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		c.statusCmd(),
		c.gotoCmd(),
		c.cancelCmd(),
		c.stopCmd(),
		c.driveCmd(),
		c.snapshotCmd(),
		c.jointsCmd(),
		c.homeCmd(),
		c.gripperCmd(),
		c.serveCmd(),
	)
	return root
}

// config loads the robot configuration and applies changed flags.
func (c *cli) config(cmd *cobra.Command) (robot.Config, error) {
	cfg, err := robot.LoadConfig(c.configPath)
	if err != nil {
		return robot.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("ip") {
		cfg.IP = c.ip
	}
	if flags.Changed("protocol") {
		cfg.ROSProtocol = transport.Protocol(c.protocol)
	}
	if flags.Changed("port") {
		cfg.ROSPort = c.port
	}
	if flags.Changed("camera-protocol") {
		cfg.CameraProtocol = camera.Protocol(c.cameraProtocol)
	}
	if flags.Changed("camera-port") {
		cfg.CameraPort = c.cameraPort
	}
	if flags.Changed("namespace") {
		cfg.Namespace = c.namespace
	}
	if flags.Changed("timeout") {
		cfg.Timeout = c.timeout
	}

	if err := cfg.Validate(); err != nil {
		return robot.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newRobot builds an unconnected robot from the flags.
func (c *cli) newRobot(cmd *cobra.Command) (*robot.Robot, error) {
	cfg, err := c.config(cmd)
	if err != nil {
		return nil, err
	}
	opts := append([]robot.Option{robot.WithLogger(c.logger)}, c.robotOpts...)
	return robot.New(cfg, opts...)
}

// dial builds and connects a robot, bounded by the configured timeout.
func (c *cli) dial(cmd *cobra.Command) (*robot.Robot, error) {
	r, err := c.newRobot(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), r.Config().Timeout)
	defer cancel()
	if err := r.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", r.IP(), err)
	}
	return r, nil
}

// printJSON writes v as indented JSON to the command output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// waitUntil polls cond until it holds, ctx ends or d elapses.
func waitUntil(ctx context.Context, d time.Duration, cond func() bool) bool {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return cond()
		case <-ticker.C:
		}
	}
	return true
}
