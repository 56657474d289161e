package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-walkie/pkg/web"
)

func (c *cli) serveCmd() *cobra.Command {
	wcfg := web.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket control API",
		Long: `Connect to the robot and expose it over HTTP.

Endpoints live under /api; /ws/telemetry streams pose updates and
/ws/camera streams JPEG frames.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := r.Close(); err != nil {
					c.logger.Warn("close robot", "error", err)
				}
			}()

			srv, err := web.NewServer(r, wcfg, c.logger)
			if err != nil {
				return err
			}
			c.logger.Info("serving robot", "robot", r.String(), "addr", wcfg.Addr)
			if err := srv.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&wcfg.Addr, "addr", wcfg.Addr, "listen address")
	f.DurationVar(&wcfg.CommandRate, "command-rate", wcfg.CommandRate, "velocity command interval")
	f.DurationVar(&wcfg.Deadman, "deadman", wcfg.Deadman, "stop if cmd_vel is not refreshed within this long")
	f.IntVar(&wcfg.JPEGQuality, "jpeg-quality", wcfg.JPEGQuality, "JPEG quality of camera frames")
	f.BoolVar(&wcfg.CORS, "cors", wcfg.CORS, "allow cross-origin requests")
	return cmd
}
