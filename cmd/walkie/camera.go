package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/robot"
)

func (c *cli) snapshotCmd() *cobra.Command {
	var (
		name    string
		out     string
		quality int
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:     "snapshot",
		Short:   "Save a JPEG frame from a camera",
		Example: "  walkie snapshot --camera left --out left.jpg",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quality < 1 || quality > 100 {
				return fmt.Errorf("quality must be between 1 and 100")
			}
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			cams := r.Cameras()
			if cams == nil {
				return robot.ErrNoCamera
			}

			var frame *camera.Frame
			waitUntil(cmd.Context(), wait, func() bool {
				frame, err = cams.Frame(name)
				return err == nil
			})
			if err != nil {
				return fmt.Errorf("camera %s: %w", name, err)
			}

			data, err := frame.JPEG(quality)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			h, w, _ := frame.Shape()
			c.logger.Info("snapshot saved", "camera", name, "path", out, "width", w, "height", h)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "camera", camera.Head, "camera name")
	f.StringVarP(&out, "out", "o", "snapshot.jpg", "output file, - for stdout")
	f.IntVar(&quality, "quality", 90, "JPEG quality 1-100")
	f.DurationVar(&wait, "wait", 5*time.Second, "how long to wait for a frame")
	return cmd
}
