package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-walkie/pkg/robot"
)

// statusReport is the output of the status command.
type statusReport struct {
	Robot     string           `json:"robot"`
	Connected bool             `json:"connected"`
	Namespace string           `json:"namespace"`
	Nav       robot.GoalStatus `json:"nav_status"`
	Pose      *robot.Pose      `json:"pose,omitempty"`
	Velocity  *robot.Velocity  `json:"velocity,omitempty"`
	Cameras   []string         `json:"cameras,omitempty"`
}

func (c *cli) statusCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print connection state, pose and velocity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			waitUntil(cmd.Context(), wait, r.Status().HasData)

			rep := statusReport{
				Robot:     r.String(),
				Connected: r.IsConnected(),
				Namespace: r.Namespace(),
				Nav:       r.Nav().Status(),
			}
			if pose, ok := r.Status().Pose(); ok {
				rep.Pose = &pose
			}
			if vel, ok := r.Status().Velocity(); ok {
				rep.Velocity = &vel
			}
			if cams := r.Cameras(); cams != nil {
				rep.Cameras = cams.Names()
			}
			return printJSON(cmd, rep)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for odometry")
	return cmd
}
