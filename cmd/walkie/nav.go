package main

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/golang/geo/r3"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-walkie/pkg/robot"
)

func (c *cli) gotoCmd() *cobra.Command {
	var (
		degrees bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "goto X Y HEADING",
		Short: "Navigate to a pose in the map frame",
		Long: `Send a navigation goal to (X, Y) in metres with the given heading.

HEADING is in radians unless --degrees is set. The command waits for
the goal to finish; interrupting it cancels the goal. Put negative
coordinates after "--".`,
		Example: "  walkie goto --degrees --goal-timeout 60s -- 1.5 -0.5 90",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v [3]float64
			for i, arg := range args {
				f, err := strconv.ParseFloat(arg, 64)
				if err != nil {
					return fmt.Errorf("invalid coordinate %q: %w", arg, err)
				}
				v[i] = f
			}
			heading := v[2]
			if degrees {
				heading = heading * math.Pi / 180
			}

			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			status, err := r.Nav().GoTo(cmd.Context(), v[0], v[1], heading, robot.GoalOptions{Timeout: timeout})
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if err != nil {
				return err
			}
			if status == robot.StatusFailed {
				return fmt.Errorf("navigation failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&degrees, "degrees", false, "heading is in degrees")
	cmd.Flags().DurationVar(&timeout, "goal-timeout", 0, "give up on the goal after this long (0 waits forever)")
	return cmd
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active navigation goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.Nav().Cancel(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Nav().Status())
			return nil
		},
	}
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cancel navigation and send a zero velocity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.Nav().Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.Nav().Status())
			return nil
		},
	}
}

func (c *cli) driveCmd() *cobra.Command {
	var (
		linear   float64
		lateral  float64
		angular  float64
		duration time.Duration
		rate     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Drive at a fixed velocity for a while",
		Long: `Stream a velocity command for --duration, then stop.

Speeds are clamped to the robot limits. Interrupting the command
stops the robot.`,
		Example: "  walkie drive --linear 0.2 --angular 0.3 --duration 3s",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration <= 0 {
				return fmt.Errorf("duration must be positive")
			}
			if rate <= 0 {
				return fmt.Errorf("rate must be positive")
			}

			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			vc := robot.NewVelocityController(r.Nav(), rate, 2*rate+100*time.Millisecond, c.logger)
			ctx := cmd.Context()
			done := make(chan struct{})
			go func() {
				defer close(done)
				vc.Run(ctx)
			}()

			// Refreshed every interval to keep the dead-man timer fed.
			vc.SetTarget(r3.Vector{X: linear, Y: lateral}, r3.Vector{Z: angular})
			timer := time.NewTimer(duration)
			defer timer.Stop()
			refresh := time.NewTicker(rate)
			defer refresh.Stop()
		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-timer.C:
					break loop
				case <-refresh.C:
					vc.SetTarget(r3.Vector{X: linear, Y: lateral}, r3.Vector{Z: angular})
				}
			}
			vc.Stop()
			<-done

			st := vc.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d commands (%d errors)\n", st.Ticks-st.Skipped, st.Errors)
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&linear, "linear", 0, "forward speed in m/s")
	f.Float64Var(&lateral, "lateral", 0, "sideways speed in m/s")
	f.Float64Var(&angular, "angular", 0, "turn rate in rad/s")
	f.DurationVar(&duration, "duration", time.Second, "how long to drive")
	f.DurationVar(&rate, "rate", 100*time.Millisecond, "command interval")
	return cmd
}
