package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-walkie/pkg/robot"
)

func (c *cli) jointsCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "joints",
		Short: "Print the joint states of both arms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			var states robot.JointStates
			ok := waitUntil(cmd.Context(), wait, func() bool {
				var got bool
				states, got = r.Arm().JointStates()
				return got
			})
			if !ok {
				return fmt.Errorf("no joint states received within %s", wait)
			}
			return printJSON(cmd, states)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for joint states")
	return cmd
}

func (c *cli) homeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:     "home GROUP",
		Short:   "Move a planning group to its home pose",
		Example: "  walkie home left_arm",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			status, err := r.Arm().GoToHome(cmd.Context(), args[0], robot.GoalOptions{Timeout: timeout})
			return reportGoal(cmd, status, err)
		},
	}
	cmd.Flags().DurationVar(&timeout, "goal-timeout", 30*time.Second, "give up on the goal after this long")
	return cmd
}

func (c *cli) gripperCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:     "gripper GROUP POSITION",
		Short:   "Move a gripper to a position",
		Example: "  walkie gripper left_gripper 0.02",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[1], err)
			}
			r, err := c.dial(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			status, err := r.Arm().ControlGripper(cmd.Context(), args[0], pos, robot.GoalOptions{Timeout: timeout})
			return reportGoal(cmd, status, err)
		},
	}
	cmd.Flags().DurationVar(&timeout, "goal-timeout", 10*time.Second, "give up on the goal after this long")
	return cmd
}

// reportGoal prints the goal status and turns a failure into an error.
func reportGoal(cmd *cobra.Command, status robot.GoalStatus, err error) error {
	if status != "" {
		fmt.Fprintln(cmd.OutOrStdout(), status)
	}
	if err != nil {
		return err
	}
	if status != robot.StatusSucceeded {
		return fmt.Errorf("goal %s", status)
	}
	return nil
}
