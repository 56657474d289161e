package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-walkie/pkg/msgs"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

// Navigation action and topic names, before namespacing.
const (
	NavigateActionName = "navigate_to_pose"
	CmdVelTopic        = "cmd_vel"
)

// Navigation sends goals to the robot's navigation stack and drives it
// directly through velocity commands.
//
// Every goal gets a generation number. A result only updates Status if
// no newer goal, cancel or stop happened since the goal was sent.
type Navigation struct {
	tr     transportFunc
	logger *slog.Logger

	mu        sync.Mutex
	namespace string
	status    GoalStatus
	gen       uint64

	bg       context.Context
	cancelBG context.CancelFunc
	wg       sync.WaitGroup
}

// NewNavigation creates a navigation controller on t.
func NewNavigation(t transport.Transport, namespace string, logger *slog.Logger) *Navigation {
	return newNavigation(fixedTransport(t), namespace, logger)
}

func newNavigation(tr transportFunc, namespace string, logger *slog.Logger) *Navigation {
	if logger == nil {
		logger = slog.Default()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Navigation{
		tr:        tr,
		logger:    logger.With("component", "navigation"),
		namespace: namespace,
		bg:        bg,
		cancelBG:  cancel,
	}
}

// SetNamespace changes the namespace of later goals and commands.
func (n *Navigation) SetNamespace(ns string) {
	n.mu.Lock()
	n.namespace = ns
	n.mu.Unlock()
}

// ActionName returns the namespaced navigation action.
func (n *Navigation) ActionName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return transport.ApplyNamespace(NavigateActionName, n.namespace)
}

// CmdVelTopic returns the namespaced velocity topic.
func (n *Navigation) CmdVelTopic() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return transport.ApplyNamespace(CmdVelTopic, n.namespace)
}

// GoTo navigates to (x, y) in the map frame with the given heading in
// radians.
//
// A blocking call returns the final status. An expired opts.Timeout
// cancels the goal and returns StatusFailed with an error wrapping
// ErrTimeout. A non-blocking call returns StatusInProgress at once.
func (n *Navigation) GoTo(ctx context.Context, x, y, heading float64, opts GoalOptions) (GoalStatus, error) {
	t, err := n.tr.connected()
	if err != nil {
		return "", err
	}

	goal := msgs.NewNavigateToPoseGoal(x, y, heading)
	action := n.ActionName()
	gen := n.begin()

	n.logger.Info("navigation goal sent", "x", x, "y", y, "heading", heading, "blocking", !opts.NonBlocking)

	if opts.NonBlocking {
		n.mu.Lock()
		bg := n.bg
		n.mu.Unlock()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := withGoalTimeout(bg, opts)
			defer cancel()
			status, err := n.send(ctx, t, action, goal, opts)
			n.finish(gen, status)
			if err != nil {
				n.logger.Warn("navigation goal failed", "error", err)
			}
		}()
		return StatusInProgress, nil
	}

	ctx, cancel := withGoalTimeout(ctx, opts)
	defer cancel()
	status, err := n.send(ctx, t, action, goal, opts)
	n.finish(gen, status)
	return status, err
}

func (n *Navigation) send(ctx context.Context, t transport.Transport, action string, goal msgs.NavigateToPoseGoal, opts GoalOptions) (GoalStatus, error) {
	res, err := t.CallAction(ctx, action, msgs.TypeNavigateToPose, goal, opts.Feedback)
	status := goalStatus(res, err)
	if err != nil {
		return status, fmt.Errorf("navigate to pose: %w", err)
	}
	n.logger.Info("navigation goal finished", "status", status)
	return status, nil
}

// begin starts a new goal generation.
func (n *Navigation) begin() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	n.status = StatusInProgress
	return n.gen
}

// finish records status if gen is still the latest generation.
func (n *Navigation) finish(gen uint64, status GoalStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen == n.gen {
		n.status = status
	}
}

// override supersedes every in-flight goal with status.
func (n *Navigation) override(status GoalStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	n.status = status
}

// Cancel cancels the current goal.
func (n *Navigation) Cancel(ctx context.Context) error {
	t, err := n.tr.connected()
	if err != nil {
		return err
	}
	if err := t.CancelAction(ctx); err != nil {
		return fmt.Errorf("cancel navigation: %w", err)
	}
	n.override(StatusCanceled)
	n.logger.Info("navigation canceled")
	return nil
}

// Stop publishes a zero velocity and cancels the current goal. It acts
// sooner than Cancel, which waits for the navigation stack.
func (n *Navigation) Stop(ctx context.Context) error {
	t, err := n.tr.connected()
	if err != nil {
		return err
	}
	pubErr := t.Publish(n.CmdVelTopic(), msgs.TypeTwist, msgs.Twist{})
	if pubErr != nil {
		pubErr = fmt.Errorf("publish zero velocity: %w", pubErr)
	}
	cancelErr := t.CancelAction(ctx)
	if cancelErr != nil {
		cancelErr = fmt.Errorf("cancel navigation: %w", cancelErr)
	}
	if err := errors.Join(pubErr, cancelErr); err != nil {
		return err
	}
	n.override(StatusStopped)
	n.logger.Info("robot stopped")
	return nil
}

// SetVelocity publishes one velocity command: linear in m/s, angular in
// rad/s.
func (n *Navigation) SetVelocity(linear, angular r3.Vector) error {
	t, err := n.tr.connected()
	if err != nil {
		return err
	}
	if err := t.Publish(n.CmdVelTopic(), msgs.TypeTwist, msgs.TwistFromVectors(linear, angular)); err != nil {
		return fmt.Errorf("publish velocity: %w", err)
	}
	return nil
}

// Status returns the last known goal status, or "" before the first goal.
func (n *Navigation) Status() GoalStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// IsNavigating reports whether a goal is in progress.
func (n *Navigation) IsNavigating() bool {
	return n.Status() == StatusInProgress
}

// Close abandons background goals and waits for them to return.
// The navigation can be used again afterwards.
func (n *Navigation) Close() {
	n.mu.Lock()
	cancel := n.cancelBG
	n.mu.Unlock()

	cancel()
	n.wg.Wait()

	n.mu.Lock()
	n.bg, n.cancelBG = context.WithCancel(context.Background())
	n.mu.Unlock()
}
