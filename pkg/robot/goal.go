package robot

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-walkie/pkg/transport"
)

// GoalStatus is the last known state of a navigation or arm goal.
type GoalStatus string

const (
	StatusSucceeded  GoalStatus = "SUCCEEDED"
	StatusFailed     GoalStatus = "FAILED"
	StatusCanceled   GoalStatus = "CANCELED"
	StatusInProgress GoalStatus = "IN_PROGRESS"
	StatusStopped    GoalStatus = "STOPPED"
)

// GoalOptions controls how an action goal is sent.
type GoalOptions struct {
	// NonBlocking returns StatusInProgress immediately and records the
	// result in the background.
	NonBlocking bool

	// Timeout bounds the goal. 0 waits until it finishes.
	Timeout time.Duration

	// Feedback receives interim feedback messages. It may be nil.
	Feedback transport.Handler
}

// goalStatus maps the outcome of CallAction to a status.
func goalStatus(res *transport.ActionResult, err error) GoalStatus {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	case err != nil:
		return StatusFailed
	case res == nil:
		return StatusFailed
	}
	switch res.Status {
	case transport.ActionSucceeded:
		return StatusSucceeded
	case transport.ActionCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}

// withGoalTimeout applies opts.Timeout to ctx.
func withGoalTimeout(ctx context.Context, opts GoalOptions) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// transportFunc returns the current transport, or nil before Connect.
type transportFunc func() transport.Transport

func fixedTransport(t transport.Transport) transportFunc {
	return func() transport.Transport { return t }
}

// connected returns the transport if it is connected.
func (f transportFunc) connected() (transport.Transport, error) {
	t := f()
	if t == nil || !t.IsConnected() {
		return nil, ErrNotConnected
	}
	return t, nil
}
