package rosbridge

import (
	"context"
	"encoding/json"
	"sync"
)

// ActionResult is the final outcome of an action goal.
type ActionResult struct {
	// Status is the goal status reported by the bridge. Bridges that
	// predate goal statuses leave it at GoalStatusUnknown.
	Status GoalStatus
	// Succeeded is the bridge's result flag.
	Succeeded bool
	// Values is the action's result message, or an error string on failure.
	Values json.RawMessage
}

// Goal is an in-flight action goal.
type Goal struct {
	ID     string
	Action string

	feedback MessageHandler

	once   sync.Once
	done   chan struct{}
	result *ActionResult
	err    error
}

func (g *Goal) finish(in *Incoming, err error) {
	g.once.Do(func() {
		if in != nil {
			g.result = &ActionResult{
				Succeeded: in.Succeeded(),
				Values:    in.Values,
			}
			if in.Status != nil {
				g.result.Status = *in.Status
			}
		}
		g.err = err
		close(g.done)
	})
}

// Done is closed once the goal has a result or the connection dropped.
func (g *Goal) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the goal completes or ctx ends. A ctx error does
// not cancel the goal on the robot; use Client.CancelActionGoal for that.
func (g *Goal) Wait(ctx context.Context) (*ActionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.done:
		return g.result, g.err
	}
}
