package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-walkie/pkg/rosbridge"
)

// DefaultServiceTimeout bounds service calls whose context has no deadline.
const DefaultServiceTimeout = 5 * time.Second

// ROSBridge is a Transport over a rosbridge WebSocket.
type ROSBridge struct {
	client *rosbridge.Client
	logger *slog.Logger

	mu   sync.Mutex
	goal *rosbridge.Goal
}

// NewROSBridge creates an unconnected rosbridge transport.
func NewROSBridge(cfg Config, logger *slog.Logger) (*ROSBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := rosbridge.NewClient(cfg.rosbridgeConfig(), logger)
	if err != nil {
		return nil, err
	}
	return &ROSBridge{
		client: client,
		logger: logger.With("component", "transport", "protocol", ProtocolROSBridge),
	}, nil
}

// Client exposes the underlying rosbridge client.
func (t *ROSBridge) Client() *rosbridge.Client {
	return t.client
}

// Connect implements Transport.
func (t *ROSBridge) Connect(ctx context.Context) error {
	return mapROSBridgeError(t.client.Connect(ctx))
}

// Close implements Transport.
func (t *ROSBridge) Close() error {
	return t.client.Close()
}

// IsConnected implements Transport.
func (t *ROSBridge) IsConnected() bool {
	return t.client.IsConnected()
}

// Subscribe implements Transport.
func (t *ROSBridge) Subscribe(topic, msgType string, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	id, err := t.client.Subscribe(topic, msgType, rosbridge.SubscribeOptions{
		ThrottleRate: opts.ThrottleRate,
		QueueLength:  opts.QueueSize,
	}, rosbridge.MessageHandler(handler))
	if err != nil {
		return nil, mapROSBridgeError(err)
	}
	return &Subscription{ID: id, Topic: topic, Type: msgType}, nil
}

// Unsubscribe implements Transport.
func (t *ROSBridge) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	return mapROSBridgeError(t.client.Unsubscribe(sub.ID))
}

// Publish implements Transport.
func (t *ROSBridge) Publish(topic, msgType string, msg any) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	return mapROSBridgeError(t.client.Publish(topic, msgType, msg))
}

// CallAction implements Transport.
func (t *ROSBridge) CallAction(ctx context.Context, name, actionType string, goal any, feedback Handler) (*ActionResult, error) {
	var fb rosbridge.MessageHandler
	if feedback != nil {
		fb = rosbridge.MessageHandler(feedback)
	}

	g, err := t.client.SendActionGoal(name, actionType, goal, fb)
	if err != nil {
		return nil, mapROSBridgeError(err)
	}

	t.mu.Lock()
	t.goal = g
	t.mu.Unlock()
	defer t.clearGoal(g)

	res, err := g.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if cerr := t.client.CancelActionGoal(g.Action, g.ID); cerr != nil {
				t.logger.Warn("cancel after timeout failed", "action", name, "error", cerr)
			}
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("action %s: %w", name, errors.Join(ErrTimeout, ctxErr))
			}
			return nil, fmt.Errorf("action %s: %w", name, ctxErr)
		}
		return nil, mapROSBridgeError(err)
	}
	return actionResultFrom(res), nil
}

func (t *ROSBridge) clearGoal(g *rosbridge.Goal) {
	t.mu.Lock()
	if t.goal == g {
		t.goal = nil
	}
	t.mu.Unlock()
	t.client.ReleaseGoal(g.ID)
}

// CancelAction implements Transport.
func (t *ROSBridge) CancelAction(ctx context.Context) error {
	t.mu.Lock()
	g := t.goal
	t.mu.Unlock()

	if g == nil {
		return nil
	}
	if err := t.client.CancelActionGoal(g.Action, g.ID); err != nil {
		return mapROSBridgeError(err)
	}
	t.logger.Debug("action cancel requested", "action", g.Action, "id", g.ID)
	return nil
}

// CallService implements Transport.
func (t *ROSBridge) CallService(ctx context.Context, name, srvType string, request any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultServiceTimeout)
		defer cancel()
	}

	values, err := t.client.CallService(ctx, name, srvType, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("service %s: %w", name, errors.Join(ErrTimeout, err))
		}
		return nil, mapROSBridgeError(err)
	}
	return values, nil
}

// actionResultFrom maps a bridge result onto an ActionStatus.
// A true result flag with a succeeded or absent goal status is a success.
func actionResultFrom(res *rosbridge.ActionResult) *ActionResult {
	out := &ActionResult{Result: res.Values}

	switch {
	case res.Status == rosbridge.GoalStatusCanceled:
		out.Status = ActionCanceled
	case res.Succeeded && (res.Status == rosbridge.GoalStatusSucceeded || res.Status == rosbridge.GoalStatusUnknown):
		out.Status = ActionSucceeded
	default:
		out.Status = ActionFailed
	}

	if out.Status != ActionSucceeded && len(res.Values) > 0 {
		var text string
		if err := json.Unmarshal(res.Values, &text); err == nil {
			out.Error = text
		}
	}
	return out
}

// mapROSBridgeError translates wire client errors into transport errors.
func mapROSBridgeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rosbridge.ErrNotConnected):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case errors.Is(err, rosbridge.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return err
	}
}

// Ensure ROSBridge implements Transport.
var _ Transport = (*ROSBridge)(nil)
