// Package transport carries robot operations over interchangeable wire
// protocols.
//
// A Transport moves topic messages, action goals and service calls
// between this process and the robot. Messages are passed as JSON using
// ROS 2 field names, so callers are independent of the protocol chosen.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Protocol names a wire protocol.
type Protocol string

const (
	// ProtocolROSBridge talks to rosbridge_server over WebSocket.
	ProtocolROSBridge Protocol = "rosbridge"
	// ProtocolZenoh talks to a zenoh DDS bridge through its REST plugin.
	ProtocolZenoh Protocol = "zenoh"
	// ProtocolAuto tries zenoh first, then rosbridge.
	ProtocolAuto Protocol = "auto"
)

// Protocols lists every accepted protocol name.
var Protocols = []Protocol{ProtocolROSBridge, ProtocolZenoh, ProtocolAuto}

// ParseProtocol validates a protocol name. Matching is case-insensitive.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Protocols {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q (valid: rosbridge, zenoh, auto)", ErrUnknownProtocol, s)
}

// Handler receives one message as JSON.
type Handler func(msg json.RawMessage)

// SubscribeOptions tunes delivery of a subscription.
type SubscribeOptions struct {
	// ThrottleRate is the minimum interval between delivered messages.
	ThrottleRate time.Duration
	// QueueSize bounds messages buffered for a slow subscriber.
	// 0 uses the protocol default.
	QueueSize int
}

// Subscription identifies an active subscription.
type Subscription struct {
	ID    string
	Topic string
	Type  string
}

// ActionStatus is the terminal state of an action goal.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "SUCCEEDED"
	ActionFailed    ActionStatus = "FAILED"
	ActionCanceled  ActionStatus = "CANCELED"
	ActionUnknown   ActionStatus = "UNKNOWN"
)

// ActionResult is the outcome of CallAction.
type ActionResult struct {
	Status ActionStatus    `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	// Error holds the server's error text for failed goals.
	Error string `json:"error,omitempty"`
}

// Transport is a connection to the robot.
type Transport interface {
	// Connect opens the connection. Calling it on a connected transport is a no-op.
	Connect(ctx context.Context) error
	// Close releases the connection. It is idempotent.
	Close() error
	// IsConnected reports whether the connection is open.
	IsConnected() bool

	// Subscribe delivers messages on topic to handler until Unsubscribe.
	Subscribe(topic, msgType string, handler Handler, opts SubscribeOptions) (*Subscription, error)
	// Unsubscribe stops a subscription. A nil or unknown subscription is ignored.
	Unsubscribe(sub *Subscription) error
	// Publish sends one message on topic.
	Publish(topic, msgType string, msg any) error

	// CallAction sends a goal and blocks until its result or ctx ends.
	// When ctx ends the goal is cancelled on the robot. An expired
	// deadline also wraps ErrTimeout. feedback may be nil.
	CallAction(ctx context.Context, name, actionType string, goal any, feedback Handler) (*ActionResult, error)
	// CancelAction cancels the most recent goal sent by CallAction.
	// It is safe to call when no goal is active.
	CancelAction(ctx context.Context) error

	// CallService invokes a service and returns its response.
	CallService(ctx context.Context, name, srvType string, request any) (json.RawMessage, error)
}
