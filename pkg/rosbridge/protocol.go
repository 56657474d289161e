// Package rosbridge implements a client for the rosbridge v2 protocol.
//
// rosbridge exposes ROS 2 topics, services and actions as JSON operations
// over a WebSocket. This package speaks that protocol directly; it knows
// nothing about robots. See pkg/transport for the robot-facing adapter.
package rosbridge

import (
	"encoding/json"
	"fmt"
)

// Op identifies a rosbridge operation.
type Op string

const (
	// Client → bridge
	OpAdvertise        Op = "advertise"
	OpUnadvertise      Op = "unadvertise"
	OpPublish          Op = "publish"
	OpSubscribe        Op = "subscribe"
	OpUnsubscribe      Op = "unsubscribe"
	OpCallService      Op = "call_service"
	OpSendActionGoal   Op = "send_action_goal"
	OpCancelActionGoal Op = "cancel_action_goal"

	// Bridge → client
	OpServiceResponse Op = "service_response"
	OpActionFeedback  Op = "action_feedback"
	OpActionResult    Op = "action_result"
	OpStatus          Op = "status"
)

// CompressionCBOR asks the bridge to send topic messages as binary CBOR frames.
const CompressionCBOR = "cbor"

// GoalStatus mirrors action_msgs/msg/GoalStatus.
type GoalStatus int

const (
	GoalStatusUnknown   GoalStatus = 0
	GoalStatusAccepted  GoalStatus = 1
	GoalStatusExecuting GoalStatus = 2
	GoalStatusCanceling GoalStatus = 3
	GoalStatusSucceeded GoalStatus = 4
	GoalStatusCanceled  GoalStatus = 5
	GoalStatusAborted   GoalStatus = 6
)

// String returns the ROS name of the status.
func (s GoalStatus) String() string {
	switch s {
	case GoalStatusUnknown:
		return "UNKNOWN"
	case GoalStatusAccepted:
		return "ACCEPTED"
	case GoalStatusExecuting:
		return "EXECUTING"
	case GoalStatusCanceling:
		return "CANCELING"
	case GoalStatusSucceeded:
		return "SUCCEEDED"
	case GoalStatusCanceled:
		return "CANCELED"
	case GoalStatusAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("GoalStatus(%d)", int(s))
	}
}

// =============================================================================
// Client → bridge operations
// =============================================================================

// AdvertiseMsg declares a topic the client will publish on.
type AdvertiseMsg struct {
	Op    Op     `json:"op"`
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// UnadvertiseMsg withdraws an advertised topic.
type UnadvertiseMsg struct {
	Op    Op     `json:"op"`
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// PublishMsg publishes one message on a topic.
type PublishMsg struct {
	Op    Op     `json:"op"`
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
	Msg   any    `json:"msg"`
}

// SubscribeMsg requests messages from a topic.
// ThrottleRate is in milliseconds.
type SubscribeMsg struct {
	Op           Op     `json:"op"`
	ID           string `json:"id,omitempty"`
	Topic        string `json:"topic"`
	Type         string `json:"type,omitempty"`
	ThrottleRate int    `json:"throttle_rate,omitempty"`
	QueueLength  int    `json:"queue_length,omitempty"`
	Compression  string `json:"compression,omitempty"`
}

// UnsubscribeMsg cancels the subscription with the same id.
type UnsubscribeMsg struct {
	Op    Op     `json:"op"`
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// CallServiceMsg invokes a service.
type CallServiceMsg struct {
	Op      Op     `json:"op"`
	ID      string `json:"id"`
	Service string `json:"service"`
	Type    string `json:"type,omitempty"`
	Args    any    `json:"args"`
}

// SendActionGoalMsg sends a goal to an action server.
type SendActionGoalMsg struct {
	Op         Op     `json:"op"`
	ID         string `json:"id"`
	Action     string `json:"action"`
	ActionType string `json:"action_type"`
	Args       any    `json:"args"`
	Feedback   bool   `json:"feedback"`
}

// CancelActionGoalMsg cancels a goal previously sent with the same id.
type CancelActionGoalMsg struct {
	Op     Op     `json:"op"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

// =============================================================================
// Bridge → client operations
// =============================================================================

// Incoming is the union of every operation the bridge sends.
// Which fields are set depends on Op.
type Incoming struct {
	Op    Op     `json:"op"`
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic,omitempty"`

	// Msg is the message for publish, or the text for status.
	Msg json.RawMessage `json:"msg,omitempty"`

	// Values carries service responses, action feedback and action results.
	Values json.RawMessage `json:"values,omitempty"`

	// Result is the success flag of service_response and action_result.
	Result *bool `json:"result,omitempty"`

	// Status is the goal status of action_result.
	Status *GoalStatus `json:"status,omitempty"`

	// Level is set on status operations.
	Level string `json:"level,omitempty"`
}

// ParseIncoming decodes a text frame.
func ParseIncoming(data []byte) (*Incoming, error) {
	var in Incoming
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("rosbridge: parse frame: %w", err)
	}
	if in.Op == "" {
		return nil, fmt.Errorf("rosbridge: frame has no op")
	}
	return &in, nil
}

// StatusText returns the text of a status operation.
func (in *Incoming) StatusText() string {
	var s string
	if err := json.Unmarshal(in.Msg, &s); err != nil {
		return string(in.Msg)
	}
	return s
}

// Succeeded reports whether Result is present and true.
func (in *Incoming) Succeeded() bool {
	return in.Result != nil && *in.Result
}

// ErrorText extracts a readable error from a failed service or action reply.
// Bridges put the error string directly in values.
func (in *Incoming) ErrorText() string {
	if len(in.Values) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(in.Values, &s); err == nil {
		return s
	}
	return string(in.Values)
}
