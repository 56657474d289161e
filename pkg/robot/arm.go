package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/teslashibe/go-walkie/pkg/msgs"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

// Arm topics, before namespacing.
const (
	ArmCommandsTopic = "walkie/arm/commands"
	JointStatesTopic = "joint_states"
)

// MoveIt action names and types.
const (
	moveItInterface = "my_robot_interfaces/action"

	GoToHomeAction         = "go_to_home"
	ControlGripperAction   = "control_gripper"
	GoToPoseAction         = "go_to_pose"
	GoToPoseRelativeAction = "go_to_pose_relative"
)

// ArmJoints is the number of joints in each arm.
const ArmJoints = 7

// Gripper joint names.
const (
	LeftGripperJoint  = "left_gripper_controller"
	RightGripperJoint = "right_gripper_controller"
)

// ArmCommand addresses joints of both arms. A nil arm is left out of the
// command; missing joints of a given arm are sent as 0.
type ArmCommand struct {
	Left  []float64
	Right []float64

	// Gripper positions; nil leaves the gripper out.
	LeftGripper  *float64
	RightGripper *float64
}

// ArmState is the state of one arm, indexed by joint number minus one.
type ArmState struct {
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities"`
	Torques    []float64 `json:"torques"`
}

// JointStates is the parsed state of both arms and grippers.
type JointStates struct {
	LeftArm      ArmState `json:"left_arm"`
	RightArm     ArmState `json:"right_arm"`
	LeftGripper  *float64 `json:"left_gripper"`
	RightGripper *float64 `json:"right_gripper"`
}

// ArmPose is a Cartesian end-effector target for a planning group.
type ArmPose struct {
	Group string  `json:"group_name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	// Cartesian plans a straight-line path.
	Cartesian bool `json:"cartesian_path"`
}

// Arm commands the robot's two arms and reads their joint states.
type Arm struct {
	tr     transportFunc
	logger *slog.Logger

	mu        sync.RWMutex
	namespace string
	sub       *transport.Subscription
	subOn     transport.Transport
	latest    *msgs.JointState

	wg sync.WaitGroup
}

// NewArm creates an arm controller on t.
func NewArm(t transport.Transport, namespace string, logger *slog.Logger) *Arm {
	return newArm(fixedTransport(t), namespace, logger)
}

func newArm(tr transportFunc, namespace string, logger *slog.Logger) *Arm {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arm{
		tr:        tr,
		logger:    logger.With("component", "arm"),
		namespace: namespace,
	}
}

// CommandsTopic returns the namespaced command topic.
func (a *Arm) CommandsTopic() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return transport.ApplyNamespace(ArmCommandsTopic, a.namespace)
}

// StatesTopic returns the namespaced joint state topic.
func (a *Arm) StatesTopic() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return transport.ApplyNamespace(JointStatesTopic, a.namespace)
}

// Start subscribes to joint states. It does nothing when already started
// or when the transport is not connected.
func (a *Arm) Start() error {
	tr := a.tr()
	if tr == nil || !tr.IsConnected() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return nil
	}
	topic := transport.ApplyNamespace(JointStatesTopic, a.namespace)
	sub, err := tr.Subscribe(topic, msgs.TypeJointState, a.handle, transport.SubscribeOptions{})
	if err != nil {
		return fmt.Errorf("subscribe to joint states: %w", err)
	}
	a.sub = sub
	a.subOn = tr
	a.logger.Info("subscribed to joint states", "topic", topic)
	return nil
}

// Stop ends the joint state subscription.
func (a *Arm) Stop() error {
	a.mu.Lock()
	sub, tr := a.sub, a.subOn
	a.sub, a.subOn = nil, nil
	a.mu.Unlock()

	if sub == nil {
		return nil
	}
	return tr.Unsubscribe(sub)
}

// Close stops the subscription and waits for background goals.
func (a *Arm) Close() error {
	err := a.Stop()
	a.wg.Wait()
	return err
}

// SetNamespace changes the arm topics and resubscribes to joint states.
func (a *Arm) SetNamespace(ns string) error {
	a.mu.Lock()
	changed := a.namespace != ns
	a.namespace = ns
	a.mu.Unlock()

	if !changed {
		return nil
	}
	if err := a.Stop(); err != nil {
		a.logger.Warn("unsubscribe from joint states failed", "error", err)
	}
	return a.Start()
}

func (a *Arm) handle(msg json.RawMessage) {
	var js msgs.JointState
	if err := json.Unmarshal(msg, &js); err != nil {
		a.logger.Debug("malformed joint state", "error", err)
		return
	}
	a.mu.Lock()
	a.latest = &js
	a.mu.Unlock()
}

// SetJointPositions commands joint positions in radians and gripper
// positions.
func (a *Arm) SetJointPositions(cmd ArmCommand) error {
	js := jointCommand(cmd.Left, cmd.Right)
	if cmd.LeftGripper != nil {
		js.Name = append(js.Name, LeftGripperJoint)
		js.Position = append(js.Position, *cmd.LeftGripper)
	}
	if cmd.RightGripper != nil {
		js.Name = append(js.Name, RightGripperJoint)
		js.Position = append(js.Position, *cmd.RightGripper)
	}
	js.Velocity = make([]float64, len(js.Name))
	js.Effort = make([]float64, len(js.Name))
	return a.publish(js)
}

// SetJointVelocities commands joint velocities in rad/s.
func (a *Arm) SetJointVelocities(left, right []float64) error {
	js := jointCommand(left, right)
	js.Velocity, js.Position = js.Position, make([]float64, len(js.Name))
	js.Effort = make([]float64, len(js.Name))
	return a.publish(js)
}

// SetJointTorques commands joint torques in Nm.
func (a *Arm) SetJointTorques(left, right []float64) error {
	js := jointCommand(left, right)
	js.Effort, js.Position = js.Position, make([]float64, len(js.Name))
	js.Velocity = make([]float64, len(js.Name))
	return a.publish(js)
}

// jointCommand lays out arm values in Position.
func jointCommand(left, right []float64) msgs.JointState {
	var js msgs.JointState
	for _, side := range []struct {
		prefix string
		values []float64
	}{{"left", left}, {"right", right}} {
		if side.values == nil {
			continue
		}
		for i := 0; i < ArmJoints; i++ {
			v := 0.0
			if i < len(side.values) {
				v = side.values[i]
			}
			js.Name = append(js.Name, fmt.Sprintf("%s_joint%d", side.prefix, i+1))
			js.Position = append(js.Position, v)
		}
	}
	return js
}

func (a *Arm) publish(js msgs.JointState) error {
	if len(js.Name) == 0 {
		return fmt.Errorf("arm: empty command")
	}
	t, err := a.tr.connected()
	if err != nil {
		return err
	}
	if err := t.Publish(a.CommandsTopic(), msgs.TypeJointState, js); err != nil {
		return fmt.Errorf("publish arm command: %w", err)
	}
	return nil
}

// JointStates parses the latest joint state message. ok is false before
// the first message.
func (a *Arm) JointStates() (states JointStates, ok bool) {
	a.mu.RLock()
	js := a.latest
	a.mu.RUnlock()
	if js == nil {
		return JointStates{}, false
	}
	return ParseJointStates(js), true
}

// ParseJointStates splits a JointState into per-arm values. Arm joints
// are placed by the number in their name; joints beyond ArmJoints are
// ignored.
func ParseJointStates(js *msgs.JointState) JointStates {
	var out JointStates
	at := func(values []float64, i int) float64 {
		if i < len(values) {
			return values[i]
		}
		return 0
	}

	for i, name := range js.Name {
		var arm *ArmState
		var idx int
		switch {
		case strings.HasPrefix(name, "left_joint"):
			arm, idx = &out.LeftArm, jointIndex(name, "left_joint")
		case strings.HasPrefix(name, "right_joint"):
			arm, idx = &out.RightArm, jointIndex(name, "right_joint")
		case strings.HasPrefix(name, "left_gripper"):
			if i < len(js.Position) {
				v := js.Position[i]
				out.LeftGripper = &v
			}
			continue
		case strings.HasPrefix(name, "right_gripper"):
			if i < len(js.Position) {
				v := js.Position[i]
				out.RightGripper = &v
			}
			continue
		default:
			continue
		}
		if idx < 0 || idx >= ArmJoints {
			continue
		}
		for len(arm.Positions) <= idx {
			arm.Positions = append(arm.Positions, 0)
			arm.Velocities = append(arm.Velocities, 0)
			arm.Torques = append(arm.Torques, 0)
		}
		arm.Positions[idx] = at(js.Position, i)
		arm.Velocities[idx] = at(js.Velocity, i)
		arm.Torques[idx] = at(js.Effort, i)
	}
	return out
}

func jointIndex(name, prefix string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return -1
	}
	return n - 1
}

// GoToHome moves a planning group to its home position.
func (a *Arm) GoToHome(ctx context.Context, group string, opts GoalOptions) (GoalStatus, error) {
	goal := map[string]any{"group_name": group}
	return a.sendGoal(ctx, GoToHomeAction, "GoToHome", goal, opts)
}

// ControlGripper moves a gripper to position, in radians.
func (a *Arm) ControlGripper(ctx context.Context, group string, position float64, opts GoalOptions) (GoalStatus, error) {
	goal := map[string]any{"group_name": group, "position": position}
	return a.sendGoal(ctx, ControlGripperAction, "ControlGripper", goal, opts)
}

// GoToPose moves an end effector to an absolute pose.
func (a *Arm) GoToPose(ctx context.Context, pose ArmPose, opts GoalOptions) (GoalStatus, error) {
	return a.sendGoal(ctx, GoToPoseAction, "GoToPose", pose, opts)
}

// GoToPoseRelative moves an end effector by an offset from its current pose.
func (a *Arm) GoToPoseRelative(ctx context.Context, pose ArmPose, opts GoalOptions) (GoalStatus, error) {
	return a.sendGoal(ctx, GoToPoseRelativeAction, "GoToPoseRelative", pose, opts)
}

func (a *Arm) sendGoal(ctx context.Context, action, typeName string, goal any, opts GoalOptions) (GoalStatus, error) {
	t, err := a.tr.connected()
	if err != nil {
		return "", err
	}
	actionType := moveItInterface + "/" + typeName

	call := func(ctx context.Context) (GoalStatus, error) {
		ctx, cancel := withGoalTimeout(ctx, opts)
		defer cancel()
		res, err := t.CallAction(ctx, action, actionType, goal, opts.Feedback)
		status := goalStatus(res, err)
		if err != nil {
			return status, fmt.Errorf("arm %s: %w", action, err)
		}
		a.logger.Info("arm goal finished", "action", action, "status", status)
		return status, nil
	}

	if opts.NonBlocking {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if _, err := call(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("arm goal failed", "action", action, "error", err)
			}
		}()
		return StatusInProgress, nil
	}
	return call(ctx)
}
