// Package msgs defines the ROS 2 messages exchanged with Walkie.
//
// Field names follow the ROS 2 JSON encoding used by rosbridge and by
// the zenoh DDS bridge, so these structs marshal straight onto the wire.
package msgs

import "github.com/golang/geo/r3"

// ROS 2 message and action type names.
const (
	TypeOdometry       = "nav_msgs/msg/Odometry"
	TypeTwist          = "geometry_msgs/msg/Twist"
	TypeJointState     = "sensor_msgs/msg/JointState"
	TypeNavigateToPose = "nav2_msgs/action/NavigateToPose"
	TypePoseStamped    = "geometry_msgs/msg/PoseStamped"

	// FrameMap is the global frame navigation goals are expressed in.
	FrameMap = "map"
)

// Time is builtin_interfaces/Time.
type Time struct {
	Sec     int32  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

// Header is std_msgs/Header.
type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Vector3 is geometry_msgs/Vector3.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point is geometry_msgs/Point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is geometry_msgs/Pose.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// PoseStamped is geometry_msgs/PoseStamped.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// PoseWithCovariance is geometry_msgs/PoseWithCovariance.
type PoseWithCovariance struct {
	Pose       Pose      `json:"pose"`
	Covariance []float64 `json:"covariance,omitempty"`
}

// Twist is geometry_msgs/Twist.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// TwistWithCovariance is geometry_msgs/TwistWithCovariance.
type TwistWithCovariance struct {
	Twist      Twist     `json:"twist"`
	Covariance []float64 `json:"covariance,omitempty"`
}

// Odometry is nav_msgs/Odometry.
type Odometry struct {
	Header       Header              `json:"header"`
	ChildFrameID string              `json:"child_frame_id"`
	Pose         PoseWithCovariance  `json:"pose"`
	Twist        TwistWithCovariance `json:"twist"`
}

// JointState is sensor_msgs/JointState.
type JointState struct {
	Header   Header    `json:"header"`
	Name     []string  `json:"name"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
	Effort   []float64 `json:"effort"`
}

// NavigateToPoseGoal is the goal of nav2_msgs/action/NavigateToPose.
type NavigateToPoseGoal struct {
	Pose PoseStamped `json:"pose"`
}

// NewNavigateToPoseGoal builds a goal in the map frame at ground level.
// The stamp is left at zero so the navigation stack uses the latest transform.
func NewNavigateToPoseGoal(x, y, heading float64) NavigateToPoseGoal {
	return NavigateToPoseGoal{
		Pose: PoseStamped{
			Header: Header{FrameID: FrameMap},
			Pose: Pose{
				Position:    Point{X: x, Y: y},
				Orientation: EulerToQuaternion(0, 0, heading),
			},
		},
	}
}

// VectorFromR3 converts an r3 vector.
func VectorFromR3(v r3.Vector) Vector3 {
	return Vector3{X: v.X, Y: v.Y, Z: v.Z}
}

// R3 converts back to an r3 vector.
func (v Vector3) R3() r3.Vector {
	return r3.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

// TwistFromVectors builds a Twist from linear (m/s) and angular (rad/s) vectors.
func TwistFromVectors(linear, angular r3.Vector) Twist {
	return Twist{Linear: VectorFromR3(linear), Angular: VectorFromR3(angular)}
}

// IsZero reports whether every component is zero.
func (t Twist) IsZero() bool {
	return t == Twist{}
}
