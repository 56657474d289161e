package robot

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-walkie/pkg/msgs"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

func odometry(x, y, yaw, linear, angular float64) msgs.Odometry {
	var odom msgs.Odometry
	odom.Header.FrameID = "odom"
	odom.Pose.Pose.Position = msgs.Point{X: x, Y: y}
	odom.Pose.Pose.Orientation = msgs.EulerToQuaternion(0, 0, yaw)
	odom.Twist.Twist.Linear = msgs.Vector3{X: linear}
	odom.Twist.Twist.Angular = msgs.Vector3{Z: angular}
	return odom
}

func TestTelemetry_StartSubscribes(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "walkie1", nil)

	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}
	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Subscriptions()); got != 1 {
		t.Fatalf("subscriptions = %d, want 1", got)
	}

	opts, ok := m.SubscribeOptionsFor("walkie1/omni_wheel_drive_controller/odom")
	if !ok {
		t.Fatal("no subscription on the namespaced odometry topic")
	}
	if opts.ThrottleRate != 100*time.Millisecond || opts.QueueSize != 1 {
		t.Errorf("options = %+v, want 100ms throttle and queue 1", opts)
	}
	if sub := m.Subscriptions()[0]; sub.Type != msgs.TypeOdometry {
		t.Errorf("type = %q", sub.Type)
	}
}

func TestTelemetry_StartNotConnected(t *testing.T) {
	m := transport.NewMock()
	tel := NewTelemetry(m, "", nil)
	if err := tel.Start(); err != nil {
		t.Errorf("Start on unconnected transport = %v, want nil", err)
	}
	if tel.HasData() {
		t.Error("HasData() = true before any message")
	}
}

func TestTelemetry_PoseAndVelocity(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "", nil)
	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}

	if _, ok := tel.Pose(); ok {
		t.Error("Pose() ok before any message")
	}
	if _, ok := tel.Velocity(); ok {
		t.Error("Velocity() ok before any message")
	}

	before := time.Now()
	if n := m.Emit(OdomTopic, odometry(1, 2, math.Pi/4, 0.5, 0.1)); n != 1 {
		t.Fatalf("Emit delivered to %d subscribers", n)
	}

	pose, ok := tel.Pose()
	if !ok {
		t.Fatal("Pose() not ok after message")
	}
	if !floatEquals(pose.X, 1) || !floatEquals(pose.Y, 2) || math.Abs(pose.Heading-math.Pi/4) > 1e-9 {
		t.Errorf("pose = %+v", pose)
	}
	vel, ok := tel.Velocity()
	if !ok || !floatEquals(vel.Linear, 0.5) || !floatEquals(vel.Angular, 0.1) {
		t.Errorf("velocity = %+v, %v", vel, ok)
	}
	if !tel.HasData() {
		t.Error("HasData() = false")
	}
	if tel.LastUpdate().Before(before) {
		t.Errorf("LastUpdate() = %v, before %v", tel.LastUpdate(), before)
	}

	odom, err := tel.Odometry()
	if err != nil {
		t.Fatal(err)
	}
	if odom.Header.FrameID != "odom" {
		t.Errorf("frame_id = %q", odom.Header.FrameID)
	}
	if tel.RawOdometry() == nil {
		t.Error("RawOdometry() = nil")
	}
}

func TestTelemetry_MalformedKeepsPrevious(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "", nil)
	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}

	m.Emit(OdomTopic, odometry(3, 4, 0, 0, 0))
	m.Emit(OdomTopic, "not json")
	m.Emit(OdomTopic, `{"twist":{"twist":{"linear":{"x":1},"angular":{"z":2}}}}`)

	pose, _ := tel.Pose()
	if !floatEquals(pose.X, 3) || !floatEquals(pose.Y, 4) {
		t.Errorf("pose = %+v, want previous (3, 4)", pose)
	}
	// A message without a pose still updates velocity.
	vel, _ := tel.Velocity()
	if !floatEquals(vel.Linear, 1) || !floatEquals(vel.Angular, 2) {
		t.Errorf("velocity = %+v", vel)
	}
}

func TestTelemetry_NoOdometry(t *testing.T) {
	tel := NewTelemetry(transport.NewMock(), "", nil)
	if tel.RawOdometry() != nil {
		t.Error("RawOdometry() != nil")
	}
	if _, err := tel.Odometry(); err == nil {
		t.Error("Odometry() without data should fail")
	}
}

func TestTelemetry_OnUpdate(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "", nil)
	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []Pose
	tel.OnUpdate(func(p Pose, _ Velocity) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	m.Emit(OdomTopic, `{"twist":{"twist":{"linear":{"x":1},"angular":{"z":0}}}}`)
	m.Emit(OdomTopic, odometry(5, 6, 0, 0, 0))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(got))
	}
	if !floatEquals(got[0].X, 5) {
		t.Errorf("pose = %+v", got[0])
	}
}

func TestTelemetry_StopKeepsValues(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "", nil)
	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}
	m.Emit(OdomTopic, odometry(1, 1, 0, 0, 0))

	if err := tel.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(m.Subscriptions()) != 0 {
		t.Error("subscription still active after Stop")
	}
	if !tel.HasData() {
		t.Error("Stop dropped cached data")
	}
	if err := tel.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestTelemetry_SetNamespaceResubscribes(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "", nil)
	if err := tel.Start(); err != nil {
		t.Fatal(err)
	}

	if err := tel.SetNamespace("walkie9"); err != nil {
		t.Fatal(err)
	}
	subs := m.Subscriptions()
	if len(subs) != 1 || subs[0].Topic != "walkie9/omni_wheel_drive_controller/odom" {
		t.Errorf("subscriptions = %+v", subs)
	}
	if got := tel.Topic(); got != "walkie9/omni_wheel_drive_controller/odom" {
		t.Errorf("Topic() = %q", got)
	}
}

func TestTelemetry_SetNamespaceBeforeStart(t *testing.T) {
	m := connectedMock(t)
	tel := NewTelemetry(m, "", nil)

	if err := tel.SetNamespace("walkie9"); err != nil {
		t.Fatal(err)
	}
	if len(m.Subscriptions()) != 0 {
		t.Error("SetNamespace subscribed before Start")
	}
}
