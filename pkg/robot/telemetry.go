package robot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-walkie/pkg/msgs"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

// OdomTopic is the odometry topic, before namespacing.
const OdomTopic = "omni_wheel_drive_controller/odom"

// odomThrottle caps odometry delivery at 10 Hz.
const odomThrottle = 100 * time.Millisecond

// Pose is the robot's planar pose: metres in the odometry frame and a
// heading in radians.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Velocity is the robot's forward speed in m/s and turn rate in rad/s.
type Velocity struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// odomWire decodes the parts of an Odometry message used for pose and
// velocity. Pointers distinguish missing fields from zeros.
type odomWire struct {
	Pose *struct {
		Pose *struct {
			Position    *msgs.Point      `json:"position"`
			Orientation *msgs.Quaternion `json:"orientation"`
		} `json:"pose"`
	} `json:"pose"`
	Twist *struct {
		Twist *struct {
			Linear  *msgs.Vector3 `json:"linear"`
			Angular *msgs.Vector3 `json:"angular"`
		} `json:"twist"`
	} `json:"twist"`
}

// Telemetry caches the latest odometry.
type Telemetry struct {
	tr     transportFunc
	logger *slog.Logger

	mu         sync.RWMutex
	namespace  string
	sub        *transport.Subscription
	subOn      transport.Transport
	pose       *Pose
	velocity   *Velocity
	raw        json.RawMessage
	lastUpdate time.Time

	listeners []func(Pose, Velocity)
}

// NewTelemetry creates a telemetry reader on t.
func NewTelemetry(t transport.Transport, namespace string, logger *slog.Logger) *Telemetry {
	return newTelemetry(fixedTransport(t), namespace, logger)
}

func newTelemetry(tr transportFunc, namespace string, logger *slog.Logger) *Telemetry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telemetry{
		tr:        tr,
		logger:    logger.With("component", "telemetry"),
		namespace: namespace,
	}
}

// Topic returns the namespaced odometry topic.
func (t *Telemetry) Topic() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return transport.ApplyNamespace(OdomTopic, t.namespace)
}

// Start subscribes to odometry. It does nothing when already started
// or when the transport is not connected.
func (t *Telemetry) Start() error {
	tr := t.tr()
	if tr == nil || !tr.IsConnected() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		return nil
	}

	topic := transport.ApplyNamespace(OdomTopic, t.namespace)
	sub, err := tr.Subscribe(topic, msgs.TypeOdometry, t.handle, transport.SubscribeOptions{
		ThrottleRate: odomThrottle,
		QueueSize:    1,
	})
	if err != nil {
		return fmt.Errorf("subscribe to odometry: %w", err)
	}
	t.sub = sub
	t.subOn = tr
	t.logger.Info("subscribed to odometry", "topic", topic)
	return nil
}

// Stop ends the odometry subscription. Cached values are kept.
func (t *Telemetry) Stop() error {
	t.mu.Lock()
	sub, tr := t.sub, t.subOn
	t.sub, t.subOn = nil, nil
	t.mu.Unlock()

	if sub == nil {
		return nil
	}
	return tr.Unsubscribe(sub)
}

// SetNamespace changes the odometry topic, resubscribing if started.
func (t *Telemetry) SetNamespace(ns string) error {
	t.mu.Lock()
	changed := t.namespace != ns
	t.namespace = ns
	started := t.sub != nil
	t.mu.Unlock()

	if !changed || !started {
		return nil
	}
	if err := t.Stop(); err != nil {
		t.logger.Warn("unsubscribe from odometry failed", "error", err)
	}
	return t.Start()
}

// OnUpdate registers fn to run after each odometry message that carried
// a pose. Registration is permanent.
func (t *Telemetry) OnUpdate(fn func(Pose, Velocity)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Telemetry) handle(msg json.RawMessage) {
	var wire odomWire
	if err := json.Unmarshal(msg, &wire); err != nil {
		t.logger.Debug("malformed odometry", "error", err)
		return
	}

	t.mu.Lock()
	t.raw = append(json.RawMessage(nil), msg...)
	t.lastUpdate = time.Now()
	if p := wire.Pose; p != nil && p.Pose != nil && p.Pose.Position != nil && p.Pose.Orientation != nil {
		t.pose = &Pose{
			X:       p.Pose.Position.X,
			Y:       p.Pose.Position.Y,
			Heading: msgs.Yaw(*p.Pose.Orientation),
		}
	}
	if tw := wire.Twist; tw != nil && tw.Twist != nil && tw.Twist.Linear != nil && tw.Twist.Angular != nil {
		t.velocity = &Velocity{Linear: tw.Twist.Linear.X, Angular: tw.Twist.Angular.Z}
	}
	var pose Pose
	var vel Velocity
	if t.pose != nil {
		pose = *t.pose
	}
	if t.velocity != nil {
		vel = *t.velocity
	}
	notify := t.pose != nil
	listeners := t.listeners
	t.mu.Unlock()

	if notify {
		for _, fn := range listeners {
			fn(pose, vel)
		}
	}
}

// Pose returns the latest pose. ok is false before the first message.
func (t *Telemetry) Pose() (pose Pose, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.pose == nil {
		return Pose{}, false
	}
	return *t.pose, true
}

// Velocity returns the latest velocity. ok is false before the first message.
func (t *Telemetry) Velocity() (vel Velocity, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.velocity == nil {
		return Velocity{}, false
	}
	return *t.velocity, true
}

// RawOdometry returns a copy of the latest odometry message, or nil.
func (t *Telemetry) RawOdometry() json.RawMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), t.raw...)
}

// Odometry decodes the latest odometry message.
func (t *Telemetry) Odometry() (*msgs.Odometry, error) {
	raw := t.RawOdometry()
	if raw == nil {
		return nil, fmt.Errorf("telemetry: no odometry received")
	}
	var odom msgs.Odometry
	if err := json.Unmarshal(raw, &odom); err != nil {
		return nil, fmt.Errorf("telemetry: decode odometry: %w", err)
	}
	return &odom, nil
}

// HasData reports whether a pose has been received.
func (t *Telemetry) HasData() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pose != nil
}

// LastUpdate returns when the last odometry message arrived.
func (t *Telemetry) LastUpdate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}
