package zenohclient

import (
	"fmt"
	"strings"
)

// Camera key names published by the robot's camera node.
const (
	CameraHead  = "head"
	CameraLeft  = "left"
	CameraRight = "right"
)

// cameraKeyBase is the key under which camera frames are published.
const cameraKeyBase = "walkie/camera"

// Topics is a helper to build fully-qualified zenoh keys.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: strings.Trim(prefix, "/")}
}

// Key maps a ROS topic name to a zenoh key. The DDS bridge drops the
// leading slash; the optional prefix is prepended.
func (t *Topics) Key(topic string) string {
	key := strings.Trim(topic, "/")
	if t.prefix == "" {
		return key
	}
	if key == "" {
		return t.prefix
	}
	return t.prefix + "/" + key
}

// Camera returns the key for a named camera stream.
func (t *Topics) Camera(name string) string {
	return t.Key(fmt.Sprintf("%s/%s", cameraKeyBase, name))
}
