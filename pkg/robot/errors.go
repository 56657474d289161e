package robot

import (
	"errors"

	"github.com/teslashibe/go-walkie/pkg/transport"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned by commands issued before Connect or
	// after the connection dropped. It is transport.ErrNotConnected.
	ErrNotConnected = transport.ErrNotConnected

	// ErrTimeout is wrapped by goals whose timeout expired. It is
	// transport.ErrTimeout.
	ErrTimeout = transport.ErrTimeout

	// ErrNoCamera is returned when the camera is disabled or failed to connect.
	ErrNoCamera = errors.New("robot: camera not available")
)
