package robot

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
)

// Velocity limits applied to every command.
const (
	MaxLinearSpeed  = 1.0 // m/s
	MaxAngularSpeed = 2.0 // rad/s
)

// Dead-zone below which a target is treated as zero.
const deadZone = 1e-3

// VelocityCommander is the interface needed by VelocityController.
type VelocityCommander interface {
	SetVelocity(linear, angular r3.Vector) error
}

// ControllerStats are counters of a VelocityController.
type ControllerStats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
	Errors  uint64 `json:"errors"`
}

// VelocityController streams a velocity target at a fixed rate.
//
// A target not refreshed within the dead-man timeout is zeroed, so the
// robot halts if the caller stalls. Once a zero command has been sent,
// further zero ticks are skipped.
type VelocityController struct {
	nav     VelocityCommander
	logger  *slog.Logger
	rate    time.Duration
	deadman time.Duration

	mu            sync.Mutex
	linear        r3.Vector
	angular       r3.Vector
	updated       time.Time
	sentZero      bool
	lastErrorTime time.Time

	tickCount    atomic.Uint64
	skippedTicks atomic.Uint64
	errorCount   atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewVelocityController creates a controller publishing every rate.
// deadman 0 disables the dead-man timeout.
func NewVelocityController(nav VelocityCommander, rate, deadman time.Duration, logger *slog.Logger) *VelocityController {
	if logger == nil {
		logger = slog.Default()
	}
	if rate <= 0 {
		rate = 100 * time.Millisecond
	}
	return &VelocityController{
		nav:     nav,
		logger:  logger.With("component", "velocity"),
		rate:    rate,
		deadman: deadman,
		stop:    make(chan struct{}),
	}
}

// SetTarget sets the velocity to stream, clamped to the speed limits.
func (c *VelocityController) SetTarget(linear, angular r3.Vector) {
	c.mu.Lock()
	c.linear = clampVector(linear, MaxLinearSpeed)
	c.angular = clampVector(angular, MaxAngularSpeed)
	c.updated = time.Now()
	c.mu.Unlock()
}

// Target returns the current target.
func (c *VelocityController) Target() (linear, angular r3.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linear, c.angular
}

// Halt zeroes the target. The zero command goes out on the next tick.
func (c *VelocityController) Halt() {
	c.SetTarget(r3.Vector{}, r3.Vector{})
}

// Run streams the target until ctx ends or Stop is called. A zero
// command is sent on the way out.
func (c *VelocityController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.sendZero()
			return
		case <-c.stop:
			c.sendZero()
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// Stop ends Run. It is idempotent.
func (c *VelocityController) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Stats returns the controller counters.
func (c *VelocityController) Stats() ControllerStats {
	return ControllerStats{
		Ticks:   c.tickCount.Load(),
		Skipped: c.skippedTicks.Load(),
		Errors:  c.errorCount.Load(),
	}
}

// tick sends one command.
func (c *VelocityController) tick() {
	c.tickCount.Add(1)

	c.mu.Lock()
	if c.deadman > 0 && !c.updated.IsZero() && time.Since(c.updated) > c.deadman && !isZero(c.linear, c.angular) {
		c.logger.Warn("velocity target expired, stopping", "deadman", c.deadman)
		c.linear, c.angular = r3.Vector{}, r3.Vector{}
	}
	linear, angular := c.linear, c.angular
	zero := isZero(linear, angular)
	if zero && c.sentZero {
		c.mu.Unlock()
		c.skippedTicks.Add(1)
		return
	}
	c.mu.Unlock()

	err := c.nav.SetVelocity(linear, angular)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errorCount.Add(1)
		// Log at most once per 5 seconds.
		if c.lastErrorTime.IsZero() || time.Since(c.lastErrorTime) > 5*time.Second {
			c.logger.Warn("velocity command failed", "error", err, "errors", c.errorCount.Load())
			c.lastErrorTime = time.Now()
		}
		return
	}
	c.sentZero = zero

	if n := c.tickCount.Load(); n%100 == 0 {
		c.logger.Debug("velocity controller heartbeat",
			"ticks", n, "skipped", c.skippedTicks.Load(), "errors", c.errorCount.Load())
	}
}

func (c *VelocityController) sendZero() {
	c.mu.Lock()
	c.linear, c.angular = r3.Vector{}, r3.Vector{}
	sent := c.sentZero
	c.mu.Unlock()
	if sent {
		return
	}
	if err := c.nav.SetVelocity(r3.Vector{}, r3.Vector{}); err != nil {
		c.logger.Warn("final stop command failed", "error", err)
		return
	}
	c.mu.Lock()
	c.sentZero = true
	c.mu.Unlock()
}

func isZero(linear, angular r3.Vector) bool {
	return linear.Norm() < deadZone && angular.Norm() < deadZone
}

// clampVector scales v down so its norm does not exceed max.
func clampVector(v r3.Vector, max float64) r3.Vector {
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) {
		return r3.Vector{}
	}
	if n := v.Norm(); n > max {
		return v.Mul(max / n)
	}
	return v
}
