package robot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// recordingCommander records every velocity command.
type recordingCommander struct {
	mu    sync.Mutex
	calls [][2]r3.Vector
	err   error
}

func (c *recordingCommander) SetVelocity(linear, angular r3.Vector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, [2]r3.Vector{linear, angular})
	return nil
}

func (c *recordingCommander) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *recordingCommander) last() (linear, angular r3.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return r3.Vector{}, r3.Vector{}
	}
	l := c.calls[len(c.calls)-1]
	return l[0], l[1]
}

func TestClampVector(t *testing.T) {
	tests := []struct {
		name string
		in   r3.Vector
		max  float64
		want float64
	}{
		{"within limit", r3.Vector{X: 0.5}, 1, 0.5},
		{"scaled down", r3.Vector{X: 3, Y: 4}, 1, 1},
		{"zero", r3.Vector{}, 1, 0},
		{"nan", r3.Vector{X: math.NaN()}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampVector(tt.in, tt.max)
			if !floatEquals(got.Norm(), tt.want) {
				t.Errorf("clampVector(%v, %v) norm = %v, want %v", tt.in, tt.max, got.Norm(), tt.want)
			}
		})
	}

	// Direction is kept when scaling.
	got := clampVector(r3.Vector{X: 3, Y: 4}, 1)
	if !floatEquals(got.X, 0.6) || !floatEquals(got.Y, 0.8) {
		t.Errorf("clampVector direction = %v, want (0.6, 0.8)", got)
	}
}

func TestVelocityController_SetTargetClamps(t *testing.T) {
	ctrl := NewVelocityController(&recordingCommander{}, 10*time.Millisecond, 0, nil)

	ctrl.SetTarget(r3.Vector{X: 5}, r3.Vector{Z: -10})
	linear, angular := ctrl.Target()
	if !floatEquals(linear.X, MaxLinearSpeed) {
		t.Errorf("linear.X = %v, want %v", linear.X, MaxLinearSpeed)
	}
	if !floatEquals(angular.Z, -MaxAngularSpeed) {
		t.Errorf("angular.Z = %v, want %v", angular.Z, -MaxAngularSpeed)
	}
}

func TestVelocityController_TickSendsTarget(t *testing.T) {
	nav := &recordingCommander{}
	ctrl := NewVelocityController(nav, 10*time.Millisecond, 0, nil)

	ctrl.SetTarget(r3.Vector{X: 0.3}, r3.Vector{Z: 0.5})
	ctrl.tick()

	linear, angular := nav.last()
	if !floatEquals(linear.X, 0.3) || !floatEquals(angular.Z, 0.5) {
		t.Errorf("sent (%v, %v), want linear.X 0.3 and angular.Z 0.5", linear, angular)
	}
}

func TestVelocityController_SkipsRepeatedZero(t *testing.T) {
	nav := &recordingCommander{}
	ctrl := NewVelocityController(nav, 10*time.Millisecond, 0, nil)

	// The first zero goes out, later ones are skipped.
	for i := 0; i < 5; i++ {
		ctrl.tick()
	}
	if got := nav.count(); got != 1 {
		t.Errorf("commands = %d, want 1", got)
	}
	stats := ctrl.Stats()
	if stats.Ticks != 5 || stats.Skipped != 4 {
		t.Errorf("stats = %+v, want 5 ticks and 4 skipped", stats)
	}

	// A non-zero target is sent on every tick.
	ctrl.SetTarget(r3.Vector{X: 0.2}, r3.Vector{})
	ctrl.tick()
	ctrl.tick()
	if got := nav.count(); got != 3 {
		t.Errorf("commands = %d, want 3", got)
	}
}

func TestVelocityController_Deadman(t *testing.T) {
	nav := &recordingCommander{}
	ctrl := NewVelocityController(nav, 10*time.Millisecond, 20*time.Millisecond, nil)

	ctrl.SetTarget(r3.Vector{X: 0.5}, r3.Vector{})
	ctrl.tick()
	if l, _ := nav.last(); !floatEquals(l.X, 0.5) {
		t.Fatalf("first command linear.X = %v, want 0.5", l.X)
	}

	time.Sleep(40 * time.Millisecond)
	ctrl.tick()

	linear, angular := nav.last()
	if !isZero(linear, angular) {
		t.Errorf("after dead-man timeout sent (%v, %v), want zero", linear, angular)
	}
	if l, _ := ctrl.Target(); l.X != 0 {
		t.Errorf("target linear.X = %v, want 0", l.X)
	}
}

func TestVelocityController_CountsErrors(t *testing.T) {
	nav := &recordingCommander{err: errors.New("not connected")}
	ctrl := NewVelocityController(nav, 10*time.Millisecond, 0, nil)

	ctrl.SetTarget(r3.Vector{X: 0.1}, r3.Vector{})
	ctrl.tick()
	ctrl.tick()

	if got := ctrl.Stats().Errors; got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
}

func TestVelocityController_RunStop(t *testing.T) {
	nav := &recordingCommander{}
	ctrl := NewVelocityController(nav, 5*time.Millisecond, 0, nil)
	ctrl.SetTarget(r3.Vector{X: 0.2}, r3.Vector{})

	done := make(chan struct{})
	go func() {
		ctrl.Run(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	ctrl.Stop()
	ctrl.Stop()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("controller did not stop within timeout")
	}

	if got := nav.count(); got < 5 {
		t.Errorf("expected at least 5 commands, got %d", got)
	}
	// The last command halts the robot.
	if l, a := nav.last(); !isZero(l, a) {
		t.Errorf("last command (%v, %v), want zero", l, a)
	}
}

func TestVelocityController_RunContextCancel(t *testing.T) {
	nav := &recordingCommander{}
	ctrl := NewVelocityController(nav, 5*time.Millisecond, 0, nil)
	ctrl.SetTarget(r3.Vector{}, r3.Vector{Z: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("controller did not stop on context cancel")
	}
	if l, a := nav.last(); !isZero(l, a) {
		t.Errorf("last command (%v, %v), want zero", l, a)
	}
}

func TestVelocityController_ConcurrentTargets(t *testing.T) {
	ctrl := NewVelocityController(&recordingCommander{}, time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ctrl.SetTarget(r3.Vector{X: v}, r3.Vector{})
				_, _ = ctrl.Target()
			}
		}(float64(i) * 0.05)
	}
	wg.Wait()
	cancel()
	<-done
}
