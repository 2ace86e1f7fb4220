// Package control maps keyboard input onto virtual-stick and flight commands.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yzhangec/mavic-qrscan/internal/logger"
)

// ErrUnknownKey is returned for keys with no binding.
var ErrUnknownKey = errors.New("unknown control key")

// Axes is the virtual stick state, each axis in [-MaxStick, MaxStick].
type Axes struct {
	Throttle float64 `json:"throttle"`
	Yaw      float64 `json:"yaw"`
	Pitch    float64 `json:"pitch"`
	Roll     float64 `json:"roll"`
}

// GimbalRotation is a relative gimbal move.
type GimbalRotation struct {
	Pitch    float64       `json:"pitch"` // degrees
	Duration time.Duration `json:"duration"`
}

// Controller is the aircraft SDK surface the joystick drives.
type Controller interface {
	UpdateJoystick(a Axes) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	RotateGimbal(ctx context.Context, r GimbalRotation) error
	SetObstacleAvoidance(ctx context.Context, enabled bool) error
}

// Limits bounds the stick values and sets the per-keypress step.
type Limits struct {
	MaxStick     float64
	ThrottleStep float64
	AxisStep     float64
}

// DefaultLimits matches the stock key bindings.
func DefaultLimits() Limits {
	return Limits{MaxStick: 0.5, ThrottleStep: 0.02, AxisStep: 0.05}
}

// GimbalNudge is the rotation bound to P.
var GimbalNudge = GimbalRotation{Pitch: 45, Duration: 5 * time.Second}

// Joystick holds the stick state and forwards every change to the controller.
//
// Bindings: W/S throttle, A/D yaw, I/K pitch, J/L roll. Releasing a key
// centres its axis. G takes off and H lands on release; P nudges the gimbal
// on press.
type Joystick struct {
	mu     sync.Mutex
	axes   Axes
	limits Limits
	ctrl   Controller

	// At most one background sweep runs at a time.
	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewJoystick creates a centred joystick.
func NewJoystick(ctrl Controller, limits Limits) *Joystick {
	if ctrl == nil {
		ctrl = LogController{}
	}
	return &Joystick{ctrl: ctrl, limits: limits}
}

// Prepare readies the aircraft for manual flight near the scan targets by
// switching obstacle avoidance off. Call once after the link is up.
func (j *Joystick) Prepare(ctx context.Context) error {
	if err := j.ctrl.SetObstacleAvoidance(ctx, false); err != nil {
		return fmt.Errorf("disable obstacle avoidance: %w", err)
	}
	return nil
}

// Axes returns the current stick state.
func (j *Joystick) Axes() Axes {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.axes
}

// KeyDown applies a key press.
func (j *Joystick) KeyDown(ctx context.Context, key string) (Axes, error) {
	key = strings.ToUpper(key)
	if key == "P" {
		if err := j.ctrl.RotateGimbal(ctx, GimbalNudge); err != nil {
			return j.Axes(), fmt.Errorf("rotate gimbal: %w", err)
		}
		return j.Axes(), nil
	}

	return j.update(func(a *Axes, l Limits) error {
		switch key {
		case "W":
			a.Throttle += l.ThrottleStep
		case "S":
			a.Throttle -= l.ThrottleStep
		case "A":
			a.Yaw -= l.AxisStep
		case "D":
			a.Yaw += l.AxisStep
		case "I":
			a.Pitch += l.AxisStep
		case "K":
			a.Pitch -= l.AxisStep
		case "J":
			a.Roll -= l.AxisStep
		case "L":
			a.Roll += l.AxisStep
		case "G", "H":
			// Commands fire on release.
		default:
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		return nil
	})
}

// KeyUp applies a key release.
func (j *Joystick) KeyUp(ctx context.Context, key string) (Axes, error) {
	key = strings.ToUpper(key)
	switch key {
	case "G":
		if err := j.ctrl.Takeoff(ctx); err != nil {
			return j.Axes(), fmt.Errorf("takeoff: %w", err)
		}
		return j.Axes(), nil
	case "H":
		if err := j.ctrl.Land(ctx); err != nil {
			return j.Axes(), fmt.Errorf("land: %w", err)
		}
		return j.Axes(), nil
	case "P":
		return j.Axes(), nil
	}

	return j.update(func(a *Axes, _ Limits) error {
		switch key {
		case "W", "S":
			a.Throttle = 0
		case "A", "D":
			a.Yaw = 0
		case "I", "K":
			a.Pitch = 0
		case "J", "L":
			a.Roll = 0
		default:
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		return nil
	})
}

// Stop cancels any background sweep and centres every axis.
func (j *Joystick) Stop() (Axes, error) {
	j.sweepMu.Lock()
	j.cancelSweepLocked()
	j.sweepMu.Unlock()
	return j.centre()
}

// StartSweep runs Sweep in the background, replacing any sweep already in
// progress. The returned channel is closed when the sweep has finished.
func (j *Joystick) StartSweep(ctx context.Context, hold time.Duration) <-chan struct{} {
	j.sweepMu.Lock()
	defer j.sweepMu.Unlock()
	j.cancelSweepLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	j.sweepCancel, j.sweepDone = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		if err := j.Sweep(ctx, hold); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Control", "Yaw sweep failed: %v", err)
		}
	}()
	return done
}

// cancelSweepLocked stops the background sweep and waits for it to centre the
// stick. Callers hold sweepMu.
func (j *Joystick) cancelSweepLocked() {
	if j.sweepCancel == nil {
		return
	}
	j.sweepCancel()
	<-j.sweepDone
	j.sweepCancel, j.sweepDone = nil, nil
}

func (j *Joystick) centre() (Axes, error) {
	return j.update(func(a *Axes, _ Limits) error {
		*a = Axes{}
		return nil
	})
}

// Sweep yaws fully one way for hold, then the other way for hold, then centres.
// Cancelling ctx centres the stick immediately.
func (j *Joystick) Sweep(ctx context.Context, hold time.Duration) error {
	for _, dir := range []float64{1, -1} {
		if _, err := j.update(func(a *Axes, l Limits) error {
			*a = Axes{Yaw: dir * l.MaxStick, Roll: a.Roll}
			return nil
		}); err != nil {
			return err
		}

		t := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			t.Stop()
			_, _ = j.centre()
			return ctx.Err()
		case <-t.C:
		}
	}
	_, err := j.update(func(a *Axes, _ Limits) error {
		a.Yaw = 0
		return nil
	})
	return err
}

// update mutates the axes under the lock, clamps them, and pushes the result.
func (j *Joystick) update(fn func(a *Axes, l Limits) error) (Axes, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.axes
	if err := fn(&next, j.limits); err != nil {
		return j.axes, err
	}
	m := j.limits.MaxStick
	next.Throttle = clamp(next.Throttle, m)
	next.Yaw = clamp(next.Yaw, m)
	next.Pitch = clamp(next.Pitch, m)
	next.Roll = clamp(next.Roll, m)

	if err := j.ctrl.UpdateJoystick(next); err != nil {
		return j.axes, fmt.Errorf("update joystick: %w", err)
	}
	j.axes = next
	return next, nil
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// LogController logs commands instead of flying. Used when no aircraft link is attached.
type LogController struct{}

// UpdateJoystick implements Controller.
func (LogController) UpdateJoystick(a Axes) error {
	logger.Debug("Control", "Joystick throttle=%.2f yaw=%.2f pitch=%.2f roll=%.2f", a.Throttle, a.Yaw, a.Pitch, a.Roll)
	return nil
}

// Takeoff implements Controller.
func (LogController) Takeoff(context.Context) error {
	logger.Info("Control", "Takeoff requested")
	return nil
}

// Land implements Controller.
func (LogController) Land(context.Context) error {
	logger.Info("Control", "Auto-landing requested")
	return nil
}

// RotateGimbal implements Controller.
func (LogController) RotateGimbal(_ context.Context, r GimbalRotation) error {
	logger.Info("Control", "Gimbal rotate pitch=%+.0f° over %v", r.Pitch, r.Duration)
	return nil
}

// SetObstacleAvoidance implements Controller.
func (LogController) SetObstacleAvoidance(_ context.Context, enabled bool) error {
	logger.Info("Control", "Obstacle avoidance enabled=%v", enabled)
	return nil
}
