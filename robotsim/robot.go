// Package robotsim is a stand-in for the robot's HTTP API. It answers the
// same motor and toggle routes as the hardware server and adds /state, so
// the dashboard can run end to end without a robot.
package robotsim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/kwv/roomdash/roommap"
)

const (
	DefaultStep    = 5.0
	DefaultLaneGap = 10.0
	DefaultTurn    = 90.0

	batteryDrain  = 0.1
	batteryCharge = 1.0
)

// Option configures a Robot.
type Option func(*Robot)

// WithBounds limits movement to the rectangle lo..hi. The autopilot sweeps
// this rectangle lane by lane.
func WithBounds(lo, hi roommap.Point) Option {
	return func(r *Robot) {
		r.lo, r.hi = lo, hi
	}
}

// WithDock sets the charger position; the robot starts there.
func WithDock(p roommap.Point) Option {
	return func(r *Robot) {
		r.dock = p
	}
}

// WithStep sets the distance covered per move or autopilot step.
func WithStep(d float64) Option {
	return func(r *Robot) {
		if d > 0 {
			r.step = d
		}
	}
}

// Robot holds simulated robot state. All methods are safe for concurrent use.
type Robot struct {
	mu        sync.Mutex
	lo, hi    roommap.Point
	dock      roommap.Point
	step      float64
	laneGap   float64
	status    roommap.RobotStatus
	pos       roommap.RobotPosition
	battery   roommap.Battery
	functions map[roommap.Function]bool
	sweepDir  float64
}

// NewRobot returns a docked robot. The defaults match the demo apartment.
func NewRobot(opts ...Option) *Robot {
	r := &Robot{
		lo:        roommap.Point{X: 55, Y: 55},
		hi:        roommap.Point{X: 375, Y: 275},
		dock:      roommap.Point{X: 60, Y: 270},
		step:      DefaultStep,
		laneGap:   DefaultLaneGap,
		status:    roommap.StatusDocked,
		battery:   roommap.Battery{Level: 100, Charging: true},
		functions: make(map[roommap.Function]bool),
		sweepDir:  1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pos = roommap.RobotPosition{X: r.dock.X, Y: r.dock.Y}
	return r
}

// Telemetry returns the current state in the /state wire shape.
func (r *Robot) Telemetry() roommap.Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return roommap.Telemetry{Status: r.status, Position: r.pos, Battery: r.battery}
}

// Functions reports which actuators are on.
func (r *Robot) Functions() map[roommap.Function]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[roommap.Function]bool, len(r.functions))
	for k, v := range r.functions {
		out[k] = v
	}
	return out
}

// SetStatus changes the robot status. Starting a clean from the dock
// begins the sweep at the top-left corner of the bounds.
func (r *Robot) SetStatus(s roommap.RobotStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == roommap.StatusCleaning && r.status == roommap.StatusDocked {
		r.pos = roommap.RobotPosition{X: r.lo.X, Y: r.lo.Y}
		r.sweepDir = 1
	}
	r.status = s
	r.battery.Charging = s == roommap.StatusDocked
}

// Move applies one manual motor command. Left and right turn in place.
func (r *Robot) Move(d roommap.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch d {
	case roommap.MoveForward:
		r.forwardLocked(r.step)
	case roommap.MoveBackward:
		r.forwardLocked(-r.step)
	case roommap.MoveLeft:
		r.pos.Rotation = roommap.NormalizeAngle(r.pos.Rotation - DefaultTurn)
	case roommap.MoveRight:
		r.pos.Rotation = roommap.NormalizeAngle(r.pos.Rotation + DefaultTurn)
	}
}

// Toggle flips an actuator and returns its new state.
func (r *Robot) Toggle(f roommap.Function) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[f] = !r.functions[f]
	return r.functions[f]
}

func (r *Robot) forwardLocked(d float64) {
	rad := r.pos.Rotation * math.Pi / 180
	r.pos.X = clamp(r.pos.X+d*math.Cos(rad), r.lo.X, r.hi.X)
	r.pos.Y = clamp(r.pos.Y+d*math.Sin(rad), r.lo.Y, r.hi.Y)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// Advance runs one autopilot step. Cleaning sweeps the bounds lane by lane
// and switches to returning after the last lane; returning heads for the
// dock and docks on arrival; docked charges.
func (r *Robot) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case roommap.StatusCleaning:
		r.battery.Level = max(0, r.battery.Level-batteryDrain)
		r.sweepLocked()
	case roommap.StatusReturning:
		r.battery.Level = max(0, r.battery.Level-batteryDrain)
		r.returnLocked()
	case roommap.StatusDocked:
		r.battery.Level = min(100, r.battery.Level+batteryCharge)
	}
}

func (r *Robot) sweepLocked() {
	next := r.pos.X + r.sweepDir*r.step
	if next >= r.lo.X && next <= r.hi.X {
		r.pos.X = next
		r.pos.Rotation = 90 - 90*r.sweepDir
		return
	}
	// End of lane.
	r.sweepDir = -r.sweepDir
	if r.pos.Y+r.laneGap > r.hi.Y {
		r.status = roommap.StatusReturning
		return
	}
	r.pos.Y += r.laneGap
	r.pos.Rotation = 90
}

func (r *Robot) returnLocked() {
	here := r.pos.Point()
	dist := roommap.Distance(here, r.dock)
	if dist <= r.step {
		r.pos.X, r.pos.Y = r.dock.X, r.dock.Y
		r.status = roommap.StatusDocked
		r.battery.Charging = true
		return
	}
	dx, dy := r.dock.X-here.X, r.dock.Y-here.Y
	r.pos.X += dx / dist * r.step
	r.pos.Y += dy / dist * r.step
	r.pos.Rotation = roommap.NormalizeAngle(math.Atan2(dy, dx) * 180 / math.Pi)
}

// Run advances the autopilot every interval until ctx is done.
func (r *Robot) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Advance()
		}
	}
}
