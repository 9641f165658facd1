package robotsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/roomdash/roommap"
)

func smallRobot() *Robot {
	return NewRobot(
		WithBounds(roommap.Point{X: 0, Y: 0}, roommap.Point{X: 20, Y: 20}),
		WithDock(roommap.Point{X: 0, Y: 20}),
	)
}

func TestNewRobotDocked(t *testing.T) {
	r := NewRobot()
	tel := r.Telemetry()
	assert.Equal(t, roommap.StatusDocked, tel.Status)
	assert.Equal(t, roommap.RobotPosition{X: 60, Y: 270}, tel.Position)
	assert.Equal(t, roommap.Battery{Level: 100, Charging: true}, tel.Battery)
}

func TestRobotMove(t *testing.T) {
	r := smallRobot()
	r.SetStatus(roommap.StatusPaused)

	r.Move(roommap.MoveRight) // face +y
	assert.Equal(t, 90.0, r.Telemetry().Position.Rotation)
	r.Move(roommap.MoveLeft)
	r.Move(roommap.MoveLeft)
	assert.Equal(t, 270.0, r.Telemetry().Position.Rotation)

	r.Move(roommap.MoveRight)
	r.Move(roommap.MoveRight) // back to 90
	r.Move(roommap.MoveForward)
	pos := r.Telemetry().Position
	assert.InDelta(t, 0, pos.X, 1e-9)
	assert.InDelta(t, 20, pos.Y, 1e-9, "clamped to bounds")

	r.Move(roommap.MoveBackward)
	assert.InDelta(t, 15, r.Telemetry().Position.Y, 1e-9)

	before := r.Telemetry().Position
	r.Move(roommap.MoveStop)
	assert.Equal(t, before, r.Telemetry().Position)
}

func TestRobotWithStep(t *testing.T) {
	tests := []struct {
		name string
		step float64
		want float64
	}{
		{"custom", 2, 2},
		{"zero ignored", 0, DefaultStep},
		{"negative ignored", -3, DefaultStep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRobot(
				WithBounds(roommap.Point{X: 0, Y: 0}, roommap.Point{X: 20, Y: 20}),
				WithDock(roommap.Point{X: 0, Y: 10}),
				WithStep(tt.step),
			)
			r.Move(roommap.MoveForward)
			assert.InDelta(t, tt.want, r.Telemetry().Position.X, 1e-9)
		})
	}
}

func TestRobotToggle(t *testing.T) {
	r := NewRobot()
	assert.True(t, r.Toggle(roommap.FunctionVacuum))
	assert.False(t, r.Toggle(roommap.FunctionVacuum))
	assert.True(t, r.Toggle(roommap.FunctionPump))

	fns := r.Functions()
	assert.Equal(t, map[roommap.Function]bool{roommap.FunctionVacuum: false, roommap.FunctionPump: true}, fns)
	fns[roommap.FunctionSide] = true
	assert.NotContains(t, r.Functions(), roommap.FunctionSide, "Functions returns a copy")
}

func TestRobotSweepReturnDock(t *testing.T) {
	r := smallRobot()
	r.SetStatus(roommap.StatusCleaning)

	tel := r.Telemetry()
	assert.Equal(t, roommap.RobotPosition{}, tel.Position, "cleaning starts at the top-left corner")
	assert.False(t, tel.Battery.Charging)

	r.Advance()
	assert.Equal(t, 5.0, r.Telemetry().Position.X)

	steps := 0
	for r.Telemetry().Status == roommap.StatusCleaning {
		r.Advance()
		steps++
		pos := r.Telemetry().Position
		require.True(t, pos.X >= 0 && pos.X <= 20 && pos.Y >= 0 && pos.Y <= 20, "left bounds: %+v", pos)
		require.Less(t, steps, 100, "sweep never finished")
	}
	assert.Equal(t, roommap.StatusReturning, r.Telemetry().Status)

	for r.Telemetry().Status == roommap.StatusReturning {
		r.Advance()
		steps++
		require.Less(t, steps, 200, "never docked")
	}
	tel = r.Telemetry()
	assert.Equal(t, roommap.StatusDocked, tel.Status)
	assert.Equal(t, 0.0, tel.Position.X)
	assert.Equal(t, 20.0, tel.Position.Y)
	assert.True(t, tel.Battery.Charging)
	assert.Less(t, tel.Battery.Level, 100.0)

	level := tel.Battery.Level
	r.Advance()
	assert.InDelta(t, min(100, level+1), r.Telemetry().Battery.Level, 1e-9)
}

func TestRobotRun(t *testing.T) {
	r := smallRobot()
	r.SetStatus(roommap.StatusCleaning)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return r.Telemetry().Position.X > 0
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}
