package roommap

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionLog struct {
	mu   sync.Mutex
	seen []RemapSession
}

func (l *sessionLog) add(s RemapSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, s)
}

func (l *sessionLog) phases() []RemapPhase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []RemapPhase
	for _, s := range l.seen {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func step(n float64) ProgressSource {
	return ProgressFunc(func(current float64) float64 { return current + n })
}

func TestRemapFullCycle(t *testing.T) {
	var completed atomic.Int32
	log := &sessionLog{}
	c := NewRemapController(func() { completed.Add(1) },
		WithRemapTiming(time.Millisecond, 5*time.Millisecond, 5*time.Millisecond),
		WithProgressSource(step(25)),
		WithRemapListener(log.add),
	)
	defer c.Close()

	require.True(t, c.Start())
	assert.Equal(t, RemapMapping, c.Session().Phase)

	require.Eventually(t, func() bool {
		return c.Session().Phase == RemapIdle
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, int32(1), completed.Load())
	assert.Equal(t, []RemapPhase{RemapMapping, RemapComplete, RemapIdle}, log.phases())
	assert.Zero(t, c.Session().Progress)
}

func TestRemapProgressIsMonotonicAndClamped(t *testing.T) {
	log := &sessionLog{}
	// Source that overshoots and also tries to go backwards.
	values := []float64{30, 10, 70, 250}
	var i atomic.Int32
	src := ProgressFunc(func(float64) float64 {
		n := int(i.Add(1)) - 1
		if n >= len(values) {
			return 100
		}
		return values[n]
	})

	c := NewRemapController(nil,
		WithRemapTiming(time.Millisecond, time.Hour, time.Hour),
		WithProgressSource(src),
		WithRemapListener(log.add),
	)
	defer c.Close()
	c.Start()

	require.Eventually(t, func() bool {
		return c.Session().Progress == MaxProgress
	}, 2*time.Second, time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	prev := 0.0
	for _, s := range log.seen {
		assert.GreaterOrEqual(t, s.Progress, prev)
		assert.LessOrEqual(t, s.Progress, MaxProgress)
		prev = s.Progress
	}
}

func TestRemapStartWhileMapping(t *testing.T) {
	c := NewRemapController(nil, WithRemapTiming(time.Hour, time.Hour, time.Hour))
	defer c.Close()

	assert.True(t, c.Start())
	assert.False(t, c.Start())
	assert.Equal(t, RemapMapping, c.Session().Phase)
}

func TestWithRemapTimingIgnoresNonPositive(t *testing.T) {
	c := NewRemapController(nil, WithRemapTiming(0, -time.Second, 0))
	defer c.Close()

	assert.Equal(t, DefaultRemapTick, c.tick)
	assert.Equal(t, DefaultRemapProcessing, c.processing)
	assert.Equal(t, DefaultRemapDisplay, c.display)

	assert.True(t, c.Start())
	assert.Equal(t, RemapMapping, c.Session().Phase)
}

func TestRemapCancel(t *testing.T) {
	c := NewRemapController(nil, WithRemapTiming(time.Hour, time.Hour, time.Hour))
	defer c.Close()

	assert.NoError(t, c.Cancel(), "cancel from idle")

	c.Start()
	assert.ErrorIs(t, c.Cancel(), ErrRemapInProgress)
	assert.Equal(t, RemapMapping, c.Session().Phase)
}

func TestRemapCancelFromComplete(t *testing.T) {
	var completed atomic.Int32
	c := NewRemapController(func() { completed.Add(1) },
		WithRemapTiming(time.Millisecond, time.Millisecond, time.Hour),
		WithProgressSource(step(50)),
	)
	defer c.Close()
	c.Start()

	require.Eventually(t, func() bool {
		return c.Session().Phase == RemapComplete
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, c.Cancel())
	assert.Equal(t, RemapSession{Phase: RemapIdle}, c.Session())
	assert.Equal(t, int32(1), completed.Load())
}

func TestRemapCloseStopsPendingWork(t *testing.T) {
	var completed atomic.Int32
	c := NewRemapController(func() { completed.Add(1) },
		WithRemapTiming(time.Millisecond, 20*time.Millisecond, time.Hour),
		WithProgressSource(step(100)),
	)
	c.Start()

	require.Eventually(t, func() bool {
		return c.Session().Progress == MaxProgress
	}, 2*time.Second, time.Millisecond)
	c.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, completed.Load(), "completion must not fire after Close")
	assert.Equal(t, RemapIdle, c.Session().Phase)
}

func TestRandomProgressStep(t *testing.T) {
	src := NewRandomProgress(42)
	cur := 0.0
	for i := 0; i < 50; i++ {
		next := src.NextProgress(cur)
		d := next - cur
		if d < 2 || d > 7 {
			t.Fatalf("step %d: delta %v out of [2,7]", i, d)
		}
		cur = next
	}
}
