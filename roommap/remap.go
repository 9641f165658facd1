package roommap

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/kwv/roomdash/logger"
)

// RemapPhase is the state of the remap workflow.
type RemapPhase string

const (
	RemapIdle     RemapPhase = "idle"
	RemapMapping  RemapPhase = "mapping"
	RemapComplete RemapPhase = "complete"
)

const (
	// DefaultRemapTick is the progress timer period while mapping.
	DefaultRemapTick = 200 * time.Millisecond
	// DefaultRemapProcessing is the pause between 100% and completion.
	DefaultRemapProcessing = time.Second
	// DefaultRemapDisplay is how long the complete phase is shown before idle.
	DefaultRemapDisplay = 2 * time.Second
)

// ErrRemapInProgress is returned when cancelling while mapping.
var ErrRemapInProgress = errors.New("remap in progress; cancel is not allowed while mapping")

// RemapSession is the transient state of a remap.
type RemapSession struct {
	Phase    RemapPhase `json:"phase"`
	Progress float64    `json:"progress"`
}

// ProgressSource yields the next mapping progress given the current one.
// The default adds a random 2-7 points per tick; a robot integration would
// return the robot's reported progress instead.
type ProgressSource interface {
	NextProgress(current float64) float64
}

// ProgressFunc adapts a function to ProgressSource.
type ProgressFunc func(current float64) float64

// NextProgress calls f.
func (f ProgressFunc) NextProgress(current float64) float64 {
	return f(current)
}

type randomProgress struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomProgress returns the simulated progress source (+2..+7 per tick).
func NewRandomProgress(seed int64) ProgressSource {
	return &randomProgress{rng: rand.New(rand.NewSource(seed))}
}

func (r *randomProgress) NextProgress(current float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return current + float64(2+r.rng.Intn(6))
}

// RemapOption configures a RemapController.
type RemapOption func(*RemapController)

// WithRemapTiming overrides the tick, processing and display durations.
// Non-positive values keep the default.
func WithRemapTiming(tick, processing, display time.Duration) RemapOption {
	return func(c *RemapController) {
		if tick > 0 {
			c.tick = tick
		}
		if processing > 0 {
			c.processing = processing
		}
		if display > 0 {
			c.display = display
		}
	}
}

// WithProgressSource replaces the simulated progress source.
func WithProgressSource(src ProgressSource) RemapOption {
	return func(c *RemapController) {
		c.source = src
	}
}

// WithRemapListener registers a callback invoked after every state change.
func WithRemapListener(fn func(RemapSession)) RemapOption {
	return func(c *RemapController) {
		c.listener = fn
	}
}

// RemapController drives idle -> mapping -> complete -> idle. On reaching
// complete it calls onComplete exactly once for that run.
type RemapController struct {
	tick       time.Duration
	processing time.Duration
	display    time.Duration
	source     ProgressSource
	listener   func(RemapSession)
	onComplete func()

	mu       sync.Mutex
	phase    RemapPhase
	progress float64
	gen      uint64
	cancel   context.CancelFunc
}

// NewRemapController creates an idle controller. onComplete typically
// resets the live map (LiveEngine.ResetForRemap).
func NewRemapController(onComplete func(), opts ...RemapOption) *RemapController {
	c := &RemapController{
		tick:       DefaultRemapTick,
		processing: DefaultRemapProcessing,
		display:    DefaultRemapDisplay,
		source:     NewRandomProgress(time.Now().UnixNano()),
		onComplete: onComplete,
		phase:      RemapIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current phase and progress.
func (c *RemapController) Session() RemapSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionLocked()
}

func (c *RemapController) sessionLocked() RemapSession {
	return RemapSession{Phase: c.phase, Progress: c.progress}
}

// Start begins mapping. It returns false, and schedules nothing, when a
// remap is already mapping.
func (c *RemapController) Start() bool {
	c.mu.Lock()
	if c.phase == RemapMapping {
		c.mu.Unlock()
		return false
	}
	c.stopLocked()
	c.phase = RemapMapping
	c.progress = 0
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx, c.gen)
	s := c.sessionLocked()
	c.mu.Unlock()

	logger.Log.Info("remap started")
	c.notify(s)
	return true
}

// Cancel returns to idle from idle or complete. It is rejected while mapping.
func (c *RemapController) Cancel() error {
	c.mu.Lock()
	if c.phase == RemapMapping {
		c.mu.Unlock()
		return ErrRemapInProgress
	}
	c.stopLocked()
	c.phase = RemapIdle
	c.progress = 0
	s := c.sessionLocked()
	c.mu.Unlock()

	c.notify(s)
	return nil
}

// Close tears down every pending timer in any phase. Nothing scheduled
// before Close will run afterwards.
func (c *RemapController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.phase = RemapIdle
	c.progress = 0
}

func (c *RemapController) stopLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *RemapController) notify(s RemapSession) {
	if c.listener != nil {
		c.listener(s)
	}
}

func (c *RemapController) run(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.tick)
	for done := false; !done; {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			done = c.advance(gen)
		}
	}
	ticker.Stop()

	if !sleepCtx(ctx, c.processing) || !c.complete(gen) {
		return
	}
	if !sleepCtx(ctx, c.display) {
		return
	}
	c.finish(gen)
}

// advance applies one progress tick and reports whether 100 was reached.
func (c *RemapController) advance(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.phase != RemapMapping {
		c.mu.Unlock()
		return true
	}
	next := c.source.NextProgress(c.progress)
	c.progress = clampProgress(max(c.progress, next))
	s := c.sessionLocked()
	c.mu.Unlock()

	c.notify(s)
	return s.Progress >= MaxProgress
}

// complete switches to the complete phase and resets the map. The reset
// runs under the controller lock so a concurrent Close cannot interleave.
func (c *RemapController) complete(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.phase != RemapMapping {
		c.mu.Unlock()
		return false
	}
	c.phase = RemapComplete
	if c.onComplete != nil {
		c.onComplete()
	}
	s := c.sessionLocked()
	c.mu.Unlock()

	logger.Log.Info("remap complete, map reset")
	c.notify(s)
	return true
}

func (c *RemapController) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.phase != RemapComplete {
		c.mu.Unlock()
		return
	}
	c.phase = RemapIdle
	c.progress = 0
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	s := c.sessionLocked()
	c.mu.Unlock()

	c.notify(s)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
