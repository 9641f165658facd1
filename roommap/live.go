package roommap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kwv/roomdash/logger"
)

const (
	// DefaultPollInterval is the live engine tick period while the robot is active.
	DefaultPollInterval = time.Second

	// DefaultStaleThreshold is how many consecutive failed ticks are tolerated
	// before the stale handler fires.
	DefaultStaleThreshold = 5

	// PathSampleDistance is the minimum travel (map units) for a new path point
	// when the action is unchanged.
	PathSampleDistance = 0.5

	// MaxPathPoints caps the trail; the oldest points are evicted first.
	MaxPathPoints = 1000

	// StaleRunGap is the idle gap after which a restart begins a new run.
	StaleRunGap = 5 * time.Minute

	// InitialAreaProgress is applied when the robot first enters an uncleaned area.
	InitialAreaProgress = 10.0

	// AreaProgressStep is applied on every later tick spent inside a cleaning area.
	AreaProgressStep = 5.0
)

var (
	// ErrTelemetryUnavailable wraps telemetry fetch failures; the tick is skipped.
	ErrTelemetryUnavailable = errors.New("telemetry unavailable")
	// ErrEngineIdle is returned by Tick when the robot is not active.
	ErrEngineIdle = errors.New("live engine is idle")
)

// TelemetrySource is the pull-based robot state feed.
type TelemetrySource interface {
	Fetch(ctx context.Context) (Telemetry, error)
}

// TelemetryFunc adapts a function to TelemetrySource.
type TelemetryFunc func(ctx context.Context) (Telemetry, error)

// Fetch calls f.
func (f TelemetryFunc) Fetch(ctx context.Context) (Telemetry, error) {
	return f(ctx)
}

// Snapshot is one published state: the map and the path from the same tick.
// Path is the same slice as Map.CleaningPath. Consumers must treat both as
// read-only.
type Snapshot struct {
	Seq   uint64          `json:"seq"`
	Map   EnhancedRoomMap `json:"map"`
	Path  []PathPoint     `json:"path"`
	Robot Telemetry       `json:"robot"`
}

// SessionSummary describes one Active -> Idle cleaning run.
type SessionSummary struct {
	ID           string    `json:"id"`
	MapID        string    `json:"mapId"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
	EndStatus    string    `json:"endStatus"`
	Ticks        int       `json:"ticks"`
	PathLength   float64   `json:"pathLength"`
	AreasCleaned int       `json:"areasCleaned"`
	RoomsVisited []string  `json:"roomsVisited"`
}

// AppendPathPoint returns path with p appended unless p is within
// PathSampleDistance of the last point and the action is unchanged. The
// result holds at most MaxPathPoints entries. path itself is never modified.
func AppendPathPoint(path []PathPoint, p Point, action PathAction, now time.Time) []PathPoint {
	if n := len(path); n > 0 {
		last := path[n-1]
		if last.Action == action && Distance(last.Point(), p) <= PathSampleDistance {
			return path
		}
	}

	start := 0
	if len(path)+1 > MaxPathPoints {
		start = len(path) + 1 - MaxPathPoints
	}
	out := make([]PathPoint, 0, len(path)-start+1)
	out = append(out, path[start:]...)
	return append(out, PathPoint{X: p.X, Y: p.Y, Timestamp: now, Action: action})
}

// ContinueRun clears the path when its last point is older than StaleRunGap.
func ContinueRun(path []PathPoint, now time.Time) []PathPoint {
	if n := len(path); n > 0 && now.Sub(path[n-1].Timestamp) > StaleRunGap {
		return []PathPoint{}
	}
	return path
}

// ApplyTelemetry computes the next map from one telemetry frame: the path
// is extended, areas containing the robot advance, and pending rooms
// containing the robot become in_progress. Nothing outside the robot's
// position is touched.
func ApplyTelemetry(m EnhancedRoomMap, frame Telemetry, now time.Time) EnhancedRoomMap {
	p := frame.Position.Point()

	m.CleaningPath = AppendPathPoint(m.CleaningPath, p, frame.Status.PathAction(), now)
	m.LastUpdated = now

	for _, a := range m.Areas {
		if !IsPointInPolygon(p, a.Polygon) {
			continue
		}
		switch a.Type {
		case AreaUncleaned:
			m = AdvanceAreaCleaning(m, a.ID, InitialAreaProgress, now)
		case AreaCleaning:
			m = AdvanceAreaCleaning(m, a.ID, AreaProgressStep, now)
		}
	}

	for _, r := range m.Rooms {
		if r.CleaningStatus == CleaningPending && IsPointInPolygon(p, r.Polygon) {
			m = MarkRoomInProgress(m, r.ID, now)
		}
	}
	return m
}

// EngineOption configures a LiveEngine.
type EngineOption func(*LiveEngine)

// WithPollInterval sets the tick period while active.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *LiveEngine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithStaleThreshold sets how many consecutive failures trigger the stale handler.
func WithStaleThreshold(n int) EngineOption {
	return func(e *LiveEngine) {
		if n > 0 {
			e.staleThreshold = n
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *LiveEngine) {
		e.now = now
	}
}

// WithStaleHandler registers a callback fired once per failure streak when
// the streak reaches the stale threshold.
func WithStaleHandler(fn func(err error, consecutive int)) EngineOption {
	return func(e *LiveEngine) {
		e.onStale = fn
	}
}

// WithSessionHandler registers a callback fired after each Active -> Idle
// transition. It runs outside the engine lock.
func WithSessionHandler(fn func(SessionSummary)) EngineOption {
	return func(e *LiveEngine) {
		e.onSessionEnd = fn
	}
}

type runStats struct {
	id      string
	started time.Time
	ticks   int
	rooms   []string
}

func (r *runStats) visit(roomID string) {
	for _, id := range r.rooms {
		if id == roomID {
			return
		}
	}
	r.rooms = append(r.rooms, roomID)
}

// LiveEngine keeps the room map in step with robot telemetry. It polls only
// while the observed robot status is active, and publishes every change as
// a Snapshot to its subscribers.
type LiveEngine struct {
	source         TelemetrySource
	interval       time.Duration
	staleThreshold int
	now            func() time.Time
	onStale        func(error, int)
	onSessionEnd   func(SessionSummary)

	// tickMu serializes ticks so publication follows tick order.
	tickMu sync.Mutex

	mu       sync.Mutex
	current  EnhancedRoomMap
	robot    Telemetry
	status   RobotStatus
	active   bool
	gen      uint64
	seq      uint64
	cancel   context.CancelFunc
	failures int
	run      *runStats
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewLiveEngine creates an idle engine over the given map.
func NewLiveEngine(m EnhancedRoomMap, source TelemetrySource, opts ...EngineOption) *LiveEngine {
	e := &LiveEngine{
		source:         source,
		interval:       DefaultPollInterval,
		staleThreshold: DefaultStaleThreshold,
		now:            time.Now,
		current:        m.Clone(),
		status:         StatusIdle,
		subs:           make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ObserveStatus feeds a robot status into the engine. Entering cleaning or
// returning starts polling; any other status stops it before returning, so
// no tick scheduled earlier can apply afterwards.
func (e *LiveEngine) ObserveStatus(status RobotStatus) {
	e.mu.Lock()
	e.status = status
	var ended *SessionSummary
	switch {
	case status.IsActive() && !e.active:
		e.activateLocked()
	case !status.IsActive() && e.active:
		ended = e.deactivateLocked(status)
	}
	e.mu.Unlock()

	if ended != nil {
		e.sessionEnded(*ended)
	}
}

func (e *LiveEngine) activateLocked() {
	now := e.now()
	e.active = true
	e.gen++
	e.failures = 0

	if path := ContinueRun(e.current.CleaningPath, now); len(path) != len(e.current.CleaningPath) {
		logger.Log.WithField("lastPoint", e.current.CleaningPath[len(e.current.CleaningPath)-1].Timestamp).
			Info("previous run is stale, starting a new path")
		e.current.CleaningPath = path
		e.current.LastUpdated = now
	}
	e.run = &runStats{id: uuid.NewString(), started: now}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.loop(ctx, e.gen)

	logger.Log.WithFields(logrus.Fields{
		"status":   e.status,
		"interval": e.interval,
	}).Info("live engine active")
}

func (e *LiveEngine) deactivateLocked(status RobotStatus) *SessionSummary {
	e.active = false
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}

	logger.Log.WithField("status", status).Info("live engine idle")

	if e.run == nil {
		return nil
	}
	summary := e.summarizeLocked(status)
	e.run = nil
	return &summary
}

func (e *LiveEngine) summarizeLocked(status RobotStatus) SessionSummary {
	run := e.run
	s := SessionSummary{
		ID:           run.id,
		MapID:        e.current.ID,
		StartedAt:    run.started,
		EndedAt:      e.now(),
		EndStatus:    string(status),
		Ticks:        run.ticks,
		RoomsVisited: append([]string{}, run.rooms...),
	}

	var prev *PathPoint
	for i := range e.current.CleaningPath {
		pp := &e.current.CleaningPath[i]
		if pp.Timestamp.Before(run.started) {
			continue
		}
		if prev != nil {
			s.PathLength += Distance(prev.Point(), pp.Point())
		}
		prev = pp
	}
	for _, a := range e.current.Areas {
		if a.CleanedAt != nil && !a.CleanedAt.Before(run.started) {
			s.AreasCleaned++
		}
	}
	return s
}

func (e *LiveEngine) sessionEnded(s SessionSummary) {
	logger.Log.WithFields(logrus.Fields{
		"session":      s.ID,
		"ticks":        s.Ticks,
		"pathLength":   fmt.Sprintf("%.1f", s.PathLength),
		"areasCleaned": s.AreasCleaned,
	}).Info("cleaning run finished")
	if e.onSessionEnd != nil {
		e.onSessionEnd(s)
	}
}

func (e *LiveEngine) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.tick(ctx, gen); err != nil && !errors.Is(err, ErrTelemetryUnavailable) {
				logger.Log.WithError(err).Debug("tick skipped")
			}
		}
	}
}

// Tick runs one poll immediately, outside the ticker schedule.
func (e *LiveEngine) Tick(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return ErrEngineIdle
	}
	gen := e.gen
	e.mu.Unlock()
	return e.tick(ctx, gen)
}

func (e *LiveEngine) tick(ctx context.Context, gen uint64) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	frame, fetchErr := e.source.Fetch(ctx)

	e.mu.Lock()
	if gen != e.gen || !e.active {
		// Stopped or restarted while the fetch was in flight.
		e.mu.Unlock()
		return nil
	}

	if fetchErr != nil {
		e.failures++
		n := e.failures
		fireStale := n == e.staleThreshold
		e.mu.Unlock()

		err := fmt.Errorf("%w: %v", ErrTelemetryUnavailable, fetchErr)
		logger.Log.WithError(fetchErr).WithField("consecutive", n).Warn("telemetry fetch failed, skipping tick")
		if fireStale && e.onStale != nil {
			e.onStale(err, n)
		}
		return err
	}
	e.failures = 0
	e.robot = frame

	if !frame.Status.IsActive() {
		e.status = frame.Status
		ended := e.deactivateLocked(frame.Status)
		e.mu.Unlock()
		if ended != nil {
			e.sessionEnded(*ended)
		}
		return nil
	}

	now := e.now()
	e.current = ApplyTelemetry(e.current, frame, now)
	if e.run != nil {
		e.run.ticks++
		if room, ok := e.current.RoomAt(frame.Position.Point()); ok {
			e.run.visit(room.ID)
		}
	}
	e.publishLocked()
	e.mu.Unlock()
	return nil
}

func (e *LiveEngine) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:   e.seq,
		Map:   e.current,
		Path:  e.current.CleaningPath,
		Robot: e.robot,
	}
}

// publishLocked bumps the sequence and hands the snapshot to every
// subscriber. Channels hold one element; a slow reader loses the older
// snapshot, never the newer one.
func (e *LiveEngine) publishLocked() {
	e.seq++
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription and closes the channel. The current state is delivered first.
func (e *LiveEngine) Subscribe() (<-chan Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- e.snapshotLocked()
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs, id)
			close(ch)
		})
	}
}

// Snapshot returns a deep copy of the current state.
func (e *LiveEngine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.snapshotLocked()
	s.Map = s.Map.Clone()
	s.Path = s.Map.CleaningPath
	return s
}

// Status returns the last observed robot status.
func (e *LiveEngine) Status() RobotStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Active reports whether the engine is polling.
func (e *LiveEngine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// ResetForRemap swaps in a reset copy of the current map and publishes it.
func (e *LiveEngine) ResetForRemap() EnhancedRoomMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = ResetForRemap(e.current, e.now())
	e.publishLocked()
	return e.current.Clone()
}

// ReplaceMap validates m through NewRoomMap, installs it wholesale and
// publishes it. An invalid map leaves the current one in place.
func (e *LiveEngine) ReplaceMap(m EnhancedRoomMap) (EnhancedRoomMap, error) {
	next, err := NewRoomMap(m)
	if err != nil {
		return EnhancedRoomMap{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = next
	e.publishLocked()
	return next.Clone(), nil
}

// Close stops polling without emitting a session summary.
func (e *LiveEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.gen++
	e.run = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
