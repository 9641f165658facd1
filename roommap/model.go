package roommap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidDimensions is returned when a map has a non-positive width or height.
	ErrInvalidDimensions = errors.New("map dimensions must be positive")
	// ErrDegeneratePolygon is returned for polygons with fewer than three vertices.
	ErrDegeneratePolygon = errors.New("polygon needs at least 3 vertices")
	// ErrSelfIntersecting is returned for polygons whose edges cross.
	ErrSelfIntersecting = errors.New("polygon is self-intersecting")
	// ErrDuplicateID is returned when two entities of one kind share an id.
	ErrDuplicateID = errors.New("duplicate id")
)

// MaxProgress is the cleaningProgress at which an area counts as cleaned.
const MaxProgress = 100.0

// NewRoomMap validates m and returns a normalized copy: a missing id is
// generated, nil collections become empty, uncleaned areas get zero
// progress, and a zero viewport becomes the identity transform.
func NewRoomMap(m EnhancedRoomMap) (EnhancedRoomMap, error) {
	if err := m.Validate(); err != nil {
		return EnhancedRoomMap{}, err
	}

	out := m.Clone()
	for i := range out.Areas {
		if out.Areas[i].Type == AreaUncleaned {
			out.Areas[i].CleaningProgress = 0
		}
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Viewport.Zoom == 0 {
		out.Viewport = IdentityTransform()
	}
	if out.LastUpdated.IsZero() {
		out.LastUpdated = time.Now()
	}
	return out, nil
}

// Validate checks the construction-time invariants of the aggregate.
func (m EnhancedRoomMap) Validate() error {
	if m.Dimensions.Width <= 0 || m.Dimensions.Height <= 0 {
		return fmt.Errorf("%w: got %gx%g", ErrInvalidDimensions, m.Dimensions.Width, m.Dimensions.Height)
	}

	check := func(kind string, ids map[string]bool, id string, poly Polygon) error {
		if ids[id] {
			return fmt.Errorf("%s %q: %w", kind, id, ErrDuplicateID)
		}
		ids[id] = true
		if len(poly) < 3 {
			return fmt.Errorf("%s %q: %w", kind, id, ErrDegeneratePolygon)
		}
		if poly.selfIntersects() {
			return fmt.Errorf("%s %q: %w", kind, id, ErrSelfIntersecting)
		}
		return nil
	}

	seen := make(map[string]bool)
	for _, r := range m.Rooms {
		if err := check("room", seen, r.ID, r.Polygon); err != nil {
			return err
		}
	}
	seen = make(map[string]bool)
	for _, o := range m.Obstacles {
		if err := check("obstacle", seen, o.ID, o.Polygon); err != nil {
			return err
		}
	}
	seen = make(map[string]bool)
	for _, a := range m.Areas {
		if err := check("area", seen, a.ID, a.Polygon); err != nil {
			return err
		}
		if a.CleaningProgress < 0 || a.CleaningProgress > MaxProgress {
			return fmt.Errorf("area %q: cleaningProgress %g out of range", a.ID, a.CleaningProgress)
		}
	}
	seen = make(map[string]bool)
	for _, z := range m.NoGoZones {
		if err := check("no-go zone", seen, z.ID, z.Polygon); err != nil {
			return err
		}
	}
	seen = make(map[string]bool)
	for _, z := range m.CleaningZones {
		if err := check("cleaning zone", seen, z.ID, z.Polygon); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy that shares no slices or pointers with m.
func (m EnhancedRoomMap) Clone() EnhancedRoomMap {
	out := m

	out.Rooms = make([]Room, len(m.Rooms))
	for i, r := range m.Rooms {
		r.Polygon = clonePolygon(r.Polygon)
		out.Rooms[i] = r
	}
	out.Obstacles = make([]Obstacle, len(m.Obstacles))
	for i, o := range m.Obstacles {
		o.Polygon = clonePolygon(o.Polygon)
		out.Obstacles[i] = o
	}
	out.Areas = cloneAreas(m.Areas)
	out.NoGoZones = make([]NoGoZone, len(m.NoGoZones))
	for i, z := range m.NoGoZones {
		z.Polygon = clonePolygon(z.Polygon)
		out.NoGoZones[i] = z
	}
	out.CleaningZones = make([]CleaningZone, len(m.CleaningZones))
	for i, z := range m.CleaningZones {
		z.Polygon = clonePolygon(z.Polygon)
		out.CleaningZones[i] = z
	}
	out.Markers = append(make([]Marker, 0, len(m.Markers)), m.Markers...)
	out.CleaningPath = append(make([]PathPoint, 0, len(m.CleaningPath)), m.CleaningPath...)
	return out
}

func clonePolygon(p Polygon) Polygon {
	if p == nil {
		return nil
	}
	return append(make(Polygon, 0, len(p)), p...)
}

func cloneAreas(areas []MapArea) []MapArea {
	out := make([]MapArea, len(areas))
	for i, a := range areas {
		if a.CleanedAt != nil {
			t := *a.CleanedAt
			a.CleanedAt = &t
		}
		out[i] = a
	}
	return out
}

// AdvanceAreaCleaning returns a map in which the area's progress has grown by
// delta, clamped to [0, 100]. An uncleaned area starts cleaning; reaching 100
// marks it cleaned and stamps CleanedAt with now. Cleaned and no-go areas,
// unknown ids and non-positive deltas leave the map unchanged.
func AdvanceAreaCleaning(m EnhancedRoomMap, areaID string, delta float64, now time.Time) EnhancedRoomMap {
	if delta <= 0 {
		return m
	}
	idx := -1
	for i := range m.Areas {
		if m.Areas[i].ID == areaID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return m
	}

	area := m.Areas[idx]
	if area.Type != AreaUncleaned && area.Type != AreaCleaning {
		return m
	}

	// An uncleaned area has no progress, whatever the field holds.
	if area.Type == AreaUncleaned {
		area.CleaningProgress = 0
	}
	area.Type = AreaCleaning
	area.CleaningProgress = clampProgress(area.CleaningProgress + delta)
	if area.CleaningProgress >= MaxProgress {
		area.Type = AreaCleaned
		stamp := now
		area.CleanedAt = &stamp
	}

	areas := append(make([]MapArea, 0, len(m.Areas)), m.Areas...)
	areas[idx] = area
	m.Areas = areas
	m.LastUpdated = now
	return m
}

func clampProgress(v float64) float64 {
	return max(0, min(MaxProgress, v))
}

// MarkRoomInProgress moves a pending room to in_progress. Any other status,
// and unknown ids, leave the map unchanged; completion is driven elsewhere.
func MarkRoomInProgress(m EnhancedRoomMap, roomID string, now time.Time) EnhancedRoomMap {
	for i := range m.Rooms {
		if m.Rooms[i].ID != roomID {
			continue
		}
		if m.Rooms[i].CleaningStatus != CleaningPending {
			return m
		}
		rooms := append(make([]Room, 0, len(m.Rooms)), m.Rooms...)
		rooms[i].CleaningStatus = CleaningInProgress
		m.Rooms = rooms
		m.LastUpdated = now
		return m
	}
	return m
}

// ResetForRemap returns a fresh aggregate with a new id, every room pending,
// every non-no-go area uncleaned at 0%, and an empty path. The input is not
// modified.
func ResetForRemap(m EnhancedRoomMap, now time.Time) EnhancedRoomMap {
	out := m.Clone()
	out.ID = uuid.NewString()
	out.LastUpdated = now
	out.CleaningPath = []PathPoint{}

	for i := range out.Rooms {
		out.Rooms[i].CleaningStatus = CleaningPending
	}
	for i := range out.Areas {
		if out.Areas[i].Type != AreaNoGo {
			out.Areas[i].Type = AreaUncleaned
		}
		out.Areas[i].CleaningProgress = 0
		out.Areas[i].CleanedAt = nil
	}
	return out
}

// AreaByID returns the area with the given id.
func (m EnhancedRoomMap) AreaByID(id string) (MapArea, bool) {
	for _, a := range m.Areas {
		if a.ID == id {
			return a, true
		}
	}
	return MapArea{}, false
}

// RoomByID returns the room with the given id.
func (m EnhancedRoomMap) RoomByID(id string) (Room, bool) {
	for _, r := range m.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return Room{}, false
}

// RoomAt returns the first room containing p.
func (m EnhancedRoomMap) RoomAt(p Point) (Room, bool) {
	for _, r := range m.Rooms {
		if IsPointInPolygon(p, r.Polygon) {
			return r, true
		}
	}
	return Room{}, false
}

// SaveRoomMap writes a map to disk as indented JSON.
func SaveRoomMap(m EnhancedRoomMap, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal room map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create map directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write room map: %w", err)
	}
	return nil
}

// LoadRoomMap reads and validates a map from a JSON file.
func LoadRoomMap(path string) (EnhancedRoomMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EnhancedRoomMap{}, fmt.Errorf("read room map: %w", err)
	}
	var m EnhancedRoomMap
	if err := json.Unmarshal(data, &m); err != nil {
		return EnhancedRoomMap{}, fmt.Errorf("unmarshal room map: %w", err)
	}
	return NewRoomMap(m)
}
