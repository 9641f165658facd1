package roommap

import "time"

// Point is a 2D coordinate in normalized map units (not pixels).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered, implicitly closed ring of vertices (last -> first).
type Polygon []Point

// MapDimensions describes the normalized coordinate space of a map.
// Scale is pixels-per-unit for direct rendering.
type MapDimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// RoomType classifies a room for labelling and styling.
type RoomType string

const (
	RoomKitchen    RoomType = "kitchen"
	RoomBedroom    RoomType = "bedroom"
	RoomLivingRoom RoomType = "living_room"
	RoomBathroom   RoomType = "bathroom"
	RoomHallway    RoomType = "hallway"
	RoomOther      RoomType = "other"
)

// CleaningStatus is the per-room cleaning state.
type CleaningStatus string

const (
	CleaningPending    CleaningStatus = "pending"
	CleaningInProgress CleaningStatus = "in_progress"
	CleaningCompleted  CleaningStatus = "completed"
	CleaningSkipped    CleaningStatus = "skipped"
)

// Room is a named region of the map.
type Room struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           RoomType       `json:"type"`
	Polygon        Polygon        `json:"polygon"`
	CleaningStatus CleaningStatus `json:"cleaningStatus"`
}

// ObstacleType classifies static obstacles.
type ObstacleType string

const (
	ObstacleFurniture ObstacleType = "furniture"
	ObstacleWall      ObstacleType = "wall"
	ObstacleStairs    ObstacleType = "stairs"
	ObstacleNoGoZone  ObstacleType = "no_go_zone"
)

// Obstacle is static for a session and never touched by the live engine.
type Obstacle struct {
	ID          string       `json:"id"`
	Type        ObstacleType `json:"type"`
	Polygon     Polygon      `json:"polygon"`
	IsTemporary bool         `json:"isTemporary"`
}

// AreaType is the state of a fine-grained cleaning overlay cell.
type AreaType string

const (
	AreaCleaned   AreaType = "cleaned"
	AreaUncleaned AreaType = "uncleaned"
	AreaCleaning  AreaType = "cleaning"
	AreaNoGo      AreaType = "no_go"
)

// MapArea is the overlay the live engine mutates on every tick.
// CleaningProgress only grows while Type is AreaCleaning; reaching 100 moves
// the area to AreaCleaned and stamps CleanedAt once.
type MapArea struct {
	ID               string     `json:"id"`
	Type             AreaType   `json:"type"`
	Polygon          Polygon    `json:"polygon"`
	CleanedAt        *time.Time `json:"cleanedAt,omitempty"`
	CleaningProgress float64    `json:"cleaningProgress"`
}

// NoGoZone is a user-defined exclusion zone.
type NoGoZone struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Polygon   Polygon   `json:"polygon"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// MarkerType classifies point annotations on the map.
type MarkerType string

const (
	MarkerCharger MarkerType = "charger"
	MarkerRobot   MarkerType = "robot"
	MarkerPOI     MarkerType = "poi"
)

// Marker is a labelled point on the map.
type Marker struct {
	ID       string     `json:"id"`
	Type     MarkerType `json:"type"`
	Position Point      `json:"position"`
	Label    string     `json:"label,omitempty"`
}

// CleaningZone is a user-drawn zone for targeted cleaning.
type CleaningZone struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Polygon Polygon `json:"polygon"`
	Passes  int     `json:"passes"`
}

// PathAction tags what the robot was doing at a path sample.
type PathAction string

const (
	ActionMove  PathAction = "move"
	ActionClean PathAction = "clean"
	ActionPause PathAction = "pause"
)

// PathPoint is one sample of the robot's travelled trail.
type PathPoint struct {
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Timestamp time.Time  `json:"timestamp"`
	Action    PathAction `json:"action"`
}

// Point returns the sample position.
func (pp PathPoint) Point() Point {
	return Point{X: pp.X, Y: pp.Y}
}

// ViewportTransform is the pan/zoom/rotation applied on top of projected
// pixel coordinates. Rotation is in degrees.
type ViewportTransform struct {
	PanX     float64 `json:"panX"`
	PanY     float64 `json:"panY"`
	Zoom     float64 `json:"zoom"`
	Rotation float64 `json:"rotation"`
}

// IdentityTransform returns the reset viewport.
func IdentityTransform() ViewportTransform {
	return ViewportTransform{PanX: 0, PanY: 0, Zoom: 1, Rotation: 0}
}

// EnhancedRoomMap is the root aggregate. The live engine owns
// Rooms[].CleaningStatus, Areas, CleaningPath and LastUpdated; everything
// else is fixed at load or remap time.
type EnhancedRoomMap struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	LastUpdated   time.Time         `json:"lastUpdated"`
	Dimensions    MapDimensions     `json:"dimensions"`
	Rooms         []Room            `json:"rooms"`
	Obstacles     []Obstacle        `json:"obstacles"`
	CleaningPath  []PathPoint       `json:"cleaningPath"`
	Areas         []MapArea         `json:"areas"`
	NoGoZones     []NoGoZone        `json:"noGoZones"`
	Markers       []Marker          `json:"markers"`
	CleaningZones []CleaningZone    `json:"cleaningZones"`
	Viewport      ViewportTransform `json:"viewport"`
}

// RobotStatus is the status reported by the robot telemetry feed.
type RobotStatus string

const (
	StatusIdle      RobotStatus = "idle"
	StatusCleaning  RobotStatus = "cleaning"
	StatusDocked    RobotStatus = "docked"
	StatusPaused    RobotStatus = "paused"
	StatusError     RobotStatus = "error"
	StatusReturning RobotStatus = "returning"
)

// IsActive reports whether the live engine should poll for this status.
func (s RobotStatus) IsActive() bool {
	return s == StatusCleaning || s == StatusReturning
}

// PathAction maps a robot status to the action recorded on the trail.
func (s RobotStatus) PathAction() PathAction {
	switch s {
	case StatusCleaning:
		return ActionClean
	case StatusPaused:
		return ActionPause
	default:
		return ActionMove
	}
}

// RobotPosition is the robot pose in map units; Rotation is in degrees.
type RobotPosition struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
}

// Point returns the position without heading.
func (rp RobotPosition) Point() Point {
	return Point{X: rp.X, Y: rp.Y}
}

// Battery is the battery block of a telemetry frame.
type Battery struct {
	Level    float64 `json:"level"`
	Charging bool    `json:"charging"`
}

// Telemetry is one frame of the robot state feed.
type Telemetry struct {
	Status   RobotStatus   `json:"status"`
	Position RobotPosition `json:"position"`
	Battery  Battery       `json:"battery"`
}
