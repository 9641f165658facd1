package roommap

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature kinds set in the "kind" property of exported features.
const (
	KindRoom         = "room"
	KindObstacle     = "obstacle"
	KindArea         = "area"
	KindNoGoZone     = "no_go_zone"
	KindCleaningZone = "cleaning_zone"
	KindMarker       = "marker"
	KindPath         = "cleaning_path"
	KindRobot        = "robot"
)

// closedPolygon returns the polygon as a GeoJSON polygon with a closed ring.
func closedPolygon(poly Polygon) orb.Polygon {
	ring := poly.ring()
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// ToGeoJSON exports the map as a FeatureCollection in map coordinates.
// Every feature carries "kind" and "id" properties. A nil robot is omitted.
func ToGeoJSON(m EnhancedRoomMap, robot *RobotPosition) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	add := func(g orb.Geometry, kind, id string, props geojson.Properties) {
		f := geojson.NewFeature(g)
		f.ID = id
		f.Properties = props
		f.Properties["kind"] = kind
		f.Properties["id"] = id
		fc.Append(f)
	}

	for _, r := range m.Rooms {
		add(closedPolygon(r.Polygon), KindRoom, r.ID, geojson.Properties{
			"name":           r.Name,
			"type":           string(r.Type),
			"cleaningStatus": string(r.CleaningStatus),
		})
	}
	for _, o := range m.Obstacles {
		add(closedPolygon(o.Polygon), KindObstacle, o.ID, geojson.Properties{
			"type":        string(o.Type),
			"isTemporary": o.IsTemporary,
		})
	}
	for _, a := range m.Areas {
		props := geojson.Properties{
			"type":             string(a.Type),
			"cleaningProgress": a.CleaningProgress,
		}
		if a.CleanedAt != nil {
			props["cleanedAt"] = a.CleanedAt.UTC().Format(time.RFC3339)
		}
		add(closedPolygon(a.Polygon), KindArea, a.ID, props)
	}
	for _, z := range m.NoGoZones {
		add(closedPolygon(z.Polygon), KindNoGoZone, z.ID, geojson.Properties{
			"name":     z.Name,
			"isActive": z.IsActive,
		})
	}
	for _, z := range m.CleaningZones {
		add(closedPolygon(z.Polygon), KindCleaningZone, z.ID, geojson.Properties{
			"name":   z.Name,
			"passes": z.Passes,
		})
	}
	for _, mk := range m.Markers {
		add(orb.Point{mk.Position.X, mk.Position.Y}, KindMarker, mk.ID, geojson.Properties{
			"type":  string(mk.Type),
			"label": mk.Label,
		})
	}

	if len(m.CleaningPath) > 1 {
		line := make(orb.LineString, len(m.CleaningPath))
		for i, pp := range m.CleaningPath {
			line[i] = orb.Point{pp.X, pp.Y}
		}
		add(line, KindPath, m.ID+"-path", geojson.Properties{"points": len(line)})
	}

	if robot != nil {
		add(orb.Point{robot.X, robot.Y}, KindRobot, "robot", geojson.Properties{"rotation": robot.Rotation})
	}
	return fc
}
