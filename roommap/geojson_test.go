package roommap

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featuresByKind(fc *geojson.FeatureCollection) map[string][]*geojson.Feature {
	out := make(map[string][]*geojson.Feature)
	for _, f := range fc.Features {
		kind, _ := f.Properties["kind"].(string)
		out[kind] = append(out[kind], f)
	}
	return out
}

func TestToGeoJSON(t *testing.T) {
	m := demoMap(t)
	fc := ToGeoJSON(m, nil)
	byKind := featuresByKind(fc)

	assert.Len(t, byKind[KindRoom], len(m.Rooms))
	assert.Len(t, byKind[KindObstacle], len(m.Obstacles))
	assert.Len(t, byKind[KindArea], len(m.Areas))
	assert.Len(t, byKind[KindNoGoZone], len(m.NoGoZones))
	assert.Len(t, byKind[KindCleaningZone], len(m.CleaningZones))
	assert.Len(t, byKind[KindMarker], len(m.Markers))
	assert.Empty(t, byKind[KindPath], "no path yet")
	assert.Empty(t, byKind[KindRobot])

	kitchen := byKind[KindRoom][0]
	assert.Equal(t, "kitchen", kitchen.ID)
	assert.Equal(t, "Kitchen", kitchen.Properties["name"])
	poly, ok := kitchen.Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.True(t, poly[0].Closed(), "ring must be closed")
	assert.Len(t, poly[0], 5)
}

func TestToGeoJSONPathAndRobot(t *testing.T) {
	m := demoMap(t)
	now := time.Now()
	m = ApplyTelemetry(m, cleaningAt(225, 85), now)
	m = ApplyTelemetry(m, cleaningAt(240, 85), now)

	fc := ToGeoJSON(m, &RobotPosition{X: 240, Y: 85, Rotation: 90})
	byKind := featuresByKind(fc)

	require.Len(t, byKind[KindPath], 1)
	line, ok := byKind[KindPath][0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Equal(t, orb.LineString{{225, 85}, {240, 85}}, line)

	require.Len(t, byKind[KindRobot], 1)
	robot := byKind[KindRobot][0]
	assert.Equal(t, orb.Point{240, 85}, robot.Geometry)
	assert.Equal(t, 90.0, robot.Properties["rotation"])

	for _, f := range byKind[KindArea] {
		if f.ID == "cleaning-area-1" {
			assert.Equal(t, string(AreaCleaning), f.Properties["type"])
			assert.Equal(t, 15.0, f.Properties["cleaningProgress"])
		}
	}
}

func TestToGeoJSONMarshals(t *testing.T) {
	data, err := json.Marshal(ToGeoJSON(demoMap(t), nil))
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)
}

func TestToGeoJSONCleanedAt(t *testing.T) {
	m := demoMap(t)
	done := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	m = AdvanceAreaCleaning(m, "cleaning-area-1", MaxProgress, done)

	for _, f := range featuresByKind(ToGeoJSON(m, nil))[KindArea] {
		switch f.ID {
		case "cleaning-area-1":
			assert.Equal(t, "2024-03-01T09:30:00Z", f.Properties["cleanedAt"])
		default:
			assert.NotContains(t, f.Properties, "cleanedAt")
		}
	}
}
