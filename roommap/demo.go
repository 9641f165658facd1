package roommap

import "time"

func rect(x0, y0, x1, y1 float64) Polygon {
	return Polygon{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

// DemoMap returns the built-in apartment used when no map file is
// configured. Coordinates are in a 400x300 unit space.
func DemoMap() EnhancedRoomMap {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	return EnhancedRoomMap{
		ID:          "demo-map",
		Name:        "Apartment",
		LastUpdated: created,
		Dimensions:  MapDimensions{Width: 400, Height: 300, Scale: 2},
		Rooms: []Room{
			{ID: "kitchen", Name: "Kitchen", Type: RoomKitchen, Polygon: rect(200, 50, 300, 120), CleaningStatus: CleaningPending},
			{ID: "living-room", Name: "Living Room", Type: RoomLivingRoom, Polygon: rect(50, 50, 200, 180), CleaningStatus: CleaningPending},
			{ID: "bedroom", Name: "Bedroom", Type: RoomBedroom, Polygon: rect(50, 180, 180, 280), CleaningStatus: CleaningPending},
			{ID: "bathroom", Name: "Bathroom", Type: RoomBathroom, Polygon: rect(300, 50, 380, 120), CleaningStatus: CleaningPending},
			{ID: "hallway", Name: "Hallway", Type: RoomHallway, Polygon: rect(200, 120, 380, 180), CleaningStatus: CleaningPending},
		},
		Obstacles: []Obstacle{
			{ID: "sofa", Type: ObstacleFurniture, Polygon: rect(80, 140, 160, 170)},
			{ID: "bed", Type: ObstacleFurniture, Polygon: rect(70, 220, 150, 270)},
			{ID: "kitchen-island", Type: ObstacleFurniture, Polygon: rect(240, 95, 270, 110), IsTemporary: true},
		},
		Areas: []MapArea{
			{ID: "cleaning-area-1", Type: AreaUncleaned, Polygon: rect(200, 50, 300, 120)},
			{ID: "cleaning-area-2", Type: AreaUncleaned, Polygon: rect(50, 50, 200, 180)},
			{ID: "cleaning-area-3", Type: AreaUncleaned, Polygon: rect(50, 180, 180, 280)},
			{ID: "cleaning-area-4", Type: AreaUncleaned, Polygon: rect(300, 50, 380, 120)},
			{ID: "cleaning-area-5", Type: AreaUncleaned, Polygon: rect(200, 120, 380, 180)},
			{ID: "no-go-area-1", Type: AreaNoGo, Polygon: rect(340, 60, 375, 90)},
		},
		NoGoZones: []NoGoZone{
			{ID: "bath-mat", Name: "Bath mat", Polygon: rect(340, 60, 375, 90), IsActive: true, CreatedAt: created},
		},
		Markers: []Marker{
			{ID: "charger", Type: MarkerCharger, Position: Point{X: 60, Y: 270}, Label: "Dock"},
		},
		CleaningZones: []CleaningZone{
			{ID: "dining", Name: "Dining corner", Polygon: rect(150, 60, 195, 110), Passes: 2},
		},
		CleaningPath: []PathPoint{},
		Viewport:     IdentityTransform(),
	}
}
