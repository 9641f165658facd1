package roommap

import (
	"math"
	"sync"
)

const (
	// MinZoom and MaxZoom bound every zoom operation.
	MinZoom = 0.5
	MaxZoom = 4.0

	zoomInFactor  = 1.3
	zoomOutFactor = 0.7
)

// Viewport owns the pan/zoom/rotation transform. All writes go through its
// methods; every method is valid in any state.
type Viewport struct {
	mu sync.RWMutex
	t  ViewportTransform
}

// NewViewport returns a viewport at the identity transform.
func NewViewport() *Viewport {
	return &Viewport{t: IdentityTransform()}
}

func clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	return max(MinZoom, min(MaxZoom, z))
}

// ApplyPinch sets zoom to the gesture's absolute scale, clamped.
func (v *Viewport) ApplyPinch(scaleFactor float64) ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Zoom = clampZoom(scaleFactor)
	return v.t
}

// ApplyPan moves the view by a pixel delta. Pan is unbounded.
func (v *Viewport) ApplyPan(dx, dy float64) ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.PanX += dx
	v.t.PanY += dy
	return v.t
}

// ZoomIn multiplies zoom by 1.3, clamped.
func (v *Viewport) ZoomIn() ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Zoom = clampZoom(v.t.Zoom * zoomInFactor)
	return v.t
}

// ZoomOut multiplies zoom by 0.7, clamped.
func (v *Viewport) ZoomOut() ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Zoom = clampZoom(v.t.Zoom * zoomOutFactor)
	return v.t
}

// Rotate sets the view rotation in degrees, normalized to [0, 360).
// Rotation is visual only; the map data is never rotated.
func (v *Viewport) Rotate(degrees float64) ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t.Rotation = NormalizeAngle(degrees)
	return v.t
}

// Reset restores the identity transform.
func (v *Viewport) Reset() ViewportTransform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t = IdentityTransform()
	return v.t
}

// Transform returns the current transform by value.
func (v *Viewport) Transform() ViewportTransform {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.t
}

// NormalizeAngle wraps degrees into [0, 360).
func NormalizeAngle(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// NewViewportFrom starts a viewport at t, clamping zoom and normalizing
// rotation so a persisted transform cannot break the invariants.
func NewViewportFrom(t ViewportTransform) *Viewport {
	if t.Zoom == 0 {
		t.Zoom = 1
	}
	t.Zoom = clampZoom(t.Zoom)
	t.Rotation = NormalizeAngle(t.Rotation)
	return &Viewport{t: t}
}
