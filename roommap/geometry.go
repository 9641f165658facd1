package roommap

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ToViewportCoords scales a map-space point into a viewport of the given
// pixel size. Pan, zoom and rotation are applied afterwards by the renderer
// (see ViewportTransform.Apply). Dimensions are validated when the map is
// built, not here.
func ToViewportCoords(p Point, dims MapDimensions, viewportWidth, viewportHeight float64) Point {
	return Point{
		X: (p.X / dims.Width) * viewportWidth,
		Y: (p.Y / dims.Height) * viewportHeight,
	}
}

// PolygonToPath projects every vertex and returns a closed SVG path
// descriptor ("M x,y L x,y ... Z"). Polygons with fewer than two vertices
// produce an empty string.
func PolygonToPath(poly Polygon, dims MapDimensions, viewportWidth, viewportHeight float64) string {
	if len(poly) < 2 {
		return ""
	}

	var b strings.Builder
	for i, p := range poly {
		vp := ToViewportCoords(p, dims, viewportWidth, viewportHeight)
		if i == 0 {
			b.WriteString("M")
		} else {
			b.WriteString(" L")
		}
		b.WriteString(formatCoord(vp.X))
		b.WriteByte(',')
		b.WriteString(formatCoord(vp.Y))
	}
	b.WriteString(" Z")
	return b.String()
}

func formatCoord(v float64) string {
	// Two decimals is sub-pixel at any zoom we allow.
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// PolygonCenter returns the vertex average of the polygon. This is a label
// anchor, not an area-weighted centroid. An empty polygon yields the origin.
func PolygonCenter(poly Polygon) Point {
	if len(poly) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range poly {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(poly))
	return Point{X: sumX / n, Y: sumY / n}
}

// IsPointInPolygon applies the even-odd ray casting rule, including the
// closing edge from the last vertex back to the first. Polygons with fewer
// than three vertices never contain anything. Points on an edge or vertex
// count as inside.
func IsPointInPolygon(p Point, poly Polygon) bool {
	if len(poly) < 3 {
		return false
	}
	return planar.RingContains(poly.ring(), orb.Point{p.X, p.Y})
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return planar.Distance(orb.Point{a.X, a.Y}, orb.Point{b.X, b.Y})
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (poly Polygon) Bounds() (lo, hi Point) {
	if len(poly) == 0 {
		return Point{}, Point{}
	}
	b := poly.ring().Bound()
	return Point{X: b.Min[0], Y: b.Min[1]}, Point{X: b.Max[0], Y: b.Max[1]}
}

// ring converts the polygon to an orb ring without the closing vertex.
func (poly Polygon) ring() orb.Ring {
	r := make(orb.Ring, len(poly))
	for i, p := range poly {
		r[i] = orb.Point{p.X, p.Y}
	}
	return r
}

// selfIntersects reports whether any two non-adjacent edges cross.
func (poly Polygon) selfIntersects() bool {
	n := len(poly)
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := poly[i], poly[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Adjacent edges share a vertex; skip them (including the wraparound pair).
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := poly[j], poly[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(p, q, r Point) bool {
	return math.Min(p.X, r.X) <= q.X && q.X <= math.Max(p.X, r.X) &&
		math.Min(p.Y, r.Y) <= q.Y && q.Y <= math.Max(p.Y, r.Y)
}

func segmentsIntersect(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, p1, q2):
		return true
	case d2 == 0 && onSegment(q1, p2, q2):
		return true
	case d3 == 0 && onSegment(p1, q1, p2):
		return true
	case d4 == 0 && onSegment(p1, q2, p2):
		return true
	}
	return false
}

// Apply maps an already projected pixel point through the viewport:
// rotate about the viewport centre, then scale by Zoom, then translate by Pan.
func (vt ViewportTransform) Apply(p Point, viewportWidth, viewportHeight float64) Point {
	cx, cy := viewportWidth/2, viewportHeight/2
	x, y := p.X-cx, p.Y-cy
	if vt.Rotation != 0 {
		rad := vt.Rotation * math.Pi / 180
		x, y = x*math.Cos(rad)-y*math.Sin(rad), x*math.Sin(rad)+y*math.Cos(rad)
	}
	zoom := vt.Zoom
	if zoom == 0 {
		zoom = 1
	}
	return Point{
		X: x*zoom + cx + vt.PanX,
		Y: y*zoom + cy + vt.PanY,
	}
}
