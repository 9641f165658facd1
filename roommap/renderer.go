package roommap

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	roomFill = map[CleaningStatus]color.RGBA{
		CleaningPending:    {R: 0xe8, G: 0xec, B: 0xf1, A: 0xff},
		CleaningInProgress: {R: 0xfd, G: 0xf0, B: 0xc4, A: 0xff},
		CleaningCompleted:  {R: 0xd4, G: 0xf0, B: 0xd8, A: 0xff},
		CleaningSkipped:    {R: 0xf0, G: 0xdc, B: 0xdc, A: 0xff},
	}
	areaFill = map[AreaType]color.RGBA{
		AreaCleaned:  {R: 0x22, G: 0xc5, B: 0x5e, A: 0x4c},
		AreaCleaning: {R: 0xea, G: 0xb3, B: 0x08, A: 0x4c},
		AreaNoGo:     {R: 0xef, G: 0x44, B: 0x44, A: 0x66},
	}
	wallColor     = color.RGBA{R: 0x47, G: 0x55, B: 0x69, A: 0xff}
	obstacleColor = color.RGBA{R: 0x94, G: 0xa3, B: 0xb8, A: 0xff}
	noGoColor     = color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff}
	zoneColor     = color.RGBA{R: 0x25, G: 0x63, B: 0xeb, A: 0xff}
	pathColor     = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xcc}
	robotColor    = color.RGBA{R: 0x10, G: 0xb9, B: 0x81, A: 0xff}
	chargerColor  = color.RGBA{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff}
)

// Scene is everything one render needs.
type Scene struct {
	Map      EnhancedRoomMap
	Robot    *RobotPosition
	Viewport ViewportTransform
}

// MapRenderer draws a Scene into a fixed-size viewport. Map coordinates go
// through ToViewportCoords and then the viewport transform, so a render
// matches what PolygonToPath produces for the same viewport.
type MapRenderer struct {
	Width      float64
	Height     float64
	ShowLabels bool
}

// NewMapRenderer creates a renderer for a vw x vh viewport.
func NewMapRenderer(vw, vh float64) *MapRenderer {
	return &MapRenderer{Width: vw, Height: vh, ShowLabels: true}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderSVG writes the scene as SVG.
func (r *MapRenderer) RenderSVG(w io.Writer, s Scene) error {
	out := svg.New(w, r.Width, r.Height, nil)
	r.draw(out, s)
	return out.Close()
}

// RenderPNG writes the scene as PNG at one pixel per viewport unit.
func (r *MapRenderer) RenderPNG(w io.Writer, s Scene) error {
	rast := rasterizer.New(r.Width, r.Height, canvas.DPMM(1), canvas.DefaultColorSpace)
	r.draw(rast, s)
	if r.ShowLabels {
		r.drawLabels(rast, s)
	}
	return png.Encode(w, rast)
}

// screen maps a map point to top-left-origin viewport coordinates.
func (r *MapRenderer) screen(p Point, s Scene) Point {
	return s.Viewport.Apply(ToViewportCoords(p, s.Map.Dimensions, r.Width, r.Height), r.Width, r.Height)
}

// flip converts top-left-origin coordinates into canvas space, whose
// origin is bottom-left.
func (r *MapRenderer) flip() canvas.Matrix {
	return canvas.Identity.Translate(0, r.Height).Scale(1, -1)
}

func (r *MapRenderer) polygonPath(poly Polygon, s Scene) *canvas.Path {
	p := &canvas.Path{}
	for i, v := range poly {
		sp := r.screen(v, s)
		if i == 0 {
			p.MoveTo(sp.X, sp.Y)
		} else {
			p.LineTo(sp.X, sp.Y)
		}
	}
	p.Close()
	return p
}

func fillStyle(fill, stroke color.RGBA, width float64) canvas.Style {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: fill}
	style.Stroke = canvas.Paint{Color: stroke}
	style.StrokeWidth = width
	return style
}

func (r *MapRenderer) draw(out canvasRenderer, s Scene) {
	m := r.flip()
	scale := s.Viewport.Zoom
	if scale == 0 {
		scale = 1
	}

	out.RenderPath(canvas.Rectangle(r.Width, r.Height), fillStyle(canvas.White, canvas.Transparent, 0), canvas.Identity)

	for _, room := range s.Map.Rooms {
		if len(room.Polygon) < 3 {
			continue
		}
		fill, ok := roomFill[room.CleaningStatus]
		if !ok {
			fill = roomFill[CleaningPending]
		}
		out.RenderPath(r.polygonPath(room.Polygon, s), fillStyle(fill, wallColor, 1.5*scale), m)
	}

	for _, a := range s.Map.Areas {
		fill, ok := areaFill[a.Type]
		if !ok || len(a.Polygon) < 3 {
			continue
		}
		out.RenderPath(r.polygonPath(a.Polygon, s), fillStyle(fill, canvas.Transparent, 0), m)
	}

	for _, o := range s.Map.Obstacles {
		if len(o.Polygon) < 3 {
			continue
		}
		out.RenderPath(r.polygonPath(o.Polygon, s), fillStyle(obstacleColor, wallColor, 0.5*scale), m)
	}

	for _, z := range s.Map.NoGoZones {
		if !z.IsActive || len(z.Polygon) < 3 {
			continue
		}
		out.RenderPath(r.polygonPath(z.Polygon, s), fillStyle(canvas.Transparent, noGoColor, 1.5*scale), m)
	}

	for _, z := range s.Map.CleaningZones {
		if len(z.Polygon) < 3 {
			continue
		}
		out.RenderPath(r.polygonPath(z.Polygon, s), fillStyle(canvas.Transparent, zoneColor, 1*scale), m)
	}

	if len(s.Map.CleaningPath) > 1 {
		trail := &canvas.Path{}
		for i, pp := range s.Map.CleaningPath {
			sp := r.screen(pp.Point(), s)
			if i == 0 {
				trail.MoveTo(sp.X, sp.Y)
			} else {
				trail.LineTo(sp.X, sp.Y)
			}
		}
		out.RenderPath(trail, fillStyle(canvas.Transparent, pathColor, 1*scale), m)
	}

	for _, mk := range s.Map.Markers {
		sp := r.screen(mk.Position, s)
		c := zoneColor
		if mk.Type == MarkerCharger {
			c = chargerColor
		}
		out.RenderPath(canvas.Circle(4*scale), fillStyle(c, canvas.Black, 0.5), m.Translate(sp.X, sp.Y))
	}

	if s.Robot != nil {
		sp := r.screen(s.Robot.Point(), s)
		body := m.Translate(sp.X, sp.Y)
		out.RenderPath(canvas.Circle(6*scale), fillStyle(robotColor, canvas.Black, 1), body)

		// Heading tick. Robot rotation is map-space degrees; the view rotation
		// is added so the tick turns with the map.
		rad := (s.Robot.Rotation + s.Viewport.Rotation) * math.Pi / 180
		tick := &canvas.Path{}
		tick.MoveTo(0, 0)
		tick.LineTo(10*scale*math.Cos(rad), 10*scale*math.Sin(rad))
		out.RenderPath(tick, fillStyle(canvas.Transparent, canvas.Black, 1.5), body)
	}
}

// drawLabels writes room names at their centers with the built-in bitmap
// face. The rasterizer is a draw.Image with a top-left origin.
func (r *MapRenderer) drawLabels(rast *rasterizer.Rasterizer, s Scene) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  rast,
		Src:  image.NewUniform(color.RGBA{R: 0x1e, G: 0x29, B: 0x3b, A: 0xff}),
		Face: face,
	}
	for _, room := range s.Map.Rooms {
		if len(room.Polygon) < 3 || room.Name == "" {
			continue
		}
		c := r.screen(PolygonCenter(room.Polygon), s)
		width := d.MeasureString(room.Name).Round()
		d.Dot = fixed.Point26_6{
			X: fixed.I(int(math.Round(c.X)) - width/2),
			Y: fixed.I(int(math.Round(c.Y)) + face.Ascent/2),
		}
		d.DrawString(room.Name)
	}
}
