// package scene models the millimeter-calibrated design as a closed
// set of drawing objects and rasterizes it into the binary matrix the
// engraving pipeline consumes.
package scene

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f32"
	"golang.org/x/image/math/fixed"

	"g2burn.dev/affine"
	"g2burn.dev/gcode"
	"g2burn.dev/raster"
)

// DefaultStrokeWidth is the stroke width, in millimeters, used by
// objects that don't set one.
const DefaultStrokeWidth = 0.1

// Object is a drawing object. The set of implementations is closed:
// Line, Rect, Circle, Image, RefPoint and Origin.
type Object interface {
	object()
}

// Line is a straight stroke between two design points, in millimeters.
type Line struct {
	X1, Y1 float64
	X2, Y2 float64
	Width  float64 // stroke width in mm; DefaultStrokeWidth if zero
}

// Rect is an axis-aligned rectangle. Outline only unless Fill is set.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
	Width      float64
	Fill       bool
}

// Circle is a circle around a center point. Outline only unless Fill
// is set.
type Circle struct {
	X, Y   float64
	Radius float64
	Width  float64
	Fill   bool
}

// Image embeds a raster image, scaled to Width x Height millimeters at
// the given position.
type Image struct {
	Src           image.Image
	X, Y          float64
	Width, Height float64
}

// RefPoint marks a design position for alignment. It produces no
// engraving output.
type RefPoint struct {
	X, Y float64
}

// Origin designates the design point that machine coordinate (0,0)
// maps to. It produces no engraving output; placing a new one
// invalidates any previous one.
type Origin struct {
	X, Y float64
}

func (Line) object()     {}
func (Rect) object()     {}
func (Circle) object()   {}
func (Image) object()    {}
func (RefPoint) object() {}
func (Origin) object()   {}

// Scene is the design: a work area in millimeters and the objects
// drawn on it. It is a value; rasterization never mutates it and holds
// no state between runs.
type Scene struct {
	// Width and Height of the work area in millimeters.
	Width, Height float64

	Objects []Object
}

// NearestRef returns the reference point closest to the design point
// p, for snapping and selection. The second result is false if the
// scene has no reference points.
func (s Scene) NearestRef(p f32.Vec2) (RefPoint, bool) {
	var best RefPoint
	bestDist := float32(math.Inf(1))
	found := false
	for _, obj := range s.Objects {
		r, ok := obj.(RefPoint)
		if !ok {
			continue
		}
		d := affine.Length(affine.Sub(f32.Vec2{float32(r.X), float32(r.Y)}, p))
		if d < bestDist {
			best, bestDist, found = r, d, true
		}
	}
	return best, found
}

// Origin returns the machine origin of the scene, or nil if none is
// placed. The last placed origin wins.
func (s Scene) Origin() *gcode.Origin {
	var org *gcode.Origin
	for _, obj := range s.Objects {
		if o, ok := obj.(Origin); ok {
			org = &gcode.Origin{X: o.X, Y: o.Y}
		}
	}
	return org
}

// Rasterize renders the scene at scale millimeters per pixel and
// thresholds it into a binary matrix. The pixel dimensions are the
// number of whole beam widths that fit the work area.
func Rasterize(s Scene, scale float64, threshold uint8, invert bool) (*raster.Matrix, error) {
	img, err := Render(s, scale)
	if err != nil {
		return nil, err
	}
	return raster.Threshold(img, threshold, invert), nil
}

// Render rasterizes the vector objects onto a white background at
// scale millimeters per pixel.
func Render(s Scene, scale float64) (image.Image, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("scene: scale %v is not positive", scale)
	}
	w := int(math.Floor(s.Width / scale))
	h := int(math.Floor(s.Height / scale))
	if w < 0 || h < 0 {
		return nil, fmt.Errorf("scene: negative work area %vx%v mm", s.Width, s.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == 0 || h == 0 {
		return img, nil
	}
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	filler := rasterx.NewFiller(w, h, scanner)
	filler.SetColor(color.Black)
	for _, obj := range s.Objects {
		switch o := obj.(type) {
		case Line:
			d := newDasher(w, h, scanner, strokeWidth(o.Width, scale))
			d.Start(fixedPt(o.X1/scale, o.Y1/scale))
			d.Line(fixedPt(o.X2/scale, o.Y2/scale))
			d.Stop(false)
			d.Draw()
		case Rect:
			if o.Fill {
				rasterx.AddRect(o.MinX/scale, o.MinY/scale, o.MaxX/scale, o.MaxY/scale, 0, filler)
				filler.Draw()
				filler.Clear()
				break
			}
			d := newDasher(w, h, scanner, strokeWidth(o.Width, scale))
			d.Start(fixedPt(o.MinX/scale, o.MinY/scale))
			d.Line(fixedPt(o.MaxX/scale, o.MinY/scale))
			d.Line(fixedPt(o.MaxX/scale, o.MaxY/scale))
			d.Line(fixedPt(o.MinX/scale, o.MaxY/scale))
			d.Stop(true)
			d.Draw()
		case Circle:
			if o.Fill {
				rasterx.AddCircle(o.X/scale, o.Y/scale, o.Radius/scale, filler)
				filler.Draw()
				filler.Clear()
				break
			}
			d := newDasher(w, h, scanner, strokeWidth(o.Width, scale))
			rasterx.AddCircle(o.X/scale, o.Y/scale, o.Radius/scale, d)
			d.Draw()
		case Image:
			if o.Src == nil {
				return nil, fmt.Errorf("scene: %w: image object has no pixels", ErrInvalidImage)
			}
			dst := image.Rect(
				int(math.Round(o.X/scale)),
				int(math.Round(o.Y/scale)),
				int(math.Round((o.X+o.Width)/scale)),
				int(math.Round((o.Y+o.Height)/scale)),
			)
			xdraw.BiLinear.Scale(img, dst, o.Src, o.Src.Bounds(), xdraw.Over, nil)
		case RefPoint, Origin:
			// Markers only; nothing to engrave.
		default:
			return nil, fmt.Errorf("scene: unknown object %T", obj)
		}
	}
	return img, nil
}

func strokeWidth(mm, scale float64) float64 {
	if mm <= 0 {
		mm = DefaultStrokeWidth
	}
	px := mm / scale
	if px < 1 {
		// Thinner than one beam width still marks a cell.
		px = 1
	}
	return px
}

func newDasher(w, h int, scanner rasterx.Scanner, width float64) *rasterx.Dasher {
	d := rasterx.NewDasher(w, h, scanner)
	d.SetStroke(fixed.Int26_6(width*64), 0, rasterx.RoundCap, rasterx.RoundCap, rasterx.RoundGap, rasterx.ArcClip, nil, 0)
	d.SetColor(color.Black)
	return d
}

func fixedPt(x, y float64) fixed.Point26_6 {
	return rasterx.ToFixedP(x, y)
}
