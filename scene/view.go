package scene

import (
	"golang.org/x/image/math/f32"

	"g2burn.dev/affine"
)

// View maps design millimeters to the zoomed and panned canvas space a
// front end draws in. The zero View is the identity at 1:1.
type View struct {
	// Zoom is canvas units per millimeter. Zero means 1.
	Zoom float32
	// Pan is the canvas position of design point (0,0).
	Pan f32.Vec2
}

func (v View) zoom() float32 {
	if v.Zoom == 0 {
		return 1
	}
	return v.Zoom
}

func (v View) transform() f32.Aff3 {
	z := v.zoom()
	return affine.Mul(
		affine.Offsetting(v.Pan),
		affine.Scaling(f32.Vec2{z, z}),
	)
}

// ToCanvas converts a design point in millimeters to canvas
// coordinates.
func (v View) ToCanvas(p f32.Vec2) f32.Vec2 {
	return affine.Transform(v.transform(), p)
}

// ToDesign converts a canvas point back to design millimeters.
func (v View) ToDesign(p f32.Vec2) f32.Vec2 {
	return affine.Transform(affine.Inverse(v.transform()), p)
}

// Panned returns the view translated by d canvas units.
func (v View) Panned(d f32.Vec2) View {
	v.Pan = affine.Add(v.Pan, d)
	return v
}

// Zoomed returns the view scaled by factor about the canvas point
// pivot. The design point under pivot stays put.
func (v View) Zoomed(factor float32, pivot f32.Vec2) View {
	v.Pan = affine.Add(pivot, affine.Scale(affine.Sub(v.Pan, pivot), factor))
	v.Zoom = v.zoom() * factor
	return v
}
