package geom

import (
	"fmt"
	"math"
)

// Affine is a six parameter georeferencing transform mapping raster
// column/row space to world coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// The layout matches the GDAL/rasterio convention where A and E are the
// pixel sizes and C/F place the origin.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// IdentityAffine places cell centers at integer coordinates starting at
// zero with unit resolution and both axes increasing. Used for rasters
// created from in-memory arrays with no georeferencing.
func IdentityAffine() Affine {
	return Affine{A: 1, C: -0.5, E: 1, F: -0.5}
}

// NewAffine builds a transform from an origin and cell sizes. ysize may
// be negative for north-up data.
func NewAffine(xorigin, yorigin, xsize, ysize float64) Affine {
	return Affine{A: xsize, C: xorigin, E: ysize, F: yorigin}
}

// Apply maps fractional column/row coordinates to world coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	x = t.A*col + t.B*row + t.C
	y = t.D*col + t.E*row + t.F
	return x, y
}

// CellCenter returns the world coordinates of the center of cell (col, row).
func (t Affine) CellCenter(col, row int) (x, y float64) {
	return t.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Invert returns the inverse transform. Degenerate transforms (zero
// determinant) cannot be inverted.
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Affine{}, fmt.Errorf("affine transform is not invertible")
	}
	inv := Affine{
		A: t.E / det,
		B: -t.B / det,
		D: -t.D / det,
		E: t.A / det,
	}
	inv.C = -(inv.A*t.C + inv.B*t.F)
	inv.F = -(inv.D*t.C + inv.E*t.F)
	return inv, nil
}

// Mul composes two transforms, applying u first.
func (t Affine) Mul(u Affine) Affine {
	return Affine{
		A: t.A*u.A + t.B*u.D,
		B: t.A*u.B + t.B*u.E,
		C: t.A*u.C + t.B*u.F + t.C,
		D: t.D*u.A + t.E*u.D,
		E: t.D*u.B + t.E*u.E,
		F: t.D*u.C + t.E*u.F + t.F,
	}
}

// Resolution returns the absolute cell sizes along x and y.
func (t Affine) Resolution() (xres, yres float64) {
	return math.Abs(t.A), math.Abs(t.E)
}

// Bounds returns the world extent covered by a grid of the given size.
func (t Affine) Bounds(rows, cols int) Bounds {
	x0, y0 := t.Apply(0, 0)
	x1, y1 := t.Apply(float64(cols), float64(rows))
	return Bounds{
		XMin: math.Min(x0, x1),
		YMin: math.Min(y0, y1),
		XMax: math.Max(x0, x1),
		YMax: math.Max(y0, y1),
	}
}

// Flat returns the transform in GDAL geotransform order.
func (t Affine) Flat() [6]float64 {
	return [6]float64{t.C, t.A, t.B, t.F, t.D, t.E}
}

// Bounds is a rectangular extent in world coordinates.
type Bounds struct {
	XMin, YMin, XMax, YMax float64
}

// Contains reports whether the point lies inside the extent.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Intersects reports whether two extents overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.XMin <= o.XMax && b.XMax >= o.XMin && b.YMin <= o.YMax && b.YMax >= o.YMin
}

// Intersection clips b to o.
func (b Bounds) Intersection(o Bounds) Bounds {
	return Bounds{
		XMin: math.Max(b.XMin, o.XMin),
		YMin: math.Max(b.YMin, o.YMin),
		XMax: math.Min(b.XMax, o.XMax),
		YMax: math.Min(b.YMax, o.YMax),
	}
}
