package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityAffineCellCenters(t *testing.T) {
	a := IdentityAffine()

	x, y := a.CellCenter(0, 0)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 0.0, y)

	x, y = a.CellCenter(3, 7)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 7.0, y)
}

func TestNewAffineApply(t *testing.T) {
	// North-up grid: origin at top-left, y decreasing.
	a := NewAffine(100, 200, 10, -10)

	x, y := a.Apply(0, 0)
	assert.Equal(t, 100.0, x)
	assert.Equal(t, 200.0, y)

	x, y = a.Apply(2, 3)
	assert.Equal(t, 120.0, x)
	assert.Equal(t, 170.0, y)
}

func TestAffineInvertRoundTrip(t *testing.T) {
	a := NewAffine(100, 200, 10, -10)
	inv, err := a.Invert()
	if err != nil {
		t.Fatal(err)
	}

	col, row := inv.Apply(a.Apply(4.5, 2.5))
	assert.InDelta(t, 4.5, col, 1e-9)
	assert.InDelta(t, 2.5, row, 1e-9)
}

func TestAffineInvertDegenerate(t *testing.T) {
	_, err := Affine{}.Invert()
	if err == nil {
		t.Error("Expected error for zero determinant transform, got nil")
	}
}

func TestAffineResolutionAndBounds(t *testing.T) {
	a := NewAffine(0, 30, 10, -10)
	xres, yres := a.Resolution()
	assert.Equal(t, 10.0, xres)
	assert.Equal(t, 10.0, yres)

	b := a.Bounds(3, 2)
	assert.Equal(t, Bounds{XMin: 0, YMin: 0, XMax: 20, YMax: 30}, b)
}

func TestAffineFlat(t *testing.T) {
	a := NewAffine(100, 200, 10, -10)
	flat := a.Flat()
	assert.Equal(t, [6]float64{100, 10, 0, 200, 0, -10}, flat)
}

func TestBoundsPredicates(t *testing.T) {
	b := Bounds{XMin: 0, YMin: 0, XMax: 10, YMax: 10}

	assert.True(t, b.Contains(5, 5))
	assert.True(t, b.Contains(0, 10))
	assert.False(t, b.Contains(-1, 5))

	assert.True(t, b.Intersects(Bounds{XMin: 5, YMin: 5, XMax: 15, YMax: 15}))
	assert.False(t, b.Intersects(Bounds{XMin: 11, YMin: 11, XMax: 20, YMax: 20}))

	got := b.Intersection(Bounds{XMin: 5, YMin: -5, XMax: 15, YMax: 5})
	assert.Equal(t, Bounds{XMin: 5, YMin: 0, XMax: 10, YMax: 5}, got)
}

func TestNormalizeCRS(t *testing.T) {
	assert.Equal(t, "EPSG:4326", NormalizeCRS("epsg:4326"))
	assert.Equal(t, "EPSG:3857", NormalizeCRS(" EPSG:3857 "))
	assert.True(t, SameCRS("epsg:4326", WGS84))
	assert.False(t, SameCRS(WGS84, WebMercator))
}

func TestAffineMul(t *testing.T) {
	scale := Affine{A: 2, E: 2}
	shift := Affine{A: 1, C: 10, E: 1, F: 20}

	// shift then scale
	combined := scale.Mul(shift)
	x, y := combined.Apply(1, 1)
	sx, sy := shift.Apply(1, 1)
	ex, ey := scale.Apply(sx, sy)
	assert.Equal(t, ex, x)
	assert.Equal(t, ey, y)
	if math.IsNaN(x) || math.IsNaN(y) {
		t.Fatal("composition produced NaN")
	}
}
