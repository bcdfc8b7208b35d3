package clipping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"gridkit/pkg/geom"
	"gridkit/pkg/raster"
)

// grid4x4 is a north-up 4x4 grid with origin (0, 4), unit cells and
// values 0..15 in row-major order.
func grid4x4(t *testing.T) *raster.Raster {
	t.Helper()
	values := make([]float64, 16)
	for i := range values {
		values[i] = float64(i)
	}
	r, err := raster.New(values, raster.Shape{Bands: 1, Rows: 4, Cols: 4}, raster.Float64)
	if err != nil {
		t.Fatal(err)
	}
	return r.SetAffine(geom.NewAffine(0, 4, 1, -1)).SetCRS("EPSG:3857")
}

func TestClipBox(t *testing.T) {
	r := grid4x4(t)

	out, err := ClipBox(r, geom.Bounds{XMin: 1, YMin: 1, XMax: 3, YMax: 3})
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, raster.Shape{Bands: 1, Rows: 2, Cols: 2}, out.Shape())
	values, err := out.Values(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 9, 10}, values)

	// Origin moves to the new top-left corner
	x, y := out.Affine().Apply(0, 0)
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 3.0, y)
	assert.Equal(t, "EPSG:3857", out.CRS())
}

func TestClipBoxClampsToExtent(t *testing.T) {
	r := grid4x4(t)

	out, err := ClipBox(r, geom.Bounds{XMin: -10, YMin: 2, XMax: 10, YMax: 10})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, raster.Shape{Bands: 1, Rows: 2, Cols: 4}, out.Shape())

	values, err := out.Values(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7}, values)
}

func TestClipBoxEmpty(t *testing.T) {
	r := grid4x4(t)

	_, err := ClipBox(r, geom.Bounds{XMin: 100, YMin: 100, XMax: 200, YMax: 200})
	if !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
}

func TestClipBoxInvalidBounds(t *testing.T) {
	r := grid4x4(t)

	if _, err := ClipBox(r, geom.Bounds{XMin: 3, YMin: 1, XMax: 1, YMax: 3}); err == nil {
		t.Error("Expected error for inverted bounds, got nil")
	}
}

func TestClipBoxClipsMask(t *testing.T) {
	values := make([]float64, 16)
	for i := range values {
		values[i] = float64(i)
	}
	values[5] = -999
	r, err := raster.New(values, raster.Shape{Bands: 1, Rows: 4, Cols: 4}, raster.Int32)
	if err != nil {
		t.Fatal(err)
	}
	nv := -999.0
	r = r.SetNullValue(&nv).SetAffine(geom.NewAffine(0, 4, 1, -1))

	out, err := ClipBox(r, geom.Bounds{XMin: 1, YMin: 1, XMax: 3, YMax: 3})
	if err != nil {
		t.Fatal(err)
	}

	mask, err := out.Mask(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false}, mask)

	clipped, err := out.Values(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []float64{-999, 6, 9, 10}, clipped)
	if assert.NotNil(t, out.NullValue()) {
		assert.Equal(t, -999.0, *out.NullValue())
	}
}

func TestClipRequiresCRS(t *testing.T) {
	r, err := raster.New([]float64{1, 2, 3, 4}, raster.Shape{Bands: 1, Rows: 2, Cols: 2}, raster.Float64)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Clip(context.Background(), nil, r); err == nil {
		t.Error("Expected error for raster without CRS, got nil")
	}
}
