package focal

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"gridkit/pkg/raster"
)

func grid3x3(t *testing.T) *raster.Raster {
	t.Helper()
	r, err := raster.New(
		[]float64{1, 2, 3, 4, 5, 6, 7, 8, 9},
		raster.Shape{Bands: 1, Rows: 3, Cols: 3},
		raster.Float64,
	)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestFocalMax(t *testing.T) {
	out, err := Focal(context.Background(), grid3x3(t), "max", 3)
	assert.NoError(t, err)

	values, err := out.Values(context.Background())
	assert.NoError(t, err)
	// Window edges shrink at the border
	assert.Equal(t, []float64{5, 6, 6, 8, 9, 9, 8, 9, 9}, values)
}

func TestFocalMean(t *testing.T) {
	out, err := Focal(context.Background(), grid3x3(t), "mean", 3)
	assert.NoError(t, err)
	assert.Equal(t, raster.Float64, out.DType())

	values, err := out.Values(context.Background())
	assert.NoError(t, err)
	// Center of a full 3x3 window
	assert.InDelta(t, 5.0, values[4], 1e-9)
	// Top-left corner sees a 2x2 window: 1, 2, 4, 5
	assert.InDelta(t, 3.0, values[0], 1e-9)
}

func TestFocalMedianAndSum(t *testing.T) {
	ctx := context.Background()
	out, err := Focal(ctx, grid3x3(t), "median", 3)
	assert.NoError(t, err)
	values, err := out.Values(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, values[4])

	out, err = Focal(ctx, grid3x3(t), "sum", 3)
	assert.NoError(t, err)
	values, err = out.Values(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 45.0, values[4])
	assert.Equal(t, 12.0, values[0])
}

func TestFocalSkipsNulls(t *testing.T) {
	ctx := context.Background()
	r, err := raster.New(
		[]float64{1, math.NaN(), 3, 4},
		raster.Shape{Bands: 1, Rows: 2, Cols: 2},
		raster.Float64,
	)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Focal(ctx, r, "sum", 3)
	assert.NoError(t, err)
	values, err := out.Values(ctx)
	assert.NoError(t, err)
	// Every window covers the whole grid; the null cell contributes nothing
	assert.Equal(t, []float64{8, 8, 8, 8}, values)
}

func TestFocalIntDTypeKeptWhenUnmasked(t *testing.T) {
	ctx := context.Background()
	r, err := raster.New(
		[]float64{1, 2, 3, 4},
		raster.Shape{Bands: 1, Rows: 2, Cols: 2},
		raster.Int32,
	)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Focal(ctx, r, "max", 3)
	assert.NoError(t, err)
	assert.Equal(t, raster.Int32, out.DType())

	// Mean always widens to float
	out, err = Focal(ctx, r, "mean", 3)
	assert.NoError(t, err)
	assert.Equal(t, raster.Float64, out.DType())
}

func TestFocalValidation(t *testing.T) {
	r := grid3x3(t)
	if _, err := Focal(context.Background(), r, "bogus", 3); err == nil {
		t.Error("Expected error for unknown stat, got nil")
	}
	if _, err := Focal(context.Background(), r, "mean", 4); err == nil {
		t.Error("Expected error for even window width, got nil")
	}
	if _, err := Focal(context.Background(), r, "mean", 0); err == nil {
		t.Error("Expected error for zero window width, got nil")
	}
}

func TestFocalCarriesMetadata(t *testing.T) {
	r := grid3x3(t).SetCRS("EPSG:3857")
	out, err := Focal(context.Background(), r, "mean", 3)
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:3857", out.CRS())
	assert.Equal(t, r.Affine(), out.Affine())
}

func TestConvolveIdentity(t *testing.T) {
	ctx := context.Background()
	out, err := Convolve(ctx, grid3x3(t), [][]float64{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}})
	assert.NoError(t, err)

	values, err := out.Values(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, values)
}

func TestConvolveBoxSum(t *testing.T) {
	ctx := context.Background()
	out, err := Convolve(ctx, grid3x3(t), [][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}})
	assert.NoError(t, err)

	values, err := out.Values(ctx)
	assert.NoError(t, err)
	// Center cell sums the full grid; cells past the edge contribute zero
	assert.Equal(t, 45.0, values[4])
	assert.Equal(t, 12.0, values[0])
}

func TestConvolveKeepsNullCenters(t *testing.T) {
	ctx := context.Background()
	r, err := raster.New(
		[]float64{1, math.NaN(), 3, 4},
		raster.Shape{Bands: 1, Rows: 2, Cols: 2},
		raster.Float64,
	)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Convolve(ctx, r, [][]float64{{1}})
	assert.NoError(t, err)
	values, err := out.Values(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, values[0])
	assert.True(t, math.IsNaN(values[1]))
}

func TestConvolveValidation(t *testing.T) {
	r := grid3x3(t)
	if _, err := Convolve(context.Background(), r, nil); err == nil {
		t.Error("Expected error for empty kernel, got nil")
	}
	if _, err := Convolve(context.Background(), r, [][]float64{{1, 2}, {3}}); err == nil {
		t.Error("Expected error for ragged kernel, got nil")
	}
}
