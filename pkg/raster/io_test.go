package raster

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArrowRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := mustNew(t, []float64{1, math.NaN(), 3, 4, 5, 6}, Shape{Bands: 1, Rows: 2, Cols: 3}, Float64)
	r = r.SetCRS("EPSG:3857")

	recs, err := r.ToRecordBatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	got, err := FromRecordBatches(recs)
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, r.Shape(), got.Shape())
	assert.Equal(t, Float64, got.DType())
	assert.Equal(t, "EPSG:3857", got.CRS())
	assert.Equal(t, r.Affine(), got.Affine())
	assert.Equal(t, []bool{false, true, false, false, false, false}, evalMask(t, got))

	values := evalValues(t, got)
	assert.Equal(t, 1.0, values[0])
	assert.True(t, math.IsNaN(values[1]))
	assert.Equal(t, []float64{3, 4, 5, 6}, values[2:])
}

func TestArrowRoundTripMultiBandInt(t *testing.T) {
	ctx := context.Background()
	r := mustNew(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, Shape{Bands: 2, Rows: 2, Cols: 2}, Int32)

	recs, err := r.ToRecordBatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	got, err := FromRecordBatches(recs)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, Int32, got.DType())
	assert.False(t, got.Masked())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, evalValues(t, got))
}

func TestFromRecordBatchesEmpty(t *testing.T) {
	if _, err := FromRecordBatches(nil); err == nil {
		t.Error("Expected error for no batches, got nil")
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.parquet")

	nv := -999.0
	r := mustNew(t, []float64{1, -999, 3, 4}, Shape{Bands: 1, Rows: 2, Cols: 2}, Int32)
	r = r.SetNullValue(&nv).SetCRS("EPSG:4326")

	if err := r.Save(ctx, path); err != nil {
		t.Fatal(err)
	}

	got, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, r.Shape(), got.Shape())
	assert.Equal(t, Int32, got.DType())
	assert.Equal(t, "EPSG:4326", got.CRS())
	if assert.NotNil(t, got.NullValue()) {
		assert.Equal(t, -999.0, *got.NullValue())
	}
	assert.Equal(t, []bool{false, true, false, false}, evalMask(t, got))
	assert.Equal(t, []float64{1, -999, 3, 4}, evalValues(t, got))
}

func TestSink(t *testing.T) {
	ctx := context.Background()
	r := mustNew(t, []float64{1, 2, 3, 4}, Shape{Bands: 1, Rows: 2, Cols: 2}, Float64)

	assert.False(t, r.IsMaterialized())
	if err := r.Sink(ctx); err != nil {
		t.Fatal(err)
	}
	assert.True(t, r.IsMaterialized())

	path := r.SourceFile()
	if path == nil {
		t.Fatal("Expected source file after Sink")
	}
	if _, err := os.Stat(*path); err != nil {
		t.Errorf("Expected sunk parquet file to exist: %v", err)
	}

	r.Close()
	assert.False(t, r.IsMaterialized())
	if _, err := os.Stat(*path); !os.IsNotExist(err) {
		t.Error("Expected temp file removed after Close")
	}
}

func TestSaveImage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := mustNew(t, []float64{0, 50, 100, 150, 200, 250}, Shape{Bands: 1, Rows: 2, Cols: 3}, Float64)

	for _, name := range []string{"grid.png", "grid.tif"} {
		path := filepath.Join(dir, name)
		if err := r.SaveImage(ctx, path, 1); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		assert.Greater(t, info.Size(), int64(0), name)
	}

	if err := r.SaveImage(ctx, filepath.Join(dir, "grid.bmp"), 1); err == nil {
		t.Error("Expected error for unsupported image format, got nil")
	}
	if err := r.SaveImage(ctx, filepath.Join(dir, "grid2.png"), 2); err == nil {
		t.Error("Expected error for band out of range, got nil")
	}
}
