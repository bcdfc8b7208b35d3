package flight

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridkit/pkg/raster"
)

func TestParquetBatchHandlerMerge(t *testing.T) {
	ctx := context.Background()

	// Two bands produce two record batches, so the merge has to stitch
	// more than one spilled file back together.
	grid, err := raster.New(
		[]float64{1, 2, 3, 4, 10, 20, 30, 40},
		raster.Shape{Bands: 2, Rows: 2, Cols: 2},
		raster.Int32,
	)
	require.NoError(t, err)

	recs, err := grid.ToRecordBatches(ctx)
	require.NoError(t, err)
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	require.Len(t, recs, 2)

	handler, err := NewParquetBatchHandler()
	require.NoError(t, err)
	defer handler.Cleanup()

	for _, rec := range recs {
		require.NoError(t, handler.AddRecordBatch(rec))
	}
	assert.Equal(t, int64(8), handler.totalRows)

	mergedPath, err := handler.MergeParquetFiles()
	require.NoError(t, err)

	out, err := raster.Open(mergedPath)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, grid.Shape(), out.Shape())
	assert.Equal(t, raster.Int32, out.DType())

	values, err := out.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 10, 20, 30, 40}, values)
}

func TestParquetBatchHandlerMergeEmpty(t *testing.T) {
	handler, err := NewParquetBatchHandler()
	require.NoError(t, err)
	defer handler.Cleanup()

	if _, err := handler.MergeParquetFiles(); err == nil {
		t.Error("Expected error merging with no spilled files, got nil")
	}
}

func TestParquetBatchHandlerCleanup(t *testing.T) {
	handler, err := NewParquetBatchHandler()
	require.NoError(t, err)

	require.NoError(t, handler.Cleanup())
	if _, err := os.Stat(handler.tempDir); !os.IsNotExist(err) {
		t.Errorf("Expected temp dir to be removed, stat err: %v", err)
	}
}
