package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"gridkit/pkg/geom"
)

func TestTransformPointsValidation(t *testing.T) {
	ctx := context.Background()

	if _, _, err := TransformPoints(ctx, []float64{1, 2}, []float64{1}, geom.WGS84, geom.WebMercator); err == nil {
		t.Error("Expected error for mismatched slice lengths, got nil")
	}
	if _, _, err := TransformPoints(ctx, nil, nil, geom.WGS84, geom.WebMercator); err == nil {
		t.Error("Expected error for empty input, got nil")
	}
}

func TestTransformPoints(t *testing.T) {
	t.Run(
		"transform to web mercator and back", func(t *testing.T) {
			ctx := context.Background()

			xs := []float64{95.42103999972832, 106.8456}
			ys := []float64{5.647860000331377, -6.2088}

			mx, my, err := TransformPoints(ctx, xs, ys, geom.WGS84, geom.WebMercator)
			if err != nil {
				t.Fatal(err)
			}
			assert.Len(t, mx, 2)

			// Web mercator coordinates are in meters, far from degrees
			assert.Greater(t, mx[0], 1e6)

			bx, by, err := TransformPoints(ctx, mx, my, geom.WebMercator, geom.WGS84)
			if err != nil {
				t.Fatal(err)
			}
			for i := range xs {
				assert.InDelta(t, xs[i], bx[i], 1e-6)
				assert.InDelta(t, ys[i], by[i], 1e-6)
			}
		},
	)
}
