package projection

import (
	"context"
	"fmt"
	"math"

	"gridkit/pkg/geom"
	"gridkit/pkg/raster"
)

// Reproject warps a raster into a target CRS. The output keeps the
// input's cell counts; the extent comes from transforming the source
// corners, and cells sample the source by nearest neighbor. Cells that
// land outside the source grid are null.
func Reproject(ctx context.Context, r *raster.Raster, toCRS string) (*raster.Raster, error) {
	if r.CRS() == "" {
		return nil, fmt.Errorf("raster has no CRS; use SetCRS before reprojecting")
	}
	toCRS = geom.NormalizeCRS(toCRS)
	if geom.SameCRS(r.CRS(), toCRS) {
		return r.Copy(), nil
	}

	s := r.Shape()
	src := r.Bounds()

	// Transform the source corner ring to find the target extent.
	cornersX := []float64{src.XMin, src.XMax, src.XMin, src.XMax}
	cornersY := []float64{src.YMin, src.YMin, src.YMax, src.YMax}
	tx, ty, err := TransformPoints(ctx, cornersX, cornersY, r.CRS(), toCRS)
	if err != nil {
		return nil, err
	}
	dst := geom.Bounds{XMin: tx[0], YMin: ty[0], XMax: tx[0], YMax: ty[0]}
	for i := 1; i < len(tx); i++ {
		dst.XMin = math.Min(dst.XMin, tx[i])
		dst.YMin = math.Min(dst.YMin, ty[i])
		dst.XMax = math.Max(dst.XMax, tx[i])
		dst.YMax = math.Max(dst.YMax, ty[i])
	}

	affine := geom.NewAffine(
		dst.XMin, dst.YMin,
		(dst.XMax-dst.XMin)/float64(s.Cols),
		(dst.YMax-dst.YMin)/float64(s.Rows),
	)

	// Map every target cell center back into the source CRS in one
	// round trip.
	n := s.Rows * s.Cols
	cx := make([]float64, n)
	cy := make([]float64, n)
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			x, y := affine.CellCenter(col, row)
			cx[row*s.Cols+col] = x
			cy[row*s.Cols+col] = y
		}
	}
	bx, by, err := TransformPoints(ctx, cx, cy, toCRS, r.CRS())
	if err != nil {
		return nil, err
	}

	values, err := r.Values(ctx)
	if err != nil {
		return nil, err
	}
	mask, err := r.Mask(ctx)
	if err != nil {
		return nil, err
	}

	inv, err := r.Affine().Invert()
	if err != nil {
		return nil, err
	}

	null := math.NaN()
	if r.NullValue() != nil {
		null = *r.NullValue()
	}

	out := make([]float64, s.Size())
	per := s.Rows * s.Cols
	for i := 0; i < n; i++ {
		fc, fr := inv.Apply(bx[i], by[i])
		col, row := int(math.Floor(fc)), int(math.Floor(fr))
		for band := 0; band < s.Bands; band++ {
			dsti := band*per + i
			if col < 0 || col >= s.Cols || row < 0 || row >= s.Rows {
				out[dsti] = null
				continue
			}
			srci := band*per + row*s.Cols + col
			if mask != nil && mask[srci] {
				out[dsti] = null
				continue
			}
			out[dsti] = values[srci]
		}
	}

	dt := r.DType()
	if !dt.IsFloat() {
		// Integer rasters need a float type to hold NaN fill unless a
		// null value is already declared.
		if r.NullValue() == nil {
			dt = raster.Float64
		}
	}
	res, err := raster.New(out, s, dt)
	if err != nil {
		return nil, err
	}
	res = res.SetAffine(affine).SetCRS(toCRS)
	if r.NullValue() != nil {
		res = res.SetNullValue(r.NullValue())
	}
	for k, v := range r.Attrs() {
		res.SetAttr(k, v)
	}
	return res, nil
}
