// Package clipping cuts rasters against vector geometries and boxes.
// Box clipping is affine index math; polygon containment runs as
// spatial SQL over the raster's cell-center Arrow view.
package clipping

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gridkit/pkg/geom"
	"gridkit/pkg/raster"
	"gridkit/pkg/vector"
)

// ErrNoData is returned when a clip leaves no cells.
var ErrNoData = errors.New("clip produced an empty raster")

type clipOptions struct {
	bounds   *geom.Bounds
	invert   bool
	envelope bool
	trim     bool
}

// Clip trims the raster to the vector's bounds and nulls cells outside
// the geometry.
func Clip(ctx context.Context, v *vector.Vector, r *raster.Raster, bounds ...geom.Bounds) (*raster.Raster, error) {
	opts := clipOptions{trim: true}
	if len(bounds) > 0 {
		opts.bounds = &bounds[0]
	}
	return clip(ctx, v, r, opts)
}

// Erase is the inverse of Clip: cells inside the geometry become null.
func Erase(ctx context.Context, v *vector.Vector, r *raster.Raster, bounds ...geom.Bounds) (*raster.Raster, error) {
	opts := clipOptions{trim: true, invert: true}
	if len(bounds) > 0 {
		opts.bounds = &bounds[0]
	}
	return clip(ctx, v, r, opts)
}

// Mask nulls cells outside the geometry (inside, when invert) while
// keeping the full raster extent.
func Mask(ctx context.Context, v *vector.Vector, r *raster.Raster, invert ...bool) (*raster.Raster, error) {
	opts := clipOptions{}
	if len(invert) > 0 {
		opts.invert = invert[0]
	}
	return clip(ctx, v, r, opts)
}

// Envelope trims the raster to the vector's bounding box without
// testing the geometry itself.
func Envelope(ctx context.Context, v *vector.Vector, r *raster.Raster) (*raster.Raster, error) {
	return clip(ctx, v, r, clipOptions{trim: true, envelope: true})
}

func clip(ctx context.Context, v *vector.Vector, r *raster.Raster, opts clipOptions) (*raster.Raster, error) {
	if r.CRS() == "" {
		return nil, fmt.Errorf("raster must have a CRS for vector clipping")
	}
	if opts.invert && opts.envelope {
		return nil, fmt.Errorf("invert and envelope cannot be combined")
	}
	if v == nil || v.Len() == 0 {
		return nil, fmt.Errorf("vector has no features")
	}

	work := r
	if opts.trim {
		b := opts.bounds
		if b == nil {
			vb, err := v.Bounds()
			if err != nil {
				return nil, err
			}
			b = &vb
		}
		if !b.Intersects(r.Bounds()) {
			return nil, fmt.Errorf("clip bounds do not intersect the raster extent")
		}
		clipped, err := ClipBox(r, *b)
		if err != nil {
			return nil, err
		}
		work = clipped
	}
	if opts.envelope {
		return work, nil
	}

	inside, err := cellsInside(ctx, v, work)
	if err != nil {
		return nil, err
	}

	s := work.Shape()
	condValues := make([]float64, s.Size())
	per := s.Rows * s.Cols
	for band := 0; band < s.Bands; band++ {
		for i := 0; i < per; i++ {
			keep := inside[i]
			if opts.invert {
				keep = !keep
			}
			if keep {
				condValues[band*per+i] = 1
			}
		}
	}
	cond, err := raster.New(condValues, s, raster.Bool)
	if err != nil {
		return nil, err
	}

	nv := math.NaN()
	if work.NullValue() != nil {
		nv = *work.NullValue()
	}
	out, err := work.Where(cond, nv)
	if err != nil {
		return nil, err
	}
	out = out.SetNullValue(&nv)
	if dt := work.DType(); dt.IsFloat() || work.NullValue() != nil {
		// Keep the input dtype when the null sentinel fits in it.
		if out, err = out.Astype(dt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ClipBox trims the raster to a world coordinate box. The null mask is
// clipped alongside the values. A box fully outside the raster returns
// ErrNoData.
func ClipBox(r *raster.Raster, b geom.Bounds) (*raster.Raster, error) {
	if b.XMax < b.XMin || b.YMax < b.YMin {
		return nil, fmt.Errorf("invalid bounds: max must not be less than min")
	}
	s := r.Shape()
	inv, err := r.Affine().Invert()
	if err != nil {
		return nil, err
	}

	c0, r0 := inv.Apply(b.XMin, b.YMin)
	c1, r1 := inv.Apply(b.XMax, b.YMax)
	colLo := int(math.Floor(math.Min(c0, c1)))
	colHi := int(math.Ceil(math.Max(c0, c1)))
	rowLo := int(math.Floor(math.Min(r0, r1)))
	rowHi := int(math.Ceil(math.Max(r0, r1)))

	colLo = max(colLo, 0)
	rowLo = max(rowLo, 0)
	colHi = min(colHi, s.Cols)
	rowHi = min(rowHi, s.Rows)
	if colHi <= colLo || rowHi <= rowLo {
		return nil, ErrNoData
	}

	ctx := context.Background()
	values, err := r.Values(ctx)
	if err != nil {
		return nil, err
	}
	mask, err := r.Mask(ctx)
	if err != nil {
		return nil, err
	}

	out := raster.Shape{Bands: s.Bands, Rows: rowHi - rowLo, Cols: colHi - colLo}
	clipped := make([]float64, out.Size())
	per := s.Rows * s.Cols
	nv := math.NaN()
	if r.NullValue() != nil {
		nv = *r.NullValue()
	}
	for band := 0; band < s.Bands; band++ {
		for row := rowLo; row < rowHi; row++ {
			for col := colLo; col < colHi; col++ {
				src := band*per + row*s.Cols + col
				dst := (band*out.Rows+(row-rowLo))*out.Cols + (col - colLo)
				if mask != nil && mask[src] {
					clipped[dst] = nv
				} else {
					clipped[dst] = values[src]
				}
			}
		}
	}

	res, err := raster.New(clipped, out, r.DType())
	if err != nil {
		return nil, err
	}
	ox, oy := r.Affine().Apply(float64(colLo), float64(rowLo))
	a := r.Affine()
	res = res.SetAffine(geom.Affine{A: a.A, B: a.B, C: ox, D: a.D, E: a.E, F: oy})
	if r.CRS() != "" {
		res = res.SetCRS(r.CRS())
	}
	if r.NullValue() != nil {
		res = res.SetNullValue(r.NullValue())
	}
	for k, val := range r.Attrs() {
		res.SetAttr(k, val)
	}
	return res, nil
}
