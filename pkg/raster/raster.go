package raster

import (
	"context"
	"fmt"
	"math"
	"os"

	"gridkit/pkg/geom"
)

// Raster is a lazily evaluated, null aware, georeferenced grid of one
// or more bands. Operations never mutate the receiver; they wrap the
// expression graph and return a new Raster sharing the underlying
// buffers until Eval materializes a result.
type Raster struct {
	node   node
	crs    string
	affine geom.Affine
	null   *float64
	attrs  map[string]string

	tempDir    string
	sourceFile *string
}

// New creates a raster over a flat band-major value slice. The slice
// length must equal shape.Size() and every dimension must be positive.
// Float dtyped rasters get a NaN null value and NaN cells start masked;
// integer and bool rasters start unmasked (no null value).
func New(values []float64, shape Shape, dt DType) (*Raster, error) {
	if shape.Bands < 1 || shape.Rows < 1 || shape.Cols < 1 {
		return nil, fmt.Errorf("invalid raster shape %s: all dimensions must be positive", shape)
	}
	if len(values) != shape.Size() {
		return nil, fmt.Errorf("value count %d does not match shape %s", len(values), shape)
	}
	if _, ok := dtypeNames[dt]; !ok {
		return nil, fmt.Errorf("unknown dtype: %v", dt)
	}
	buf := &buffer{shape: shape, values: make([]float64, len(values))}
	for i, v := range values {
		buf.values[i] = castValue(v, dt)
	}
	null := DefaultNullValue(dt)
	if null != nil {
		m := buf.ensureMask()
		for i, v := range buf.values {
			m[i] = math.IsNaN(v)
		}
	}
	return &Raster{
		node:   &leafNode{buf: buf, dt: dt},
		affine: geom.IdentityAffine(),
		null:   null,
		attrs:  map[string]string{},
	}, nil
}

// New2D promotes a single 2-D grid to a one band raster.
func New2D(values [][]float64, dt DType) (*Raster, error) {
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, fmt.Errorf("empty 2-D grid")
	}
	rows, cols := len(values), len(values[0])
	flat := make([]float64, 0, rows*cols)
	for i, row := range values {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged 2-D grid: row %d has %d values, want %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return New(flat, Shape{Bands: 1, Rows: rows, Cols: cols}, dt)
}

// withNode clones the raster metadata around a new graph node.
func (r *Raster) withNode(n node) *Raster {
	attrs := make(map[string]string, len(r.attrs))
	for k, v := range r.attrs {
		attrs[k] = v
	}
	return &Raster{node: n, crs: r.crs, affine: r.affine, null: r.null, attrs: attrs}
}

// Shape returns the (bands, rows, cols) extent.
func (r *Raster) Shape() Shape { return r.node.shape() }

// DType returns the logical element type.
func (r *Raster) DType() DType { return r.node.dtype() }

// NullValue returns the null sentinel, or nil when the raster is not
// masked.
func (r *Raster) NullValue() *float64 { return r.null }

// Masked reports whether the raster carries a null value.
func (r *Raster) Masked() bool { return r.null != nil }

// Affine returns the georeferencing transform.
func (r *Raster) Affine() geom.Affine { return r.affine }

// CRS returns the coordinate reference system, empty when none is set.
func (r *Raster) CRS() string { return r.crs }

// Resolution returns the absolute cell sizes.
func (r *Raster) Resolution() (xres, yres float64) { return r.affine.Resolution() }

// Bounds returns the world extent of the raster.
func (r *Raster) Bounds() geom.Bounds {
	s := r.Shape()
	return r.affine.Bounds(s.Rows, s.Cols)
}

// Attrs returns the metadata attributes map.
func (r *Raster) Attrs() map[string]string { return r.attrs }

// SetAttr records a metadata attribute.
func (r *Raster) SetAttr(key, value string) { r.attrs[key] = value }

// SetAffine returns a raster with a new georeferencing transform.
func (r *Raster) SetAffine(t geom.Affine) *Raster {
	out := r.withNode(r.node)
	out.affine = t
	return out
}

// SetCRS returns a raster tagged with the given CRS. Cell values are
// untouched; use projection.Reproject to actually warp.
func (r *Raster) SetCRS(crs string) *Raster {
	out := r.withNode(r.node)
	out.crs = geom.NormalizeCRS(crs)
	return out
}

// SetNullValue returns a raster with a new null value. Cells equal to
// the sentinel become masked on top of any existing mask. A nil value
// clears the null value and the mask.
func (r *Raster) SetNullValue(value *float64) *Raster {
	if value == nil {
		out := r.withNode(&clearMaskNode{src: r.node})
		out.null = nil
		return out
	}
	v := *value
	out := r.withNode(&sentinelMaskNode{src: r.node, sentinel: v})
	out.null = &v
	return out
}

// ReplaceNull fills masked cells with value and clears the mask. The
// null value metadata is kept (original behavior: the raster simply has
// no null cells afterwards).
func (r *Raster) ReplaceNull(value float64) *Raster {
	return r.withNode(&clearMaskNode{src: &fillNode{src: r.node, fill: value}})
}

// ToNullMask returns a bool raster that is true where the receiver is
// null.
func (r *Raster) ToNullMask() *Raster {
	out := r.withNode(&maskNode{src: r.node})
	out.null = nil
	return out
}

// Astype casts the raster to a new dtype, accepting a DType or a dtype
// name/code string ("float32", "I4", ...).
func (r *Raster) Astype(dtype any) (*Raster, error) {
	dt, err := coerceDType(dtype)
	if err != nil {
		return nil, err
	}
	if dt == r.DType() {
		return r.Copy(), nil
	}
	return r.withNode(&castNode{src: r.node, dt: dt}), nil
}

// GetBands selects bands by 1 based index, repeats allowed. The result
// band dimension is renumbered from 1.
func (r *Raster) GetBands(bands ...int) (*Raster, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("no bands provided")
	}
	n := r.Shape().Bands
	zero := make([]int, len(bands))
	for i, b := range bands {
		if b < 1 || b > n {
			return nil, fmt.Errorf("band index %d out of range [1, %d]", b, n)
		}
		zero[i] = b - 1
	}
	return r.withNode(&bandsNode{src: r.node, bands: zero}), nil
}

// BandConcat stacks the bands of the given rasters into one raster.
// All inputs must share row/col dimensions; metadata comes from the
// first input.
func BandConcat(rasters []*Raster) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("no rasters to concatenate")
	}
	first := rasters[0].Shape()
	srcs := make([]node, len(rasters))
	for i, rs := range rasters {
		s := rs.Shape()
		if s.Rows != first.Rows || s.Cols != first.Cols {
			return nil, fmt.Errorf("raster %d shape %s does not align with %s", i, s, first)
		}
		srcs[i] = rs.node
	}
	return rasters[0].withNode(&concatNode{srcs: srcs}), nil
}

// Where selects the receiver's cells where cond is nonzero and other
// elsewhere. cond must be bool or integer dtyped. other may be a
// Raster, a scalar, or a path to a saved raster.
func (r *Raster) Where(cond *Raster, other any) (*Raster, error) {
	if cond == nil {
		return nil, fmt.Errorf("condition raster is nil")
	}
	cdt := cond.DType()
	if cdt != Bool && !cdt.IsInt() {
		return nil, fmt.Errorf("condition raster must be boolean or integer typed, got %s", cdt)
	}
	if cs, rs := cond.Shape(), r.Shape(); cs != rs {
		return nil, fmt.Errorf("condition shape %s does not align with %s", cs, rs)
	}
	if other == nil {
		return nil, fmt.Errorf("other must be a raster, scalar, or path, got nil")
	}
	if path, ok := other.(string); ok {
		opened, err := Open(path)
		if err != nil {
			return nil, err
		}
		other = opened
	}
	on, odt, err := r.operandNode(other)
	if err != nil {
		return nil, err
	}
	dt := promote(r.DType(), odt)
	return r.withNode(&whereNode{cond: cond.node, self: r.node, other: on, dt: dt}), nil
}

// RemapRange maps value ranges to new values. Ranges are half open
// [Min, Max); the first matching mapping wins.
func (r *Raster) RemapRange(mappings ...RangeMapping) (*Raster, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("no range mappings provided")
	}
	for i, m := range mappings {
		if !(m.Min < m.Max) {
			return nil, fmt.Errorf("mapping %d: min %v must be less than max %v", i, m.Min, m.Max)
		}
	}
	return r.withNode(&remapNode{src: r.node, mappings: append([]RangeMapping(nil), mappings...)}), nil
}

// Eval materializes the expression graph with the chunked parallel
// evaluator and returns a new raster holding the result. The receiver
// keeps its lazy graph untouched.
func (r *Raster) Eval(ctx context.Context) (*Raster, error) {
	buf, err := r.node.eval(ctx)
	if err != nil {
		return nil, err
	}
	return r.withNode(&leafNode{buf: buf.clone(), dt: r.node.dtype()}), nil
}

// Values forces evaluation and returns the flat band-major values.
func (r *Raster) Values(ctx context.Context) ([]float64, error) {
	buf, err := r.node.eval(ctx)
	if err != nil {
		return nil, err
	}
	return buf.values, nil
}

// Mask forces evaluation and returns the null mask, nil when unmasked.
func (r *Raster) Mask(ctx context.Context) ([]bool, error) {
	buf, err := r.node.eval(ctx)
	if err != nil {
		return nil, err
	}
	return buf.mask, nil
}

// Copy returns a deep, independent copy. The expression graph is shared
// structurally (nodes are immutable) but metadata is cloned and any
// materialized leaf is duplicated on the next Eval.
func (r *Raster) Copy() *Raster {
	return r.withNode(r.node)
}

// IsMaterialized reports whether the raster has been sunk to a parquet
// file.
func (r *Raster) IsMaterialized() bool { return r.sourceFile != nil }

// SourceFile returns the materialized parquet path, nil when in memory.
func (r *Raster) SourceFile() *string { return r.sourceFile }

// Close releases any temp files created by Sink.
func (r *Raster) Close() {
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
		r.tempDir = ""
	}
	r.sourceFile = nil
}

// sentinelMaskNode marks cells equal to the sentinel as null.
type sentinelMaskNode struct {
	src      node
	sentinel float64
}

func (s *sentinelMaskNode) shape() Shape { return s.src.shape() }
func (s *sentinelMaskNode) dtype() DType { return s.src.dtype() }

func (s *sentinelMaskNode) eval(ctx context.Context) (*buffer, error) {
	in, err := s.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := &buffer{shape: in.shape, values: append([]float64(nil), in.values...)}
	m := out.ensureMask()
	nan := math.IsNaN(s.sentinel)
	for i, v := range out.values {
		m[i] = in.masked(i) || v == s.sentinel || (nan && math.IsNaN(v))
	}
	return out, ctx.Err()
}

// clearMaskNode drops the mask entirely.
type clearMaskNode struct {
	src node
}

func (c *clearMaskNode) shape() Shape { return c.src.shape() }
func (c *clearMaskNode) dtype() DType { return c.src.dtype() }

func (c *clearMaskNode) eval(ctx context.Context) (*buffer, error) {
	in, err := c.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	return &buffer{shape: in.shape, values: in.values}, ctx.Err()
}
