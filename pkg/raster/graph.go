package raster

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Shape is the (bands, rows, cols) extent of a raster.
type Shape struct {
	Bands, Rows, Cols int
}

// Size is the total cell count across all bands.
func (s Shape) Size() int {
	return s.Bands * s.Rows * s.Cols
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Bands, s.Rows, s.Cols)
}

// buffer is a materialized block of raster data. mask is nil when the
// raster carries no nulls.
type buffer struct {
	shape  Shape
	values []float64
	mask   []bool
}

func newBuffer(shape Shape) *buffer {
	return &buffer{shape: shape, values: make([]float64, shape.Size())}
}

func (b *buffer) ensureMask() []bool {
	if b.mask == nil {
		b.mask = make([]bool, len(b.values))
	}
	return b.mask
}

func (b *buffer) masked(i int) bool {
	return b.mask != nil && b.mask[i]
}

func (b *buffer) clone() *buffer {
	out := &buffer{shape: b.shape, values: append([]float64(nil), b.values...)}
	if b.mask != nil {
		out.mask = append([]bool(nil), b.mask...)
	}
	return out
}

// node is one operation in the lazy expression graph. eval materializes
// the node's output; inner loops run chunk parallel.
type node interface {
	shape() Shape
	dtype() DType
	eval(ctx context.Context) (*buffer, error)
}

// evalChunkSize is the flat element count handed to each worker.
const evalChunkSize = 64 * 1024

// forChunks runs fn over [0,n) in parallel chunks, stopping early when
// the context is canceled.
func forChunks(ctx context.Context, n int, fn func(lo, hi int)) error {
	if n <= evalChunkSize {
		fn(0, n)
		return ctx.Err()
	}
	workers := runtime.GOMAXPROCS(0)
	var wg sync.WaitGroup
	next := make(chan [2]int, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range next {
				fn(c[0], c[1])
			}
		}()
	}
	for lo := 0; lo < n; lo += evalChunkSize {
		if ctx.Err() != nil {
			break
		}
		hi := min(lo+evalChunkSize, n)
		next <- [2]int{lo, hi}
	}
	close(next)
	wg.Wait()
	return ctx.Err()
}

// leafNode holds already materialized data.
type leafNode struct {
	buf *buffer
	dt  DType
}

func (l *leafNode) shape() Shape { return l.buf.shape }
func (l *leafNode) dtype() DType { return l.dt }

func (l *leafNode) eval(ctx context.Context) (*buffer, error) {
	return l.buf, ctx.Err()
}

// unaryNode applies an elementwise function. Scalar binary operations
// are expressed as unary closures capturing the scalar, which keeps the
// graph small and lets the evaluator fuse them per chunk.
type unaryNode struct {
	src node
	dt  DType
	fn  func(float64) float64
}

func (u *unaryNode) shape() Shape { return u.src.shape() }
func (u *unaryNode) dtype() DType { return u.dt }

func (u *unaryNode) eval(ctx context.Context) (*buffer, error) {
	in, err := u.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(in.shape)
	if in.mask != nil {
		out.mask = append([]bool(nil), in.mask...)
	}
	err = forChunks(ctx, len(out.values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.values[i] = castValue(u.fn(in.values[i]), u.dt)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// binaryNode combines two rasters elementwise. Masks union.
type binaryNode struct {
	left, right node
	dt          DType
	fn          func(a, b float64) float64
}

func (b *binaryNode) shape() Shape { return b.left.shape() }
func (b *binaryNode) dtype() DType { return b.dt }

func (b *binaryNode) eval(ctx context.Context) (*buffer, error) {
	l, err := b.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := b.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(l.shape)
	if l.mask != nil || r.mask != nil {
		m := out.ensureMask()
		for i := range m {
			m[i] = l.masked(i) || r.masked(i)
		}
	}
	err = forChunks(ctx, len(out.values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.values[i] = castValue(b.fn(l.values[i], r.values[i]), b.dt)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// castNode changes the dtype of its input.
type castNode struct {
	src node
	dt  DType
}

func (c *castNode) shape() Shape { return c.src.shape() }
func (c *castNode) dtype() DType { return c.dt }

func (c *castNode) eval(ctx context.Context) (*buffer, error) {
	in, err := c.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(in.shape)
	if in.mask != nil {
		out.mask = append([]bool(nil), in.mask...)
	}
	err = forChunks(ctx, len(out.values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.values[i] = castValue(in.values[i], c.dt)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// whereNode selects self where cond is nonzero, other elsewhere.
type whereNode struct {
	cond, self, other node
	dt                DType
}

func (w *whereNode) shape() Shape { return w.self.shape() }
func (w *whereNode) dtype() DType { return w.dt }

func (w *whereNode) eval(ctx context.Context) (*buffer, error) {
	c, err := w.cond.eval(ctx)
	if err != nil {
		return nil, err
	}
	s, err := w.self.eval(ctx)
	if err != nil {
		return nil, err
	}
	o, err := w.other.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(s.shape)
	if s.mask != nil || o.mask != nil {
		out.ensureMask()
	}
	err = forChunks(ctx, len(out.values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if c.values[i] != 0 {
				out.values[i] = castValue(s.values[i], w.dt)
				if out.mask != nil {
					out.mask[i] = s.masked(i)
				}
			} else {
				out.values[i] = castValue(o.values[i], w.dt)
				if out.mask != nil {
					out.mask[i] = o.masked(i)
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RangeMapping maps values in the half open interval [Min, Max) to
// NewValue. Earlier mappings win when ranges overlap.
type RangeMapping struct {
	Min, Max, NewValue float64
}

type remapNode struct {
	src      node
	mappings []RangeMapping
}

func (r *remapNode) shape() Shape { return r.src.shape() }
func (r *remapNode) dtype() DType { return r.src.dtype() }

func (r *remapNode) eval(ctx context.Context) (*buffer, error) {
	in, err := r.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(in.shape)
	if in.mask != nil {
		out.mask = append([]bool(nil), in.mask...)
	}
	dt := r.dtype()
	err = forChunks(ctx, len(out.values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := in.values[i]
			for _, m := range r.mappings {
				if v >= m.Min && v < m.Max {
					v = m.NewValue
					break
				}
			}
			out.values[i] = castValue(v, dt)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// bandsNode selects and reorders bands (0 based indices, repeats allowed).
type bandsNode struct {
	src   node
	bands []int
}

func (b *bandsNode) shape() Shape {
	s := b.src.shape()
	return Shape{Bands: len(b.bands), Rows: s.Rows, Cols: s.Cols}
}

func (b *bandsNode) dtype() DType { return b.src.dtype() }

func (b *bandsNode) eval(ctx context.Context) (*buffer, error) {
	in, err := b.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(b.shape())
	if in.mask != nil {
		out.ensureMask()
	}
	per := in.shape.Rows * in.shape.Cols
	for bi, src := range b.bands {
		copy(out.values[bi*per:(bi+1)*per], in.values[src*per:(src+1)*per])
		if out.mask != nil {
			copy(out.mask[bi*per:(bi+1)*per], in.mask[src*per:(src+1)*per])
		}
	}
	return out, ctx.Err()
}

// concatNode stacks the bands of several rasters.
type concatNode struct {
	srcs []node
}

func (c *concatNode) shape() Shape {
	s := c.srcs[0].shape()
	bands := 0
	for _, n := range c.srcs {
		bands += n.shape().Bands
	}
	return Shape{Bands: bands, Rows: s.Rows, Cols: s.Cols}
}

func (c *concatNode) dtype() DType {
	dt := c.srcs[0].dtype()
	for _, n := range c.srcs[1:] {
		dt = promote(dt, n.dtype())
	}
	return dt
}

func (c *concatNode) eval(ctx context.Context) (*buffer, error) {
	out := newBuffer(c.shape())
	dt := c.dtype()
	off := 0
	for _, n := range c.srcs {
		in, err := n.eval(ctx)
		if err != nil {
			return nil, err
		}
		for i, v := range in.values {
			out.values[off+i] = castValue(v, dt)
		}
		if in.mask != nil {
			m := out.ensureMask()
			copy(m[off:], in.mask)
		}
		off += len(in.values)
	}
	return out, ctx.Err()
}

// maskNode materializes the null mask itself as a bool raster.
type maskNode struct {
	src node
}

func (m *maskNode) shape() Shape { return m.src.shape() }
func (m *maskNode) dtype() DType { return Bool }

func (m *maskNode) eval(ctx context.Context) (*buffer, error) {
	in, err := m.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(in.shape)
	if in.mask != nil {
		for i, masked := range in.mask {
			if masked {
				out.values[i] = 1
			}
		}
	}
	return out, ctx.Err()
}

// fillNode replaces masked cells with a fill value and clears the mask.
type fillNode struct {
	src  node
	fill float64
}

func (f *fillNode) shape() Shape { return f.src.shape() }

func (f *fillNode) dtype() DType {
	dt := f.src.dtype()
	if dt.IsInt() && f.fill != math.Trunc(f.fill) {
		return Float64
	}
	return dt
}

func (f *fillNode) eval(ctx context.Context) (*buffer, error) {
	in, err := f.src.eval(ctx)
	if err != nil {
		return nil, err
	}
	out := newBuffer(in.shape)
	dt := f.dtype()
	err = forChunks(ctx, len(out.values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if in.masked(i) {
				out.values[i] = castValue(f.fill, dt)
			} else {
				out.values[i] = castValue(in.values[i], dt)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
