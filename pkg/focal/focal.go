// Package focal computes moving window statistics and convolutions
// over rasters. Kernels run row parallel, null cells are excluded from
// windows, and raster metadata carries through untouched.
package focal

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"gridkit/pkg/raster"
)

// Stats supported by Focal.
var focalStats = map[string]bool{
	"max":    true,
	"min":    true,
	"mean":   true,
	"median": true,
	"mode":   true,
	"sum":    true,
	"std":    true,
	"var":    true,
}

// Focal computes a moving window statistic with a square window of odd
// width. Null cells are skipped; windows with no valid cells stay null.
func Focal(ctx context.Context, r *raster.Raster, stat string, width int) (*raster.Raster, error) {
	if !focalStats[stat] {
		return nil, fmt.Errorf("unknown focal stat %q", stat)
	}
	if width < 1 || width%2 == 0 {
		return nil, fmt.Errorf("window width must be a positive odd number, got %d", width)
	}

	values, mask, s, err := materialize(ctx, r)
	if err != nil {
		return nil, err
	}

	half := width / 2
	out := make([]float64, s.Size())
	per := s.Rows * s.Cols

	parallelRows(s.Bands*s.Rows, func(lo, hi int) {
		window := make([]float64, 0, width*width)
		for br := lo; br < hi; br++ {
			band, row := br/s.Rows, br%s.Rows
			for col := 0; col < s.Cols; col++ {
				window = window[:0]
				for wr := row - half; wr <= row+half; wr++ {
					if wr < 0 || wr >= s.Rows {
						continue
					}
					for wc := col - half; wc <= col+half; wc++ {
						if wc < 0 || wc >= s.Cols {
							continue
						}
						i := band*per + wr*s.Cols + wc
						if mask != nil && mask[i] {
							continue
						}
						window = append(window, values[i])
					}
				}
				dst := band*per + row*s.Cols + col
				if len(window) == 0 {
					out[dst] = math.NaN()
					continue
				}
				out[dst] = applyStat(stat, window)
			}
		}
	})

	dt := raster.Float64
	switch stat {
	case "max", "min", "mode":
		// Value preserving stats keep the input dtype when no NaN fill
		// can appear (unmasked input means every window has cells).
		if !r.Masked() {
			dt = r.DType()
		}
	}
	res, err := raster.New(out, s, dt)
	if err != nil {
		return nil, err
	}
	return carryMeta(res, r), nil
}

// Convolve applies a 2-D kernel to every band. The kernel is flipped
// (true convolution). Null cells contribute zero and the output stays
// null wherever the input was null.
func Convolve(ctx context.Context, r *raster.Raster, kernel [][]float64) (*raster.Raster, error) {
	kr := len(kernel)
	if kr == 0 || len(kernel[0]) == 0 {
		return nil, fmt.Errorf("empty kernel")
	}
	kc := len(kernel[0])
	for _, krow := range kernel {
		if len(krow) != kc {
			return nil, fmt.Errorf("ragged kernel: all rows must have %d values", kc)
		}
	}

	values, mask, s, err := materialize(ctx, r)
	if err != nil {
		return nil, err
	}

	out := make([]float64, s.Size())
	per := s.Rows * s.Cols
	cr, cc := kr/2, kc/2

	parallelRows(s.Bands*s.Rows, func(lo, hi int) {
		for br := lo; br < hi; br++ {
			band, row := br/s.Rows, br%s.Rows
			for col := 0; col < s.Cols; col++ {
				dst := band*per + row*s.Cols + col
				if mask != nil && mask[dst] {
					out[dst] = math.NaN()
					continue
				}
				acc := 0.0
				for i := 0; i < kr; i++ {
					sr := row + cr - i
					if sr < 0 || sr >= s.Rows {
						continue
					}
					for j := 0; j < kc; j++ {
						sc := col + cc - j
						if sc < 0 || sc >= s.Cols {
							continue
						}
						src := band*per + sr*s.Cols + sc
						if mask != nil && mask[src] {
							continue
						}
						acc += kernel[i][j] * values[src]
					}
				}
				out[dst] = acc
			}
		}
	})

	res, err := raster.New(out, s, raster.Float64)
	if err != nil {
		return nil, err
	}
	return carryMeta(res, r), nil
}

func materialize(ctx context.Context, r *raster.Raster) ([]float64, []bool, raster.Shape, error) {
	values, err := r.Values(ctx)
	if err != nil {
		return nil, nil, raster.Shape{}, err
	}
	mask, err := r.Mask(ctx)
	if err != nil {
		return nil, nil, raster.Shape{}, err
	}
	return values, mask, r.Shape(), nil
}

func carryMeta(res, src *raster.Raster) *raster.Raster {
	if src.CRS() != "" {
		res = res.SetCRS(src.CRS())
	}
	res = res.SetAffine(src.Affine())
	if src.NullValue() != nil && !math.IsNaN(*src.NullValue()) {
		res = res.SetNullValue(src.NullValue())
	}
	for k, v := range src.Attrs() {
		res.SetAttr(k, v)
	}
	return res
}

func applyStat(stat string, window []float64) float64 {
	switch stat {
	case "max":
		m := window[0]
		for _, v := range window[1:] {
			m = math.Max(m, v)
		}
		return m
	case "min":
		m := window[0]
		for _, v := range window[1:] {
			m = math.Min(m, v)
		}
		return m
	case "sum":
		acc := 0.0
		for _, v := range window {
			acc += v
		}
		return acc
	case "mean":
		acc := 0.0
		for _, v := range window {
			acc += v
		}
		return acc / float64(len(window))
	case "median":
		sort.Float64s(window)
		n := len(window)
		if n%2 == 1 {
			return window[n/2]
		}
		return (window[n/2-1] + window[n/2]) / 2
	case "mode":
		sort.Float64s(window)
		best, bestCount := window[0], 1
		cur, count := window[0], 1
		for _, v := range window[1:] {
			if v == cur {
				count++
			} else {
				cur, count = v, 1
			}
			if count > bestCount {
				best, bestCount = cur, count
			}
		}
		return best
	case "var", "std":
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(len(window))
		acc := 0.0
		for _, v := range window {
			d := v - mean
			acc += d * d
		}
		variance := acc / float64(len(window))
		if stat == "std" {
			return math.Sqrt(variance)
		}
		return variance
	}
	return math.NaN()
}

// parallelRows splits [0, n) row indices across workers.
func parallelRows(n int, fn func(lo, hi int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
