package raster

import (
	"context"
	"fmt"
	"math"
)

// constNode broadcasts a scalar over a shape, never masked.
type constNode struct {
	sh Shape
	dt DType
	v  float64
}

func (c *constNode) shape() Shape { return c.sh }
func (c *constNode) dtype() DType { return c.dt }

func (c *constNode) eval(ctx context.Context) (*buffer, error) {
	out := newBuffer(c.sh)
	v := castValue(c.v, c.dt)
	for i := range out.values {
		out.values[i] = v
	}
	return out, ctx.Err()
}

// operandNode turns a binary operand into a graph node. Scalars are
// broadcast with a constant node; rasters must align with the receiver.
func (r *Raster) operandNode(other any) (node, DType, error) {
	switch o := other.(type) {
	case *Raster:
		if os, rs := o.Shape(), r.Shape(); os != rs {
			return nil, 0, fmt.Errorf("operand shape %s does not align with %s", os, rs)
		}
		return o.node, o.DType(), nil
	default:
		v, dt, err := scalarOperand(other)
		if err != nil {
			return nil, 0, err
		}
		return &constNode{sh: r.Shape(), dt: dt, v: v}, dt, nil
	}
}

func scalarOperand(v any) (float64, DType, error) {
	switch s := v.(type) {
	case int:
		return float64(s), Int64, nil
	case int32:
		return float64(s), Int32, nil
	case int64:
		return float64(s), Int64, nil
	case float32:
		return float64(s), Float32, nil
	case float64:
		return s, Float64, nil
	case bool:
		if s {
			return 1, Bool, nil
		}
		return 0, Bool, nil
	}
	return 0, 0, fmt.Errorf("operand must be a raster or numeric scalar, got %T", v)
}

// binary builds an elementwise binary op against a raster or scalar
// operand. reflected swaps the operand order (scalar op raster).
func (r *Raster) binary(other any, dt func(a, b DType) DType, fn func(a, b float64) float64, reflected bool) (*Raster, error) {
	apply := fn
	if reflected {
		apply = func(a, b float64) float64 { return fn(b, a) }
	}
	if o, ok := other.(*Raster); ok {
		if os, rs := o.Shape(), r.Shape(); os != rs {
			return nil, fmt.Errorf("operand shape %s does not align with %s", os, rs)
		}
		return r.withNode(&binaryNode{left: r.node, right: o.node, dt: dt(r.DType(), o.DType()), fn: apply}), nil
	}
	v, sdt, err := scalarOperand(other)
	if err != nil {
		return nil, err
	}
	return r.withNode(&unaryNode{
		src: r.node,
		dt:  dt(r.DType(), sdt),
		fn:  func(a float64) float64 { return apply(a, v) },
	}), nil
}

func promoteDT(a, b DType) DType { return promote(a, b) }

func floatDT(a, b DType) DType {
	if promote(a, b) == Float32 {
		return Float32
	}
	return Float64
}

func boolDT(a, b DType) DType { return Bool }

// Add returns self + other.
func (r *Raster) Add(other any) (*Raster, error) {
	return r.binary(other, promoteDT, func(a, b float64) float64 { return a + b }, false)
}

// Subtract returns self - other.
func (r *Raster) Subtract(other any) (*Raster, error) {
	return r.binary(other, promoteDT, func(a, b float64) float64 { return a - b }, false)
}

// RSub returns other - self, the reflected form for scalar leads.
func (r *Raster) RSub(other any) (*Raster, error) {
	return r.binary(other, promoteDT, func(a, b float64) float64 { return a - b }, true)
}

// Multiply returns self * other.
func (r *Raster) Multiply(other any) (*Raster, error) {
	return r.binary(other, promoteDT, func(a, b float64) float64 { return a * b }, false)
}

// Divide returns self / other as true division; the result is always
// float typed.
func (r *Raster) Divide(other any) (*Raster, error) {
	return r.binary(other, floatDT, func(a, b float64) float64 { return a / b }, false)
}

// RDiv returns other / self.
func (r *Raster) RDiv(other any) (*Raster, error) {
	return r.binary(other, floatDT, func(a, b float64) float64 { return a / b }, true)
}

// Mod returns self % other with the sign of the divisor (Python
// semantics, which the original engine inherits from numpy).
func (r *Raster) Mod(other any) (*Raster, error) {
	return r.binary(other, promoteDT, pymod, false)
}

// RMod returns other % self.
func (r *Raster) RMod(other any) (*Raster, error) {
	return r.binary(other, promoteDT, pymod, true)
}

// Pow returns self ** other; the result is float typed.
func (r *Raster) Pow(other any) (*Raster, error) {
	return r.binary(other, floatDT, math.Pow, false)
}

// RPow returns other ** self.
func (r *Raster) RPow(other any) (*Raster, error) {
	return r.binary(other, floatDT, math.Pow, true)
}

func pymod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// Negate returns -self. Unsigned rasters promote to int64 so the sign
// survives.
func (r *Raster) Negate() *Raster {
	dt := r.DType()
	if dt >= UInt8 && dt <= UInt64 {
		dt = Int64
	}
	return r.withNode(&unaryNode{src: r.node, dt: dt, fn: func(a float64) float64 { return -a }})
}

// Abs returns |self|.
func (r *Raster) Abs() *Raster {
	return r.withNode(&unaryNode{src: r.node, dt: r.DType(), fn: math.Abs})
}

// Sqrt returns the elementwise square root as a float raster.
func (r *Raster) Sqrt() *Raster {
	return r.unaryFloat(math.Sqrt)
}

// Log returns the elementwise natural log as a float raster.
func (r *Raster) Log() *Raster {
	return r.unaryFloat(math.Log)
}

// Log10 returns the elementwise base-10 log as a float raster.
func (r *Raster) Log10() *Raster {
	return r.unaryFloat(math.Log10)
}

// Round returns the elementwise rounded raster, dtype preserved.
func (r *Raster) Round() *Raster {
	return r.withNode(&unaryNode{src: r.node, dt: r.DType(), fn: math.Round})
}

func (r *Raster) unaryFloat(fn func(float64) float64) *Raster {
	dt := Float64
	if r.DType() == Float32 {
		dt = Float32
	}
	return r.withNode(&unaryNode{src: r.node, dt: dt, fn: fn})
}

// Eq returns self == other as a bool raster.
func (r *Raster) Eq(other any) (*Raster, error) {
	return r.compare(other, func(a, b float64) bool { return a == b })
}

// Ne returns self != other as a bool raster.
func (r *Raster) Ne(other any) (*Raster, error) {
	return r.compare(other, func(a, b float64) bool { return a != b })
}

// Lt returns self < other as a bool raster.
func (r *Raster) Lt(other any) (*Raster, error) {
	return r.compare(other, func(a, b float64) bool { return a < b })
}

// Le returns self <= other as a bool raster.
func (r *Raster) Le(other any) (*Raster, error) {
	return r.compare(other, func(a, b float64) bool { return a <= b })
}

// Gt returns self > other as a bool raster.
func (r *Raster) Gt(other any) (*Raster, error) {
	return r.compare(other, func(a, b float64) bool { return a > b })
}

// Ge returns self >= other as a bool raster.
func (r *Raster) Ge(other any) (*Raster, error) {
	return r.compare(other, func(a, b float64) bool { return a >= b })
}

func (r *Raster) compare(other any, cmp func(a, b float64) bool) (*Raster, error) {
	out, err := r.binary(other, boolDT, func(a, b float64) float64 {
		if cmp(a, b) {
			return 1
		}
		return 0
	}, false)
	if err != nil {
		return nil, err
	}
	out.null = nil
	return out, nil
}

// And combines self and other as booleans. The default mode "gt0"
// treats values greater than zero as true; "cast" uses plain nonzero
// truthiness.
func (r *Raster) And(other any, how ...string) (*Raster, error) {
	truth, err := truthFn(how)
	if err != nil {
		return nil, err
	}
	return r.logical(other, truth, func(a, b bool) bool { return a && b })
}

// Or combines self and other as booleans; see And for modes.
func (r *Raster) Or(other any, how ...string) (*Raster, error) {
	truth, err := truthFn(how)
	if err != nil {
		return nil, err
	}
	return r.logical(other, truth, func(a, b bool) bool { return a || b })
}

func truthFn(how []string) (func(float64) bool, error) {
	mode := "gt0"
	if len(how) > 0 {
		mode = how[0]
	}
	switch mode {
	case "gt0":
		return func(v float64) bool { return v > 0 }, nil
	case "cast":
		return func(v float64) bool { return v != 0 }, nil
	}
	return nil, fmt.Errorf(`unknown logical mode %q: must be "gt0" or "cast"`, mode)
}

func (r *Raster) logical(other any, truth func(float64) bool, op func(a, b bool) bool) (*Raster, error) {
	out, err := r.binary(other, boolDT, func(a, b float64) float64 {
		if op(truth(a), truth(b)) {
			return 1
		}
		return 0
	}, false)
	if err != nil {
		return nil, err
	}
	out.null = nil
	return out, nil
}

// Invert returns the bitwise complement: logical not for bool rasters,
// ^v for integers. Float rasters cannot be inverted.
func (r *Raster) Invert() (*Raster, error) {
	dt := r.DType()
	switch {
	case dt == Bool:
		return r.withNode(&unaryNode{src: r.node, dt: Bool, fn: func(a float64) float64 {
			if a != 0 {
				return 0
			}
			return 1
		}}), nil
	case dt >= UInt8 && dt <= UInt64:
		// The complement wraps inside the dtype's width: ~v == max - v.
		_, hi := dtypeRange(dt)
		return r.withNode(&unaryNode{src: r.node, dt: dt, fn: func(a float64) float64 {
			return hi - a
		}}), nil
	case dt.IsInt():
		return r.withNode(&unaryNode{src: r.node, dt: dt, fn: func(a float64) float64 {
			return float64(^int64(a))
		}}), nil
	}
	return nil, fmt.Errorf("invert is not supported for %s rasters", dt)
}
