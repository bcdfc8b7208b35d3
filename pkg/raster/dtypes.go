package raster

import (
	"fmt"
	"math"
	"strings"
)

// DType is the logical element type of a raster. Values are held in
// float64 buffers during evaluation; the dtype controls casting, the
// default null value and what lands on disk.
type DType int

const (
	Bool DType = iota
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Bool:    "bool",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	UInt8:   "uint8",
	UInt16:  "uint16",
	UInt32:  "uint32",
	UInt64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

// Numpy style short codes, accepted alongside the full names.
var dtypeCodes = map[string]DType{
	"b1": Bool,
	"i1": Int8,
	"i2": Int16,
	"i4": Int32,
	"i8": Int64,
	"u1": UInt8,
	"u2": UInt16,
	"u4": UInt32,
	"u8": UInt64,
	"f4": Float32,
	"f8": Float64,
	// Bare width aliases
	"int":   Int64,
	"uint":  UInt64,
	"float": Float64,
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// IsFloat reports whether the dtype is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsInt reports whether the dtype is a signed or unsigned integer type.
func (d DType) IsInt() bool {
	return d >= Int8 && d <= UInt64
}

// ParseDType resolves a dtype from a name or short code, case
// insensitive. Unknown inputs are an error.
func ParseDType(s string) (DType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d, name := range dtypeNames {
		if key == name {
			return d, nil
		}
	}
	if d, ok := dtypeCodes[key]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown dtype: %q", s)
}

// coerceDType accepts a DType, a string name/code, or anything with a
// String method producing one.
func coerceDType(v any) (DType, error) {
	switch t := v.(type) {
	case DType:
		if _, ok := dtypeNames[t]; !ok {
			return 0, fmt.Errorf("unknown dtype: %v", t)
		}
		return t, nil
	case string:
		return ParseDType(t)
	default:
		return 0, fmt.Errorf("cannot interpret %T as a dtype", v)
	}
}

// DefaultNullValue returns the conventional null sentinel for a dtype:
// NaN for floats, none for integer and bool rasters.
func DefaultNullValue(d DType) *float64 {
	if d.IsFloat() {
		nan := math.NaN()
		return &nan
	}
	return nil
}

// castValue converts a raw float64 to the domain of the dtype. Integer
// casts truncate toward zero and clamp to the representable range, the
// same behavior a C cast chain gives.
func castValue(v float64, d DType) float64 {
	switch d {
	case Bool:
		if v != 0 && !math.IsNaN(v) {
			return 1
		}
		return 0
	case Float32:
		return float64(float32(v))
	case Float64:
		return v
	}
	if math.IsNaN(v) {
		return 0
	}
	t := math.Trunc(v)
	lo, hi := dtypeRange(d)
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}

func dtypeRange(d DType) (lo, hi float64) {
	switch d {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Int64:
		return math.MinInt64, math.MaxInt64
	case UInt8:
		return 0, math.MaxUint8
	case UInt16:
		return 0, math.MaxUint16
	case UInt32:
		return 0, math.MaxUint32
	case UInt64:
		return 0, math.MaxUint64
	}
	return math.Inf(-1), math.Inf(1)
}

// promote picks the result dtype of a binary arithmetic op. Floats
// dominate, bool widens to the other operand, and integer pairs keep
// the wider operand. Mixed signedness promotes to a signed type wide
// enough for the unsigned operand, capped at int64.
func promote(a, b DType) DType {
	if a == Float64 || b == Float64 {
		return Float64
	}
	if a == Float32 || b == Float32 {
		return Float32
	}
	if a == b {
		return a
	}
	if a == Bool {
		return b
	}
	if b == Bool {
		return a
	}
	aw, asigned := intWidth(a)
	bw, bsigned := intWidth(b)
	if asigned == bsigned {
		if aw >= bw {
			return a
		}
		return b
	}
	sw, uw := aw, bw
	if bsigned {
		sw, uw = bw, aw
	}
	return signedOfWidth(max(sw, 2*uw))
}

func intWidth(d DType) (bytes int, signed bool) {
	switch d {
	case Int8:
		return 1, true
	case Int16:
		return 2, true
	case Int32:
		return 4, true
	case UInt8:
		return 1, false
	case UInt16:
		return 2, false
	case UInt32:
		return 4, false
	case UInt64:
		return 8, false
	}
	return 8, true
}

func signedOfWidth(bytes int) DType {
	switch {
	case bytes <= 1:
		return Int8
	case bytes <= 2:
		return Int16
	case bytes <= 4:
		return Int32
	}
	return Int64
}
