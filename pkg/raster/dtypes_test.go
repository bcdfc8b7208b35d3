package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDType(t *testing.T) {
	cases := map[string]DType{
		"bool":    Bool,
		"int8":    Int8,
		"INT16":   Int16,
		"Int32":   Int32,
		"int64":   Int64,
		"uint8":   UInt8,
		"float32": Float32,
		"float64": Float64,
		"i1":      Int8,
		"I4":      Int32,
		"u2":      UInt16,
		"F8":      Float64,
		"b1":      Bool,
		"int":     Int64,
		"float":   Float64,
	}
	for in, want := range cases {
		got, err := ParseDType(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDTypeUnknown(t *testing.T) {
	for _, in := range []string{"", "float16", "i3", "complex64"} {
		if _, err := ParseDType(in); err == nil {
			t.Errorf("Expected error for %q, got nil", in)
		}
	}
}

func TestCastValue(t *testing.T) {
	// Truncation toward zero
	assert.Equal(t, 1.0, castValue(1.9, Int32))
	assert.Equal(t, -1.0, castValue(-1.9, Int32))

	// Clamping
	assert.Equal(t, 127.0, castValue(300, Int8))
	assert.Equal(t, -128.0, castValue(-300, Int8))
	assert.Equal(t, 255.0, castValue(300, UInt8))
	assert.Equal(t, 0.0, castValue(-5, UInt8))

	// Bool truthiness
	assert.Equal(t, 1.0, castValue(-3.5, Bool))
	assert.Equal(t, 0.0, castValue(0, Bool))
	assert.Equal(t, 0.0, castValue(math.NaN(), Bool))

	// NaN collapses to zero for integer targets
	assert.Equal(t, 0.0, castValue(math.NaN(), Int16))

	// Floats pass through, float32 loses precision
	assert.True(t, math.IsNaN(castValue(math.NaN(), Float64)))
	assert.Equal(t, float64(float32(0.1)), castValue(0.1, Float32))
}

func TestDefaultNullValue(t *testing.T) {
	for _, dt := range []DType{Float32, Float64} {
		nv := DefaultNullValue(dt)
		if nv == nil || !math.IsNaN(*nv) {
			t.Errorf("Expected NaN null for %s, got %v", dt, nv)
		}
	}
	for _, dt := range []DType{Bool, Int8, Int32, UInt64} {
		if nv := DefaultNullValue(dt); nv != nil {
			t.Errorf("Expected no null for %s, got %v", dt, *nv)
		}
	}
}

func TestPromote(t *testing.T) {
	assert.Equal(t, Float64, promote(Int32, Float64))
	assert.Equal(t, Float32, promote(Int32, Float32))
	assert.Equal(t, Float64, promote(Float32, Float64))
	assert.Equal(t, Int32, promote(Int32, Int32))

	// Bool widens to the other operand.
	assert.Equal(t, Int32, promote(Bool, Int32))
	assert.Equal(t, UInt8, promote(UInt8, Bool))

	// Same-signedness integer pairs keep the wider operand.
	assert.Equal(t, Int32, promote(Int16, Int32))
	assert.Equal(t, Int64, promote(Int64, Int8))
	assert.Equal(t, UInt16, promote(UInt8, UInt16))

	// Mixed signedness widens to a signed type that can hold both.
	assert.Equal(t, Int16, promote(Int16, UInt8))
	assert.Equal(t, Int32, promote(Int8, UInt16))
	assert.Equal(t, Int64, promote(Int32, UInt32))
	assert.Equal(t, Int64, promote(Int8, UInt64))
}
