package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode writes value into dst using f's element type. dst must be exactly
// f.RowBytes() long. Scalar Go values are accepted for single-element fields.
func Encode(f FieldSchema, value any, dst []byte) error {
	n := f.Elements()
	if len(dst) != f.RowBytes() {
		return fmt.Errorf("destination is %d bytes, want %d", len(dst), f.RowBytes())
	}

	switch f.DType {
	case Float32:
		v, ok := asFloat32s(value)
		if !ok {
			return typeMismatch(f, value)
		}
		if len(v) != n {
			return lengthMismatch(f, len(v))
		}
		for i, x := range v {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(x))
		}
	case Float64:
		v, ok := asFloat64s(value)
		if !ok {
			return typeMismatch(f, value)
		}
		if len(v) != n {
			return lengthMismatch(f, len(v))
		}
		for i, x := range v {
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(x))
		}
	case Int32:
		v, ok := asInt32s(value)
		if !ok {
			return typeMismatch(f, value)
		}
		if len(v) != n {
			return lengthMismatch(f, len(v))
		}
		for i, x := range v {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(x))
		}
	case Int64:
		v, ok := asInt64s(value)
		if !ok {
			return typeMismatch(f, value)
		}
		if len(v) != n {
			return lengthMismatch(f, len(v))
		}
		for i, x := range v {
			binary.LittleEndian.PutUint64(dst[i*8:], uint64(x))
		}
	case Uint8:
		v, ok := asUint8s(value)
		if !ok {
			return typeMismatch(f, value)
		}
		if len(v) != n {
			return lengthMismatch(f, len(v))
		}
		copy(dst, v)
	default:
		return fmt.Errorf("unsupported dtype %q", f.DType)
	}
	return nil
}

// Check validates value against f without encoding it.
func Check(f FieldSchema, value any) error {
	var got int
	var ok bool
	switch f.DType {
	case Float32:
		var v []float32
		v, ok = asFloat32s(value)
		got = len(v)
	case Float64:
		var v []float64
		v, ok = asFloat64s(value)
		got = len(v)
	case Int32:
		var v []int32
		v, ok = asInt32s(value)
		got = len(v)
	case Int64:
		var v []int64
		v, ok = asInt64s(value)
		got = len(v)
	case Uint8:
		var v []uint8
		v, ok = asUint8s(value)
		got = len(v)
	default:
		return fmt.Errorf("unsupported dtype %q", f.DType)
	}
	if !ok {
		return typeMismatch(f, value)
	}
	if got != f.Elements() {
		return lengthMismatch(f, got)
	}
	return nil
}

// Decode converts one encoded row back into a typed slice.
func Decode(f FieldSchema, src []byte) (any, error) {
	if len(src) != f.RowBytes() {
		return nil, fmt.Errorf("source is %d bytes, want %d", len(src), f.RowBytes())
	}
	col := &Column{Field: f, Data: src}
	switch f.DType {
	case Float32:
		return col.Float32s(), nil
	case Float64:
		return col.Float64s(), nil
	case Int32:
		return col.Int32s(), nil
	case Int64:
		return col.Int64s(), nil
	case Uint8:
		return col.Uint8s(), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", f.DType)
	}
}

// Convert coerces loosely typed numbers (as produced by encoding/json) into
// the typed slice f expects.
func Convert(f FieldSchema, value any) (any, error) {
	var nums []float64
	switch v := value.(type) {
	case []any:
		nums = make([]float64, len(v))
		for i, x := range v {
			fx, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("field %q: element %d is %T, want number", f.Name, i, x)
			}
			nums[i] = fx
		}
	case float64:
		nums = []float64{v}
	case bool:
		if v {
			nums = []float64{1}
		} else {
			nums = []float64{0}
		}
	default:
		if err := Check(f, value); err == nil {
			return value, nil
		}
		return nil, fmt.Errorf("field %q: cannot convert %T", f.Name, value)
	}

	switch f.DType {
	case Float32:
		out := make([]float32, len(nums))
		for i, x := range nums {
			out[i] = float32(x)
		}
		return out, nil
	case Float64:
		return nums, nil
	case Int32:
		out := make([]int32, len(nums))
		for i, x := range nums {
			out[i] = int32(x)
		}
		return out, nil
	case Int64:
		out := make([]int64, len(nums))
		for i, x := range nums {
			out[i] = int64(x)
		}
		return out, nil
	case Uint8:
		out := make([]uint8, len(nums))
		for i, x := range nums {
			out[i] = uint8(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported dtype %q", f.DType)
}

func typeMismatch(f FieldSchema, value any) error {
	return fmt.Errorf("value of type %T does not match dtype %s", value, f.DType)
}

func lengthMismatch(f FieldSchema, got int) error {
	return fmt.Errorf("got %d elements, want %d for shape %v", got, f.Elements(), f.Shape)
}

func asFloat32s(v any) ([]float32, bool) {
	switch x := v.(type) {
	case []float32:
		return x, true
	case float32:
		return []float32{x}, true
	}
	return nil, false
}

func asFloat64s(v any) ([]float64, bool) {
	switch x := v.(type) {
	case []float64:
		return x, true
	case float64:
		return []float64{x}, true
	}
	return nil, false
}

func asInt32s(v any) ([]int32, bool) {
	switch x := v.(type) {
	case []int32:
		return x, true
	case int32:
		return []int32{x}, true
	}
	return nil, false
}

func asInt64s(v any) ([]int64, bool) {
	switch x := v.(type) {
	case []int64:
		return x, true
	case int64:
		return []int64{x}, true
	case int:
		return []int64{int64(x)}, true
	}
	return nil, false
}

func asUint8s(v any) ([]uint8, bool) {
	switch x := v.(type) {
	case []uint8:
		return x, true
	case uint8:
		return []uint8{x}, true
	case bool:
		if x {
			return []uint8{1}, true
		}
		return []uint8{0}, true
	}
	return nil, false
}
