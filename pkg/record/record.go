// Package record defines the fixed-shape record model shared by the store,
// the write path and the read path.
//
// A Schema lists named fields, each with a per-record shape and an element
// type. Records are written row by row; reads return columnar Batches where
// every field's rows are one contiguous little-endian block.
package record

import (
	"fmt"
	"sort"
	"strings"
)

// DType is the element type of a field.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
)

// Size returns the width of one element in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8:
		return 1
	default:
		return 0
	}
}

// Integer reports whether d holds integers.
func (d DType) Integer() bool {
	return d == Int32 || d == Int64 || d == Uint8
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// ParseDType converts a configuration string into a DType.
func ParseDType(s string) (DType, error) {
	d := DType(strings.ToLower(strings.TrimSpace(s)))
	if d == "" {
		return Float32, nil
	}
	if !d.Valid() {
		return "", fmt.Errorf("unsupported dtype: %q", s)
	}
	return d, nil
}

// FieldSchema describes one named field. Shape excludes the record axis; an
// empty shape is a scalar.
type FieldSchema struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType DType  `json:"dtype"`
}

// Elements returns the number of elements in one record of this field.
func (f FieldSchema) Elements() int {
	n := 1
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

// RowBytes returns the encoded size of one record of this field.
func (f FieldSchema) RowBytes() int {
	return f.Elements() * f.DType.Size()
}

// Equal reports whether two field schemas describe the same layout.
func (f FieldSchema) Equal(o FieldSchema) bool {
	if f.Name != o.Name || f.DType != o.DType || len(f.Shape) != len(o.Shape) {
		return false
	}
	for i := range f.Shape {
		if f.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

func (f FieldSchema) String() string {
	dims := make([]string, len(f.Shape))
	for i, d := range f.Shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s(%s)%s", f.Name, strings.Join(dims, ","), f.DType)
}

// Schema is the full, ordered set of fields of a store.
type Schema struct {
	Fields []FieldSchema `json:"fields"`
}

// NewSchema returns a schema with fields in canonical (name-sorted) order.
// Shapes are copied so later mutation by the caller has no effect.
func NewSchema(fields ...FieldSchema) Schema {
	out := make([]FieldSchema, len(fields))
	for i, f := range fields {
		out[i] = FieldSchema{
			Name:  f.Name,
			Shape: append([]int(nil), f.Shape...),
			DType: f.DType,
		}
		if out[i].DType == "" {
			out[i].DType = Float32
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Schema{Fields: out}
}

// Validate checks names are unique and non-empty, dimensions positive and
// dtypes supported.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name is required")
		}
		if strings.ContainsAny(f.Name, `/\`) {
			return fmt.Errorf("field %q: name must not contain path separators", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.DType.Valid() {
			return fmt.Errorf("field %q: unsupported dtype %q", f.Name, f.DType)
		}
		for _, d := range f.Shape {
			if d <= 0 {
				return fmt.Errorf("field %q: dimension %d must be positive", f.Name, d)
			}
		}
	}
	return nil
}

// Field looks up a field by name.
func (s Schema) Field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Names returns field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// RowBytes returns the encoded size of one full record.
func (s Schema) RowBytes() int {
	n := 0
	for _, f := range s.Fields {
		n += f.RowBytes()
	}
	return n
}

// Equal reports whether two schemas have identical fields in identical order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if !s.Fields[i].Equal(o.Fields[i]) {
			return false
		}
	}
	return true
}

// Record maps a field name to its value. Values are typed slices matching
// the field's DType ([]float32, []float64, []int32, []int64, []uint8) with
// exactly FieldSchema.Elements() entries.
type Record map[string]any

// Placement describes the row range a written batch occupies.
type Placement struct {
	Start   int
	Count   int
	Wrapped bool // cursor was reset to zero because the tail was too short
}

// End returns the exclusive end row of the placement.
func (p Placement) End() int {
	return p.Start + p.Count
}

// IndexSet is an ascending sequence of unique row indices.
type IndexSet []int

// TransitionSchema returns the classic (state, action, reward, next_state,
// done) layout used for reinforcement learning replay, with float32 values
// throughout.
func TransitionSchema(stateShape ...int) Schema {
	return NewSchema(
		FieldSchema{Name: "state", Shape: stateShape, DType: Float32},
		FieldSchema{Name: "action", Shape: []int{1}, DType: Float32},
		FieldSchema{Name: "reward", Shape: []int{1}, DType: Float32},
		FieldSchema{Name: "next_state", Shape: stateShape, DType: Float32},
		FieldSchema{Name: "done", Shape: []int{1}, DType: Float32},
	)
}
