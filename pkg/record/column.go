package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Column holds n contiguous rows of a single field.
type Column struct {
	Field FieldSchema
	Data  []byte
}

// NewColumn allocates a zeroed column for rows records of field f.
func NewColumn(f FieldSchema, rows int) *Column {
	return &Column{Field: f, Data: make([]byte, rows*f.RowBytes())}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	rb := c.Field.RowBytes()
	if rb == 0 {
		return 0
	}
	return len(c.Data) / rb
}

// RowBytes returns the raw bytes of row i.
func (c *Column) RowBytes(i int) []byte {
	rb := c.Field.RowBytes()
	return c.Data[i*rb : (i+1)*rb]
}

// Row decodes row i into a typed slice.
func (c *Column) Row(i int) (any, error) {
	return Decode(c.Field, c.RowBytes(i))
}

// Float32s decodes the whole column as float32 values.
func (c *Column) Float32s() []float32 {
	out := make([]float32, len(c.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(c.Data[i*4:]))
	}
	return out
}

// Float64s decodes the whole column as float64 values.
func (c *Column) Float64s() []float64 {
	out := make([]float64, len(c.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(c.Data[i*8:]))
	}
	return out
}

// Int32s decodes the whole column as int32 values.
func (c *Column) Int32s() []int32 {
	out := make([]int32, len(c.Data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(c.Data[i*4:]))
	}
	return out
}

// Int64s decodes the whole column as int64 values.
func (c *Column) Int64s() []int64 {
	out := make([]int64, len(c.Data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(c.Data[i*8:]))
	}
	return out
}

// Uint8s returns a copy of the column as bytes.
func (c *Column) Uint8s() []uint8 {
	return append([]uint8(nil), c.Data...)
}

// AsInt64 decodes an integer column as int64. It returns nil for float
// dtypes.
func (c *Column) AsInt64() []int64 {
	switch c.Field.DType {
	case Int32:
		src := c.Int32s()
		out := make([]int64, len(src))
		for i, v := range src {
			out[i] = int64(v)
		}
		return out
	case Int64:
		return c.Int64s()
	case Uint8:
		out := make([]int64, len(c.Data))
		for i, v := range c.Data {
			out[i] = int64(v)
		}
		return out
	}
	return nil
}

// AsFloat64 decodes the column as float64 regardless of its dtype. Int64
// values beyond 2^53 lose precision; use AsInt64 for integer columns.
func (c *Column) AsFloat64() []float64 {
	switch c.Field.DType {
	case Float32:
		src := c.Float32s()
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out
	case Float64:
		return c.Float64s()
	case Int32:
		src := c.Int32s()
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out
	case Int64:
		src := c.Int64s()
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out
	case Uint8:
		out := make([]float64, len(c.Data))
		for i, v := range c.Data {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}

// Batch is a columnar group of rows returned by a read.
type Batch struct {
	Len     int
	Indices IndexSet
	Columns map[string]*Column
}

// Column returns the named column or nil.
func (b *Batch) Column(name string) *Column {
	return b.Columns[name]
}

// Record reassembles row i of the batch.
func (b *Batch) Record(i int) (Record, error) {
	if i < 0 || i >= b.Len {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, b.Len)
	}
	rec := make(Record, len(b.Columns))
	for name, col := range b.Columns {
		v, err := col.Row(i)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		rec[name] = v
	}
	return rec, nil
}
