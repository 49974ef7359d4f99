package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jittakal/diskreplay/pkg/record"
	"github.com/jittakal/diskreplay/pkg/replay"
)

// Row is one field of one store row, in long form. Float fields fill
// Values and integer fields fill Ints.
type Row struct {
	Row    int64
	Field  string
	Values []float64
	Ints   []int64
}

// Flatten converts one window of a snapshot into long-form rows ordered by
// store row, then by field name. offset is the store row of the window's
// first row.
func Flatten(schema record.Schema, batch *record.Batch, offset int) ([]Row, error) {
	if batch == nil {
		return nil, fmt.Errorf("snapshot window has no data")
	}

	fields := schema.Fields
	floats := make([][]float64, len(fields))
	ints := make([][]int64, len(fields))
	for i, f := range fields {
		col := batch.Column(f.Name)
		if col == nil {
			return nil, fmt.Errorf("snapshot is missing field %q", f.Name)
		}
		n := 0
		if f.DType.Integer() {
			ints[i] = col.AsInt64()
			n = len(ints[i])
		} else {
			floats[i] = col.AsFloat64()
			n = len(floats[i])
		}
		if want := batch.Len * f.Elements(); n != want {
			return nil, fmt.Errorf("field %q: %d values, want %d", f.Name, n, want)
		}
	}

	rows := make([]Row, 0, batch.Len*len(fields))
	for r := 0; r < batch.Len; r++ {
		for i, f := range fields {
			n := f.Elements()
			row := Row{Row: int64(offset + r), Field: f.Name}
			if ints[i] != nil {
				row.Ints = ints[i][r*n : (r+1)*n]
			} else {
				row.Values = floats[i][r*n : (r+1)*n]
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// eachWindow reads snap window by window and hands each flattened window
// to fn. It returns the store rows and long-form rows seen.
func eachWindow(ctx context.Context, snap *replay.Snapshot, fn func([]Row) error) (storeRows, records int, err error) {
	if snap == nil || snap.Rows == nil {
		return 0, 0, fmt.Errorf("snapshot has no data")
	}

	for {
		batch, err := snap.Rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return storeRows, records, fmt.Errorf("failed to read snapshot rows: %w", err)
		}
		rows, err := Flatten(snap.Schema, batch, storeRows)
		if err != nil {
			return storeRows, records, err
		}
		if len(rows) > 0 {
			if err := fn(rows); err != nil {
				return storeRows, records, err
			}
		}
		storeRows += batch.Len
		records += len(rows)
	}

	if storeRows == 0 {
		return 0, 0, fmt.Errorf("no records to encode")
	}
	return storeRows, records, nil
}

func dtypes(schema record.Schema) map[string]string {
	out := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		out[f.Name] = string(f.DType)
	}
	return out
}
