package encoder

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/record"
	"github.com/jittakal/diskreplay/pkg/replay"
)

var takenAt = time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

// testBatch builds rows [from, from+n) of a float32 vector field and a
// uint8 scalar field. Row r holds obs=[r, r+0.5] and done=r%2.
func testBatch(t *testing.T, schema record.Schema, from, n int) *record.Batch {
	t.Helper()

	obsField, _ := schema.Field("obs")
	doneField, _ := schema.Field("done")
	obs := record.NewColumn(obsField, n)
	done := record.NewColumn(doneField, n)
	for i := 0; i < n; i++ {
		r := from + i
		if err := record.Encode(obsField, []float32{float32(r), float32(r) + 0.5}, obs.RowBytes(i)); err != nil {
			t.Fatalf("Encode(obs) error = %v", err)
		}
		if err := record.Encode(doneField, []uint8{uint8(r % 2)}, done.RowBytes(i)); err != nil {
			t.Fatalf("Encode(done) error = %v", err)
		}
	}
	return &record.Batch{
		Len:     n,
		Columns: map[string]*record.Column{"obs": obs, "done": done},
	}
}

func testSchema() record.Schema {
	return record.NewSchema(
		record.FieldSchema{Name: "obs", Shape: []int{2}, DType: record.Float32},
		record.FieldSchema{Name: "done", DType: record.Uint8},
	)
}

// windows serves prepared batches one per Next call.
type windows struct {
	batches []*record.Batch
	err     error
}

func (w *windows) Next(ctx context.Context) (*record.Batch, error) {
	if len(w.batches) == 0 {
		if w.err != nil {
			return nil, w.err
		}
		return nil, io.EOF
	}
	b := w.batches[0]
	w.batches = w.batches[1:]
	return b, nil
}

// testSnapshot builds a three-row snapshot served as one window.
func testSnapshot(t *testing.T) *replay.Snapshot {
	t.Helper()
	schema := testSchema()
	return &replay.Snapshot{
		StoreID:  "store-1",
		Capacity: 10,
		Length:   3,
		Cursor:   3,
		Schema:   schema,
		Rows:     replay.BatchReader(testBatch(t, schema, 0, 3)),
		TakenAt:  takenAt,
	}
}

// windowedSnapshot serves rows [0, 5) as windows of 2, 2 and 1 rows.
func windowedSnapshot(t *testing.T) *replay.Snapshot {
	t.Helper()
	schema := testSchema()
	return &replay.Snapshot{
		StoreID:  "store-1",
		Capacity: 10,
		Length:   5,
		Cursor:   5,
		Schema:   schema,
		Rows: &windows{batches: []*record.Batch{
			testBatch(t, schema, 0, 2),
			testBatch(t, schema, 2, 2),
			testBatch(t, schema, 4, 1),
		}},
		TakenAt: takenAt,
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name        string
		format      encoder.FileFormat
		compression string
	}{
		{"parquet with snappy", encoder.FormatParquet, "snappy"},
		{"parquet with gzip", encoder.FormatParquet, "gzip"},
		{"avro with gzip", encoder.FormatAvro, "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewFactory(tt.format, tt.compression)
			if factory.format != tt.format {
				t.Errorf("format = %v, want %v", factory.format, tt.format)
			}
			if factory.compression != tt.compression {
				t.Errorf("compression = %v, want %v", factory.compression, tt.compression)
			}
		})
	}
}

func TestFactory_CreateEncoder(t *testing.T) {
	tests := []struct {
		name    string
		format  encoder.FileFormat
		wantExt string
		wantErr bool
	}{
		{"parquet format", encoder.FormatParquet, ".parquet", false},
		{"avro format", encoder.FormatAvro, ".avro", false},
		{"unsupported format", encoder.FileFormat("invalid"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewFactory(tt.format, "snappy").CreateEncoder()
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateEncoder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if enc.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", enc.Format(), tt.format)
			}
			if enc.FileExtension() != tt.wantExt {
				t.Errorf("FileExtension() = %v, want %v", enc.FileExtension(), tt.wantExt)
			}
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()

	hasParquet := false
	hasAvro := false
	for _, f := range formats {
		if f == encoder.FormatParquet {
			hasParquet = true
		}
		if f == encoder.FormatAvro {
			hasAvro = true
		}
	}

	if !hasParquet {
		t.Error("expected parquet format in supported formats")
	}
	if !hasAvro {
		t.Error("expected avro format in supported formats")
	}
}

func TestSupportedCompressions(t *testing.T) {
	tests := []struct {
		name   string
		format encoder.FileFormat
		want   int
	}{
		{"parquet compressions", encoder.FormatParquet, 5},
		{"avro compressions", encoder.FormatAvro, 4},
		{"invalid format", encoder.FileFormat("invalid"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SupportedCompressions(tt.format); len(got) != tt.want {
				t.Errorf("SupportedCompressions() = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestDefaultCompression(t *testing.T) {
	tests := []struct {
		format encoder.FileFormat
		want   string
	}{
		{encoder.FormatParquet, "snappy"},
		{encoder.FormatAvro, "gzip"},
		{encoder.FileFormat("invalid"), "uncompressed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := DefaultCompression(tt.format); got != tt.want {
				t.Errorf("DefaultCompression() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	schema := testSchema()
	rows, err := Flatten(schema, testBatch(t, schema, 0, 3), 10)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}

	want := []Row{
		{Row: 10, Field: "done", Ints: []int64{0}},
		{Row: 10, Field: "obs", Values: []float64{0, 0.5}},
		{Row: 11, Field: "done", Ints: []int64{1}},
		{Row: 11, Field: "obs", Values: []float64{1, 1.5}},
		{Row: 12, Field: "done", Ints: []int64{0}},
		{Row: 12, Field: "obs", Values: []float64{2, 2.5}},
	}
	if len(rows) != len(want) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(want))
	}
	for i := range want {
		if rows[i].Row != want[i].Row || rows[i].Field != want[i].Field {
			t.Errorf("rows[%d] = %d/%s, want %d/%s", i, rows[i].Row, rows[i].Field, want[i].Row, want[i].Field)
		}
		if len(rows[i].Values) != len(want[i].Values) || len(rows[i].Ints) != len(want[i].Ints) {
			t.Fatalf("rows[%d] = %+v, want %+v", i, rows[i], want[i])
		}
		for j := range want[i].Values {
			if rows[i].Values[j] != want[i].Values[j] {
				t.Errorf("rows[%d].Values = %v, want %v", i, rows[i].Values, want[i].Values)
			}
		}
		for j := range want[i].Ints {
			if rows[i].Ints[j] != want[i].Ints[j] {
				t.Errorf("rows[%d].Ints = %v, want %v", i, rows[i].Ints, want[i].Ints)
			}
		}
	}
}

func TestFlatten_Errors(t *testing.T) {
	schema := testSchema()
	missing := testBatch(t, schema, 0, 3)
	delete(missing.Columns, "obs")

	short := testBatch(t, schema, 0, 3)
	short.Len = 4

	tests := []struct {
		name  string
		batch *record.Batch
	}{
		{"nil batch", nil},
		{"missing column", missing},
		{"length mismatch", short},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Flatten(schema, tt.batch, 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEachWindow(t *testing.T) {
	var offsets []int64
	storeRows, records, err := eachWindow(context.Background(), windowedSnapshot(t), func(rows []Row) error {
		offsets = append(offsets, rows[0].Row)
		return nil
	})
	if err != nil {
		t.Fatalf("eachWindow() error = %v", err)
	}
	if storeRows != 5 || records != 10 {
		t.Errorf("eachWindow() = %d/%d, want 5/10", storeRows, records)
	}
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 2 || offsets[2] != 4 {
		t.Errorf("window offsets = %v, want [0 2 4]", offsets)
	}
}

func TestEachWindow_Errors(t *testing.T) {
	readErr := stderrors.New("store closed")
	failing := windowedSnapshot(t)
	failing.Rows = &windows{err: readErr}

	tests := []struct {
		name string
		snap *replay.Snapshot
		is   error
	}{
		{"nil snapshot", nil, nil},
		{"no rows", &replay.Snapshot{}, nil},
		{"empty reader", &replay.Snapshot{Schema: testSchema(), Rows: &windows{}}, nil},
		{"read failure", failing, readErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := eachWindow(context.Background(), tt.snap, func([]Row) error { return nil })
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !stderrors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
		})
	}
}
