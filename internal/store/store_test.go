package store

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/record"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func xSchema() record.Schema {
	return record.NewSchema(record.FieldSchema{Name: "x", Shape: []int{4}, DType: record.Float32})
}

func xRecord(v float32) record.Record {
	return record.Record{"x": []float32{v, v, v, v}}
}

func xRecords(from, n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = xRecord(float32(from + i))
	}
	return out
}

func newStore(t *testing.T, capacity int, useMmap bool) *CircularStore {
	t.Helper()
	opts := DefaultOptions()
	opts.UseMmap = useMmap
	s, err := New(filepath.Join(t.TempDir(), "replay"), capacity, opts, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Initialize(xSchema()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// firstValues returns the first element of each x row in the batch.
func firstValues(t *testing.T, b *record.Batch) []float32 {
	t.Helper()
	col := b.Column("x")
	if col == nil {
		t.Fatal("batch has no x column")
	}
	all := col.Float32s()
	out := make([]float32, b.Len)
	for i := range out {
		out[i] = all[i*4]
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		dir      string
		capacity int
		wantErr  bool
	}{
		{name: "valid", dir: "/tmp/replay", capacity: 10},
		{name: "empty dir", dir: "", capacity: 10, wantErr: true},
		{name: "zero capacity", dir: "/tmp/replay", capacity: 0, wantErr: true},
		{name: "negative capacity", dir: "/tmp/replay", capacity: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.dir, tt.capacity, DefaultOptions(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s.Ready() {
				t.Error("new store should not be ready before Initialize")
			}
		})
	}
}

func TestPlace(t *testing.T) {
	tests := []struct {
		name     string
		cursor   int
		b        int
		capacity int
		want     record.Placement
	}{
		{"fits at start", 0, 4, 10, record.Placement{Start: 0, Count: 4}},
		{"fits in middle", 3, 4, 10, record.Placement{Start: 3, Count: 4}},
		{"fits exactly at end", 6, 4, 10, record.Placement{Start: 6, Count: 4}},
		{"too long for tail", 7, 4, 10, record.Placement{Start: 0, Count: 4, Wrapped: true}},
		{"full capacity", 0, 10, 10, record.Placement{Start: 0, Count: 10}},
		{"full capacity from middle", 1, 10, 10, record.Placement{Start: 0, Count: 10, Wrapped: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := place(tt.cursor, tt.b, tt.capacity); got != tt.want {
				t.Errorf("place() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWriteBatch_LengthAndOrder(t *testing.T) {
	for _, useMmap := range []bool{true, false} {
		name := "file"
		if useMmap {
			name = "mmap"
		}
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 20, useMmap)

			next := 0
			for _, n := range []int{3, 5, 2} {
				if _, err := s.WriteBatch(xRecords(next, n)); err != nil {
					t.Fatalf("WriteBatch() error = %v", err)
				}
				next += n
			}

			if s.Length() != 10 {
				t.Fatalf("Length() = %d, want 10", s.Length())
			}
			if s.Cursor() != 10 {
				t.Errorf("Cursor() = %d, want 10", s.Cursor())
			}

			b, err := s.ReadRange(0, s.Length())
			if err != nil {
				t.Fatalf("ReadRange() error = %v", err)
			}
			for i, v := range firstValues(t, b) {
				if v != float32(i) {
					t.Errorf("row %d = %v, want %v", i, v, i)
				}
			}
		})
	}
}

func TestWriteBatch_Saturation(t *testing.T) {
	s := newStore(t, 10, true)

	wantCursor := []int{3, 6, 9, 3, 6, 9, 3}
	wantLength := []int{3, 6, 9, 10, 10, 10, 10}

	for i := range wantCursor {
		p, err := s.WriteBatch(xRecords(i*3, 3))
		if err != nil {
			t.Fatalf("batch %d: WriteBatch() error = %v", i, err)
		}
		if s.Cursor() != wantCursor[i] {
			t.Errorf("batch %d: Cursor() = %d, want %d", i, s.Cursor(), wantCursor[i])
		}
		if s.Length() != wantLength[i] {
			t.Errorf("batch %d: Length() = %d, want %d", i, s.Length(), wantLength[i])
		}
		if s.Length() > s.Capacity() {
			t.Fatalf("Length() %d exceeds capacity %d", s.Length(), s.Capacity())
		}
		if i == 3 && !p.Wrapped {
			t.Errorf("batch %d should have wrapped", i)
		}
	}
}

func TestWriteBatch_ExactFillCollapsesCursor(t *testing.T) {
	s := newStore(t, 10, true)

	p, err := s.WriteBatch(xRecords(0, 10))
	if err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	if p.Wrapped {
		t.Error("full-capacity batch at cursor 0 should not wrap")
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor() = %d, want 0", s.Cursor())
	}
	if s.Length() != 10 {
		t.Errorf("Length() = %d, want 10", s.Length())
	}
}

func TestWriteBatch_WraparoundLeavesTail(t *testing.T) {
	s := newStore(t, 10, true)

	if _, err := s.WriteBatch(xRecords(0, 8)); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	p, err := s.WriteBatch(xRecords(100, 4))
	if err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	if !p.Wrapped || p.Start != 0 {
		t.Fatalf("placement = %+v, want wrapped at 0", p)
	}
	if s.Length() != 10 {
		t.Fatalf("Length() = %d, want 10", s.Length())
	}

	b, err := s.ReadRange(0, 10)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	want := []float32{100, 101, 102, 103, 4, 5, 6, 7, 0, 0}
	for i, v := range firstValues(t, b) {
		if v != want[i] {
			t.Errorf("row %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestWriteBatch_RangeErrors(t *testing.T) {
	s := newStore(t, 5, true)

	tests := []struct {
		name    string
		records []record.Record
	}{
		{"empty batch", nil},
		{"larger than capacity", xRecords(0, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.WriteBatch(tt.records)
			if !errors.IsRange(err) {
				t.Fatalf("WriteBatch() error = %v, want RangeError", err)
			}
			if s.Length() != 0 || s.Cursor() != 0 {
				t.Errorf("state changed: length=%d cursor=%d", s.Length(), s.Cursor())
			}
		})
	}
}

func TestWriteBatch_SchemaError(t *testing.T) {
	s := newStore(t, 5, true)

	bad := []record.Record{
		xRecord(1),
		{"x": []float32{1, 2}},
	}
	_, err := s.WriteBatch(bad)
	if !errors.IsSchema(err) {
		t.Fatalf("WriteBatch() error = %v, want SchemaError", err)
	}
	if s.Length() != 0 {
		t.Errorf("Length() = %d, want 0", s.Length())
	}
}

func TestWriteBatch_IOError(t *testing.T) {
	s := newStore(t, 5, false)

	if _, err := s.WriteBatch(xRecords(0, 2)); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	// Pull the file out from under the column.
	s.columns[0].file.Close()

	_, err := s.WriteBatch(xRecords(2, 2))
	if !errors.IsIO(err) {
		t.Fatalf("WriteBatch() error = %v, want IOError", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("write IOError should be retryable")
	}
	if s.Length() != 2 || s.Cursor() != 2 {
		t.Errorf("state changed after failed write: length=%d cursor=%d", s.Length(), s.Cursor())
	}

	if _, err := s.ReadIndices([]int{0}); !errors.IsIO(err) {
		t.Errorf("ReadIndices() error = %v, want IOError", err)
	}
}

func TestReadIndices_RangeError(t *testing.T) {
	s := newStore(t, 10, true)
	if _, err := s.WriteBatch(xRecords(0, 4)); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	tests := []struct {
		name    string
		indices []int
	}{
		{"equal to length", []int{0, 4}},
		{"negative", []int{-1}},
		{"beyond capacity", []int{12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ReadIndices(tt.indices); !errors.IsRange(err) {
				t.Errorf("ReadIndices() error = %v, want RangeError", err)
			}
		})
	}
}

func TestReadIndices_InputOrderAndIdempotence(t *testing.T) {
	for _, useMmap := range []bool{true, false} {
		s := newStore(t, 10, useMmap)
		if _, err := s.WriteBatch(xRecords(0, 8)); err != nil {
			t.Fatalf("WriteBatch() error = %v", err)
		}

		indices := []int{5, 1, 2, 3, 7}
		first, err := s.ReadIndices(indices)
		if err != nil {
			t.Fatalf("ReadIndices() error = %v", err)
		}
		second, err := s.ReadIndices(indices)
		if err != nil {
			t.Fatalf("ReadIndices() error = %v", err)
		}

		got := firstValues(t, first)
		for i, idx := range indices {
			if got[i] != float32(idx) {
				t.Errorf("mmap=%v row %d = %v, want %v", useMmap, i, got[i], idx)
			}
		}
		if string(first.Column("x").Data) != string(second.Column("x").Data) {
			t.Errorf("mmap=%v repeated reads differ", useMmap)
		}
		if first.Len != len(indices) || len(first.Indices) != len(indices) {
			t.Errorf("batch len = %d, indices = %v", first.Len, first.Indices)
		}
	}
}

func TestMultipleFieldsRoundTrip(t *testing.T) {
	schema := record.NewSchema(
		record.FieldSchema{Name: "obs", Shape: []int{2, 2}, DType: record.Float64},
		record.FieldSchema{Name: "action", DType: record.Int64},
		record.FieldSchema{Name: "done", DType: record.Uint8},
	)
	s, err := New(filepath.Join(t.TempDir(), "multi"), 4, DefaultOptions(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	if err := s.Initialize(schema); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	in := []record.Record{
		{"obs": []float64{1, 2, 3, 4}, "action": int64(7), "done": false},
		{"obs": []float64{5, 6, 7, 8}, "action": int64(-2), "done": true},
	}
	if _, err := s.WriteBatch(in); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	b, err := s.ReadIndices([]int{1})
	if err != nil {
		t.Fatalf("ReadIndices() error = %v", err)
	}
	rec, err := b.Record(0)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	obs := rec["obs"].([]float64)
	if len(obs) != 4 || obs[0] != 5 || obs[3] != 8 {
		t.Errorf("obs = %v", obs)
	}
	if a := rec["action"].([]int64); a[0] != -2 {
		t.Errorf("action = %v", a)
	}
	if d := rec["done"].([]uint8); d[0] != 1 {
		t.Errorf("done = %v", d)
	}
}

func TestOpen_RestoresState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replay")

	s, err := New(dir, 10, DefaultOptions(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Initialize(xSchema()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, err := s.WriteBatch(xRecords(0, 6)); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	if _, err := s.WriteBatch(xRecords(6, 6)); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	id := s.ID()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(dir, 10, Options{UseMmap: false}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer reopened.Close()
	if err := reopened.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if reopened.ID() != id {
		t.Errorf("ID() = %q, want %q", reopened.ID(), id)
	}
	if reopened.Length() != 10 || reopened.Cursor() != 6 {
		t.Errorf("length=%d cursor=%d, want 10 and 6", reopened.Length(), reopened.Cursor())
	}
	if !reopened.Schema().Equal(xSchema()) {
		t.Errorf("Schema() = %v", reopened.Schema())
	}

	b, err := reopened.ReadIndices([]int{0, 5, 6})
	if err != nil {
		t.Fatalf("ReadIndices() error = %v", err)
	}
	want := []float32{6, 11, 0}
	for i, v := range firstValues(t, b) {
		if v != want[i] {
			t.Errorf("row %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		s, _ := New(t.TempDir(), 10, DefaultOptions(), testLogger())
		if err := s.Open(); !stderrors.Is(err, errors.ErrNotInitialized) {
			t.Errorf("Open() error = %v, want ErrNotInitialized", err)
		}
	})

	t.Run("capacity mismatch", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "replay")
		s, _ := New(dir, 10, DefaultOptions(), testLogger())
		if err := s.Initialize(xSchema()); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		s.Close()

		other, _ := New(dir, 20, DefaultOptions(), testLogger())
		err := other.Open()
		if !errors.IsSchema(err) || !stderrors.Is(err, errors.ErrStoreIncompatible) {
			t.Errorf("Open() error = %v, want incompatible SchemaError", err)
		}
	})

	t.Run("truncated column", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "replay")
		s, _ := New(dir, 10, DefaultOptions(), testLogger())
		if err := s.Initialize(xSchema()); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		s.Close()

		if err := os.Truncate(columnPath(dir, "x"), 3); err != nil {
			t.Fatal(err)
		}
		other, _ := New(dir, 10, DefaultOptions(), testLogger())
		if err := other.Open(); !errors.IsSchema(err) {
			t.Errorf("Open() error = %v, want SchemaError", err)
		}
	})
}

func TestInitialize_IncompatibleTargets(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{
			name: "path is a file",
			setup: func(t *testing.T, dir string) {
				if err := os.WriteFile(dir, []byte("data"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "non-empty directory without manifest",
			setup: func(t *testing.T, dir string) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "corrupt manifest",
			setup: func(t *testing.T, dir string) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(manifestPath(dir), []byte("{not json"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "foreign format",
			setup: func(t *testing.T, dir string) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					t.Fatal(err)
				}
				body := []byte(`{"format":"other/v9","capacity":10,"fields":[{"name":"x","shape":[4],"dtype":"float32"}]}`)
				if err := os.WriteFile(manifestPath(dir), body, 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "replay")
			tt.setup(t, dir)

			s, err := New(dir, 10, DefaultOptions(), testLogger())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := s.Initialize(xSchema()); !errors.IsSchema(err) {
				t.Errorf("Initialize() error = %v, want SchemaError", err)
			}
		})
	}
}

func TestInitialize_InvalidSchema(t *testing.T) {
	s, _ := New(filepath.Join(t.TempDir(), "replay"), 10, DefaultOptions(), testLogger())
	err := s.Initialize(record.Schema{})
	if !errors.IsSchema(err) {
		t.Errorf("Initialize() error = %v, want SchemaError", err)
	}
}

func TestInitialize_ReinitializeTruncates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replay")
	s, _ := New(dir, 10, DefaultOptions(), testLogger())
	defer s.Close()

	if err := s.Initialize(xSchema()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, err := s.WriteBatch(xRecords(0, 5)); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	firstID := s.ID()

	next := record.NewSchema(record.FieldSchema{Name: "y", Shape: []int{2}, DType: record.Int32})
	if err := s.Initialize(next); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}

	if s.Length() != 0 || s.Cursor() != 0 {
		t.Errorf("length=%d cursor=%d after reinitialize", s.Length(), s.Cursor())
	}
	if s.ID() == firstID {
		t.Error("reinitialized store should get a new id")
	}
	if _, err := os.Stat(columnPath(dir, "x")); !os.IsNotExist(err) {
		t.Errorf("stale column still present: %v", err)
	}
	if _, err := s.WriteBatch([]record.Record{{"y": []int32{1, 2}}}); err != nil {
		t.Errorf("WriteBatch() with new schema error = %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := newStore(t, 5, true)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := s.WriteBatch(xRecords(0, 1)); !stderrors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("WriteBatch() error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.ReadIndices([]int{0}); !stderrors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("ReadIndices() error = %v, want ErrStoreClosed", err)
	}
	if s.Ready() {
		t.Error("closed store should not be ready")
	}
}

func TestNotInitialized(t *testing.T) {
	s, _ := New(t.TempDir(), 5, DefaultOptions(), testLogger())
	if _, err := s.WriteBatch(xRecords(0, 1)); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("WriteBatch() error = %v, want ErrNotInitialized", err)
	}
	if _, err := s.ReadIndices(nil); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("ReadIndices() error = %v, want ErrNotInitialized", err)
	}
}

func TestRefresh(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replay")
	for _, useMmap := range []bool{true, false} {
		opts := DefaultOptions()
		opts.UseMmap = useMmap

		a, _ := New(dir, 10, opts, testLogger())
		if err := a.Initialize(xSchema()); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		b, _ := New(dir, 10, opts, testLogger())
		if err := b.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		if _, err := a.WriteBatch(xRecords(0, 4)); err != nil {
			t.Fatalf("WriteBatch() error = %v", err)
		}
		if b.Length() != 0 {
			t.Errorf("mmap=%v: Length() before Refresh = %d, want 0", useMmap, b.Length())
		}
		if err := b.Refresh(); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if b.Length() != 4 || b.Cursor() != 4 {
			t.Errorf("mmap=%v: after Refresh length=%d cursor=%d, want 4/4", useMmap, b.Length(), b.Cursor())
		}

		p, err := b.WriteBatch(xRecords(100, 2))
		if err != nil {
			t.Fatalf("WriteBatch() error = %v", err)
		}
		if p.Start != 4 {
			t.Errorf("mmap=%v: second writer started at %d, want 4", useMmap, p.Start)
		}
		if err := a.Refresh(); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		batch, err := a.ReadIndices([]int{0, 3, 4, 5})
		if err != nil {
			t.Fatalf("ReadIndices() error = %v", err)
		}
		if got := firstValues(t, batch); got[0] != 0 || got[1] != 3 || got[2] != 100 || got[3] != 101 {
			t.Errorf("mmap=%v: rows = %v, want [0 3 100 101]", useMmap, got)
		}

		a.Close()
		b.Close()
		if err := b.Refresh(); !stderrors.Is(err, errors.ErrStoreClosed) {
			t.Errorf("Refresh() after Close error = %v, want ErrStoreClosed", err)
		}
	}
}

func TestRefresh_NotInitialized(t *testing.T) {
	s, _ := New(t.TempDir(), 5, DefaultOptions(), testLogger())
	if err := s.Refresh(); err != nil {
		t.Errorf("Refresh() on unopened store error = %v", err)
	}
}

func TestReadyDuringClose(t *testing.T) {
	s := newStore(t, 5, true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = s.Ready()
		}
	}()
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	wg.Wait()

	if s.Ready() {
		t.Error("closed store should not be ready")
	}
}
