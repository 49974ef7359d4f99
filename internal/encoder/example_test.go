package encoder_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jittakal/diskreplay/internal/encoder"
	pkgencoder "github.com/jittakal/diskreplay/pkg/encoder"
	"github.com/jittakal/diskreplay/pkg/record"
	"github.com/jittakal/diskreplay/pkg/replay"
)

func exampleSnapshot() *replay.Snapshot {
	schema := record.NewSchema(record.FieldSchema{Name: "reward", DType: record.Float32})
	field, _ := schema.Field("reward")

	col := record.NewColumn(field, 2)
	_ = record.Encode(field, []float32{1}, col.RowBytes(0))
	_ = record.Encode(field, []float32{-1}, col.RowBytes(1))

	return &replay.Snapshot{
		StoreID:  "example",
		Capacity: 2,
		Length:   2,
		Schema:   schema,
		Rows:     replay.BatchReader(&record.Batch{Len: 2, Columns: map[string]*record.Column{"reward": col}}),
		TakenAt:  time.Now(),
	}
}

func Example_parquetEncoder() {
	enc := encoder.NewParquetEncoder("snappy")

	dir, err := os.MkdirTemp("", "encoder-example")
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer os.RemoveAll(dir)

	stats, err := enc.Encode(context.Background(), filepath.Join(dir, "snapshot"+enc.FileExtension()), exampleSnapshot())
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Printf("Encoded %d store rows as %d records\n", stats.StoreRows, stats.RecordCount)
	// Output: Encoded 2 store rows as 2 records
}

func Example_factory() {
	factory := encoder.NewFactory(pkgencoder.FormatAvro, "gzip")
	enc, err := factory.CreateEncoder()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Println(enc.Format(), enc.FileExtension())
	// Output: avro .avro.gz
}
